// Package retriever ranks regulatory passages for a drug query.
//
// Each retrieval combines two signals over the published index:
//
//   - exact hits from the active-ingredient term index, scored 1.0 x 5.0
//   - vector similarity hits, fetched at twice the requested count
//
// A similarity hit that is also an exact hit is rescored as
// 0.8*exact + 0.2*similarity. Other similarity hits whose content contains
// the subject term (case-insensitive) score similarity x 2.0 and are marked
// partial; the rest score similarity x 1.0 and are marked semantic. The
// merged list is stable-sorted by score, so equal scores keep the order
// exact hits first (by index position), then similarity hits by rank.
//
// # Basic Usage
//
//	r := retriever.New(handle, embedder.VectorFunc(provider),
//	    retriever.WithCache(cache),
//	    retriever.WithLogger(log))
//
//	resp, err := r.RetrieveForQuery(ctx, types.Query{
//	    Drug:      types.Drug{ActiveIngredient: "ezetimib", Form: "tablet"},
//	    Diagnoses: []types.Diagnosis{{Description: "Hiperlipidemi", ICD10Code: "E78.0"}},
//	}, 5, nil)
//
// Retrieve and RetrieveFiltered take a precomputed query vector.
// RetrieveMany runs one retrieval per drug concurrently against a single
// index generation and reports stage timings summed over drugs.
package retriever
