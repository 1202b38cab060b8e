// Package index provides the in-memory vector index used for passage
// retrieval.
//
// An Index holds one fixed-dimension vector per chunk together with the
// chunk's content and metadata, an id to position map, and a term index from
// lowercased active ingredient to record positions. Search is exhaustive
// squared-L2 over every record (IndexType "FlatL2") with
// similarity = 1/(1+d).
//
// # Building
//
//	idx, err := index.New(index.Config{Dimension: 1536})
//	if err != nil {
//	    return err
//	}
//	if err := idx.Add(records); err != nil {
//	    return err // ErrDimensionMismatch, ErrDuplicateID
//	}
//	if err := idx.Save(ctx, storage.DefaultPaths(dir)); err != nil {
//	    return err
//	}
//
// # Searching
//
//	hits, err := idx.Search(queryVector, 5, index.Filters{"doc_type": "SUT"})
//	positions := idx.LookupByTerm("ezetimib")
//
// Filtered searches take the nearest topK*OverfetchMultiplier candidates,
// filter them, and return at most topK. A filtered search can therefore
// return fewer than topK results even when more matching records exist.
//
// # Publishing
//
// Indexes are immutable once published. A rebuild creates a new Index and
// swaps it into a Handle:
//
//	h := index.NewHandle(nil)
//	h.Publish(idx)
//	current := h.Current()
package index
