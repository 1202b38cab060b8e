// Package types provides shared type definitions for the sutcontext MCP server.
//
// Chunk is a passage of a regulatory document (SUT or one of its EK-4
// annexes) together with the metadata derived from its content:
//
//	chunk := &types.Chunk{
//	    ID:      "sut_chunk_0007",
//	    Content: passage,
//	    Metadata: types.ChunkMetadata{
//	        Section:           "4.2.28.A",
//	        ActiveIngredients: []string{"ezetimib"},
//	    },
//	}
//
// RetrievedChunk is a chunk returned by the hybrid retriever, ranked and
// tagged with how it matched (exact, partial or semantic).
//
// Query holds the structured prescription facts (drug, diagnoses, patient)
// a retrieval is made for. Query.Text renders them into the string that is
// embedded for similarity search.
package types
