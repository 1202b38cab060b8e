// Package mcp implements the Model Context Protocol (MCP) server for sutcontext.
//
// The server exposes three tools over stdio:
//   - index_documents: chunk, embed and index regulation text files, then
//     publish the new index generation
//   - retrieve_passages: rank passages for a prescribed drug, its diagnoses
//     and the patient
//   - get_status: report the published generation, embedding cache and
//     build state
//
// # Tool: retrieve_passages
//
//	Request:
//	{
//	  "name": "retrieve_passages",
//	  "arguments": {
//	    "drug": {"name": "Ezetrol", "active_ingredient": "ezetimib", "form": "tablet"},
//	    "diagnoses": [{"description": "Hiperlipidemi", "icd10_code": "E78.5"}],
//	    "patient_age": 58,
//	    "top_k": 5,
//	    "filters": {"doc_type": "SUT"}
//	  }
//	}
//
//	Response:
//	{
//	  "subject": "ezetimib",
//	  "query": "İlaç: ezetimib | Form: tablet | Tanı: Hiperlipidemi | ICD-10: E78.5 | Hasta yaşı: 58 | ...",
//	  "chunks": [
//	    {"chunk_id": "sut_chunk_0412", "rank": 1, "score": 4.19, "match_type": "exact", ...}
//	  ],
//	  "timings_ms": {"embedding": 212.4, "vector_search": 3.1, ...}
//	}
//
// Passing "drugs" instead of "drug" retrieves once per active ingredient
// and returns the rankings keyed by ingredient.
//
// # Error Handling
//
// Handlers return *MCPError values carrying a JSON-RPC code:
//   - -32602: invalid params
//   - -32603: internal error
//   - -32001: document file not found
//   - -32002: index build in progress
//   - -32003: no index published
//   - -32004: no active ingredient given
//   - -32005: embedding provider failure
//
// The server logs to stderr; stdout is reserved for the protocol.
package mcp
