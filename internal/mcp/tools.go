package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/index"
	"github.com/dshills/sutcontext-mcp/internal/indexer"
	"github.com/dshills/sutcontext-mcp/internal/retriever"
	"github.com/dshills/sutcontext-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeDocumentNotFound   = -32001 // A document file does not exist
	ErrorCodeIndexingInProgress = -32002 // Another build is already running
	ErrorCodeNotIndexed         = -32003 // No index generation is published
	ErrorCodeEmptyQuery         = -32004 // No active ingredient to retrieve for
	ErrorCodeEmbeddingFailed    = -32005 // The embedding provider failed
)

// MaxTopK bounds the top_k argument of retrieve_passages.
const MaxTopK = 100

// handleIndexDocuments handles the index_documents tool invocation
func (s *Server) handleIndexDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	rawDocs, ok := args["documents"].([]interface{})
	if !ok || len(rawDocs) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "documents parameter is required", map[string]interface{}{
			"param":  "documents",
			"reason": "missing or empty",
		})
	}

	docs := make([]indexer.Document, 0, len(rawDocs))
	for i, raw := range rawDocs {
		entry, _ := raw.(map[string]interface{})
		path := strings.TrimSpace(getStringDefault(entry, "path", ""))
		if path == "" {
			return nil, newMCPError(ErrorCodeInvalidParams, "document path is required", map[string]interface{}{
				"param":  fmt.Sprintf("documents[%d].path", i),
				"reason": "missing or empty",
			})
		}

		doc, err := indexer.LoadDocument(path, getStringDefault(entry, "doc_type", ""))
		if err != nil {
			return nil, documentError(i, err)
		}
		docs = append(docs, doc)
	}

	stats, err := s.indexer.BuildAndSave(ctx, docs, s.paths, s.handle)
	if err != nil {
		return nil, toMCPError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":      true,
		"generation":   stats.Index.Generation,
		"documents":    stats.Documents,
		"chunks":       stats.Chunks,
		"per_document": stats.PerDocument,
		"terms":        stats.Index.Terms,
		"dimension":    stats.Index.Dimension,
		"duration_ms":  stats.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func documentError(i int, err error) error {
	data := map[string]interface{}{
		"param":  fmt.Sprintf("documents[%d].path", i),
		"reason": err.Error(),
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return newMCPError(ErrorCodeDocumentNotFound, "document not found", data)
	case errors.Is(err, indexer.ErrEmptyDocument):
		return newMCPError(ErrorCodeInvalidParams, "document is empty", data)
	default:
		return newMCPError(ErrorCodeInternalError, "failed to read document", data)
	}
}

// retrieveParams is the decoded argument object of retrieve_passages.
type retrieveParams struct {
	Drug       *types.Drug       `json:"drug"`
	Drugs      []types.Drug      `json:"drugs"`
	Diagnoses  []types.Diagnosis `json:"diagnoses"`
	PatientAge int               `json:"patient_age"`
	TopK       *int              `json:"top_k"`
	Filters    index.Filters     `json:"filters"`
}

// handleRetrievePassages handles the retrieve_passages tool invocation
func (s *Server) handleRetrievePassages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	var params retrieveParams
	if err := decodeArgs(args, &params); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	topK := 0
	if params.TopK != nil {
		topK = *params.TopK
		if topK < 1 || topK > MaxTopK {
			return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
				"param": "top_k",
				"value": topK,
			})
		}
	}

	base := types.Query{Diagnoses: params.Diagnoses}
	if params.PatientAge > 0 {
		base.Patient = &types.Patient{Age: params.PatientAge}
	}

	if len(params.Drugs) > 0 {
		multi, err := s.retriever.RetrieveMany(ctx, params.Drugs, base, topK, params.Filters)
		if err != nil {
			return nil, toMCPError("retrieval failed", err)
		}
		response := map[string]interface{}{
			"results":         multi.Results,
			"timings_ms":      multi.Timings.Milliseconds(),
			"avg_per_drug_ms": float64(multi.PerDrug.Microseconds()) / 1000,
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	if params.Drug == nil {
		return nil, newMCPError(ErrorCodeEmptyQuery, "drug or drugs parameter is required", map[string]interface{}{
			"param":  "drug",
			"reason": "missing",
		})
	}

	base.Drug = *params.Drug
	resp, err := s.retriever.RetrieveForQuery(ctx, base, topK, params.Filters)
	if err != nil {
		return nil, toMCPError("retrieval failed", err)
	}

	response := map[string]interface{}{
		"subject":    resp.Subject,
		"query":      resp.Query,
		"chunks":     resp.Chunks,
		"timings_ms": resp.Timings.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx := s.handle.Current()

	response := map[string]interface{}{
		"server": map[string]interface{}{
			"name":    ServerName,
			"version": ServerVersion,
		},
		"indexed":           idx != nil,
		"index_dir":         s.indexDir,
		"build_in_progress": s.indexer.Lock().Held(),
		"embedder": map[string]interface{}{
			"provider":  s.embedder.Provider(),
			"model":     s.embedder.Model(),
			"dimension": s.embedder.Dimension(),
		},
		"cache": map[string]interface{}{
			"entries": s.cache.Size(),
			"dir":     s.cache.Dir(),
		},
	}
	if idx != nil {
		response["index"] = idx.Stats()
	} else {
		response["message"] = "No index published. Use index_documents to build one."
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// toMCPError maps a component error onto an MCP error code.
func toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}

	switch {
	case errors.Is(err, indexer.ErrBuildInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "index build already in progress", data)
	case errors.Is(err, retriever.ErrNoIndex), errors.Is(err, index.ErrIndexUnavailable):
		return newMCPError(ErrorCodeNotIndexed, "no index available; run index_documents first", data)
	case errors.Is(err, retriever.ErrEmptySubject):
		return newMCPError(ErrorCodeEmptyQuery, "active_ingredient is required and cannot be empty", data)
	case errors.Is(err, index.ErrInvalidTopK):
		return newMCPError(ErrorCodeInvalidParams, "invalid top_k", data)
	case errors.Is(err, embedder.ErrNoProviderEnabled), errors.Is(err, embedder.ErrProviderFailed):
		return newMCPError(ErrorCodeEmbeddingFailed, "embedding failed", data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// decodeArgs converts a tool argument object into a typed struct.
func decodeArgs(args map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
