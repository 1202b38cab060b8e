package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/sutcontext-mcp/internal/index"
)

// Tool names
const (
	ToolIndexDocuments   = "index_documents"
	ToolRetrievePassages = "retrieve_passages"
	ToolGetStatus        = "get_status"
)

// indexDocumentsTool returns the tool definition for index_documents
func indexDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolIndexDocuments,
		Description: "Build a new index generation from page-marked regulation text files (SUT and its EK-4 annexes) and publish it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"documents": map[string]interface{}{
					"type":        "array",
					"description": "Documents to index, in order. The whole corpus is rebuilt on every call.",
					"minItems":    1,
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"path": map[string]interface{}{
								"type":        "string",
								"description": "Path to a UTF-8 text file with '=== Sayfa N ===' page markers",
							},
							"doc_type": map[string]interface{}{
								"type":        "string",
								"description": "Document type such as SUT, EK-4/D or EK-4/E (default SUT)",
							},
						},
						"required": []string{"path"},
					},
				},
			},
			Required: []string{"documents"},
		},
	}
}

// retrievePassagesTool returns the tool definition for retrieve_passages
func retrievePassagesTool() mcp.Tool {
	drug := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Brand or product name",
			},
			"active_ingredient": map[string]interface{}{
				"type":        "string",
				"description": "Active ingredient; used as the exact-match term",
			},
			"form": map[string]interface{}{
				"type":        "string",
				"description": "Dosage form, e.g. tablet",
			},
		},
		"required": []string{"active_ingredient"},
	}

	return mcp.Tool{
		Name:        ToolRetrievePassages,
		Description: "Retrieve the regulation passages relevant to a prescribed drug, its diagnoses and the patient, ranked by hybrid keyword and vector search",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"drug": drug,
				"drugs": map[string]interface{}{
					"type":        "array",
					"description": "Several drugs of one prescription; results are keyed by active ingredient. Takes precedence over drug.",
					"items":       drug,
				},
				"diagnoses": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"description": map[string]interface{}{
								"type": "string",
							},
							"icd10_code": map[string]interface{}{
								"type":        "string",
								"description": "ICD-10 code; UNKNOWN is omitted from the query",
							},
						},
						"required": []string{"description"},
					},
				},
				"patient_age": map[string]interface{}{
					"type":    "integer",
					"minimum": 0,
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of passages per drug (1-100)",
					"minimum":     1,
					"maximum":     100,
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional metadata filters; every given key must match",
					"properties": map[string]interface{}{
						index.FilterID:               map[string]interface{}{"type": "string"},
						index.FilterContent:          map[string]interface{}{"type": "string"},
						index.FilterSection:          map[string]interface{}{"type": "string"},
						index.FilterTopic:            map[string]interface{}{"type": "string"},
						index.FilterDocType:          map[string]interface{}{"type": "string"},
						index.FilterDocSource:        map[string]interface{}{"type": "string"},
						index.FilterSubjectRelated:   map[string]interface{}{"type": "boolean"},
						index.FilterHasConditions:    map[string]interface{}{"type": "boolean"},
						index.FilterStartRef:         map[string]interface{}{"type": "integer"},
						index.FilterEndRef:           map[string]interface{}{"type": "integer"},
						index.FilterActiveIngredient: map[string]interface{}{"type": "string", "description": "Chunk must list this active ingredient"},
						index.FilterKeyword:          map[string]interface{}{"type": "string", "description": "Chunk must carry this keyword"},
					},
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetStatus,
		Description: "Report the published index generation, embedding cache and build state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
