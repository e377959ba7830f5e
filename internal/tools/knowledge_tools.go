package tools

import (
	"context"
	"fmt"

	"github.com/oogalieboogalie/ThinkSpace/internal/knowledge"
)

// RegisterKnowledge registers save_memory and search_knowledge over the
// semantic store. Admission is the store's job; the tools just surface
// the outcome (including rejection) to the model.
func RegisterKnowledge(reg *Registry, store *knowledge.Store) {
	reg.Register(&Tool{
		Name:        "save_memory",
		Description: "Save a piece of information to long-term memory. Content is scored first; low-value content is rejected.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The information to remember",
				},
				"node_type": map[string]any{
					"type":        "string",
					"description": "One of FACT, CONCEPT, MEMORY, LEARNING, INSIGHT",
				},
				"importance": map[string]any{
					"type":        "number",
					"description": "Caller-asserted importance from 0 to 1",
				},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return "", fmt.Errorf("content is required")
			}
			nodeType, _ := args["node_type"].(string)
			importance, ok := args["importance"].(float64)
			if !ok {
				importance = 0.5
			}

			result, err := store.Save(ctx, content, nodeType, importance)
			if err != nil {
				return "", err
			}
			return SuccessEnvelope(map[string]any{
				"stored":   result.Stored,
				"decision": result.Decision.String(),
				"score":    result.Score,
				"message":  result.Message,
			}), nil
		},
	})

	reg.Register(&Tool{
		Name:        "search_knowledge",
		Description: "Search long-term memory for information related to a query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results (default 5)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			limit := 5
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}

			matches, err := store.Search(ctx, query, limit)
			if err != nil {
				return "", err
			}
			return SuccessEnvelope(map[string]any{
				"matches": matches,
				"count":   len(matches),
			}), nil
		},
	})
}
