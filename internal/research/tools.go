package research

import (
	"context"
	"fmt"

	"github.com/oogalieboogalie/ThinkSpace/internal/tools"
)

// RegisterTools adds the orchestration tools to the main registry.
// The registry passed here is the same one branches are filtered from,
// so sub-agents can never recurse into deep_research themselves.
func RegisterTools(reg *tools.Registry, o *Orchestrator, dir *Directory) {
	reg.Register(&tools.Tool{
		Name:        "deep_research",
		Description: "Research a topic in depth: plan sub-questions, investigate them in parallel with web search, and return a synthesized report.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "The topic to research",
				},
				"branches": map[string]any{
					"type":        "integer",
					"description": "Number of parallel sub-questions (default 3, max 6)",
				},
			},
			"required": []string{"topic"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			topic, _ := args["topic"].(string)
			branches := 0
			if n, ok := args["branches"].(float64); ok {
				branches = int(n)
			}
			report, err := o.Run(ctx, topic, branches)
			if err != nil {
				return "", err
			}
			return tools.SuccessEnvelope(map[string]any{"report": report}), nil
		},
	})

	reg.Register(&tools.Tool{
		Name:        "start_debate",
		Description: "Run a structured two-sided debate on a topic and return the transcript with a consensus summary.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "The proposition to debate",
				},
				"rounds": map[string]any{
					"type":        "integer",
					"description": "Exchanges per side (default 2, max 4)",
				},
			},
			"required": []string{"topic"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			topic, _ := args["topic"].(string)
			rounds := 0
			if n, ok := args["rounds"].(float64); ok {
				rounds = int(n)
			}
			transcript, err := o.Debate(ctx, topic, rounds)
			if err != nil {
				return "", err
			}
			return tools.SuccessEnvelope(map[string]any{"transcript": transcript}), nil
		},
	})

	reg.Register(&tools.Tool{
		Name:        "list_registered_agents",
		Description: "List the externally registered agents available to consult or invoke.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			agents := dir.List()
			return tools.SuccessEnvelope(map[string]any{
				"agents": agents,
				"count":  len(agents),
			}), nil
		},
	})

	reg.Register(&tools.Tool{
		Name:        "consult_agent",
		Description: "Ask a registered agent a single question and return its answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent": map[string]any{
					"type":        "string",
					"description": "Name of the registered agent",
				},
				"question": map[string]any{
					"type":        "string",
					"description": "The question to ask",
				},
			},
			"required": []string{"agent", "question"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := args["agent"].(string)
			question, _ := args["question"].(string)
			if name == "" || question == "" {
				return "", fmt.Errorf("agent and question are required")
			}
			answer, err := dir.Consult(ctx, name, question)
			if err != nil {
				return "", err
			}
			return tools.SuccessEnvelope(map[string]any{
				"agent":  name,
				"answer": answer,
			}), nil
		},
	})

	reg.Register(&tools.Tool{
		Name:        "invoke_agent",
		Description: "Delegate a task to a registered agent that can use web search and fetch while working on it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent": map[string]any{
					"type":        "string",
					"description": "Name of the registered agent",
				},
				"task": map[string]any{
					"type":        "string",
					"description": "The task to delegate",
				},
			},
			"required": []string{"agent", "task"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := args["agent"].(string)
			task, _ := args["task"].(string)
			if name == "" || task == "" {
				return "", fmt.Errorf("agent and task are required")
			}
			result, err := dir.Invoke(ctx, reg, name, task)
			if err != nil {
				return "", err
			}
			return tools.SuccessEnvelope(map[string]any{
				"agent":           name,
				"result":          result.Content,
				"tool_calls_made": result.ToolCallsMade,
			}), nil
		},
	})
}
