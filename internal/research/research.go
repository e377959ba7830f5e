// Package research implements multi-agent orchestration: parallel
// deep-research branches, structured debates, and delegation to
// externally registered agents.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/oogalieboogalie/ThinkSpace/internal/agent"
	"github.com/oogalieboogalie/ThinkSpace/internal/events"
	"github.com/oogalieboogalie/ThinkSpace/internal/prompts"
	"github.com/oogalieboogalie/ThinkSpace/internal/tools"
)

const (
	// DefaultBranches is the sub-question count when the caller does
	// not specify one.
	DefaultBranches = 3
	// MaxBranches caps fan-out regardless of the request.
	MaxBranches = 6
	// branchIterationCap bounds each branch's tool loop; branches do
	// focused lookups, not open-ended conversations.
	branchIterationCap = 8
)

// branchTools is the tool subset handed to research branches.
var branchTools = []string{"web_search", "web_fetch"}

// Orchestrator runs deep research: plan sub-questions, investigate them
// in parallel, and synthesize one report.
type Orchestrator struct {
	client   agent.LLM
	registry *tools.Registry
	bus      *events.Bus
	logger   *slog.Logger
}

// NewOrchestrator creates a research orchestrator sharing the main tool
// registry; branches only ever see the search/fetch subset.
func NewOrchestrator(client agent.LLM, registry *tools.Registry, bus *events.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{client: client, registry: registry, bus: bus, logger: logger}
}

func (o *Orchestrator) step(researchID, stepType, description string, details map[string]any) {
	data := map[string]any{
		"research_id": researchID,
		"step_type":   stepType,
		"description": description,
	}
	for k, v := range details {
		data[k] = v
	}
	o.bus.Publish(events.Event{
		Source: events.SourceResearch,
		Kind:   events.KindResearchStep,
		Data:   data,
	})
}

// Run executes a full deep-research pass and returns the synthesized
// report in markdown.
func (o *Orchestrator) Run(ctx context.Context, topic string, branches int) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("research topic is required")
	}
	if branches <= 0 {
		branches = DefaultBranches
	}
	if branches > MaxBranches {
		branches = MaxBranches
	}

	researchID := uuid.NewString()
	o.step(researchID, "planning", "breaking the topic into sub-questions", map[string]any{"topic": topic})

	questions, err := o.plan(ctx, topic, branches)
	if err != nil {
		o.logger.Warn("planning failed, single branch fallback", "error", err)
		questions = []string{topic}
	}

	o.step(researchID, "searching", "investigating sub-questions in parallel", map[string]any{
		"questions": questions,
	})

	findings := o.fanOut(ctx, researchID, questions)

	o.step(researchID, "synthesizing", "merging branch findings", nil)
	report, err := o.synthesize(ctx, topic, questions, findings)
	if err != nil {
		return "", fmt.Errorf("synthesize findings: %w", err)
	}

	o.logger.Info("research complete",
		"research_id", researchID,
		"branches", len(questions),
	)
	return report, nil
}

// plan asks the model for focused sub-questions. The reply must be a
// JSON string array; anything else falls back to the caller.
func (o *Orchestrator) plan(ctx context.Context, topic string, branches int) ([]string, error) {
	sub := agent.New(o.client, tools.NewRegistry(o.logger),
		agent.WithSystemPrompt(fmt.Sprintf(
			`You plan research. Given a topic, reply with ONLY a JSON array of %d focused sub-questions that together cover it. No prose.`,
			branches)),
		agent.WithMaxIterations(1),
	)
	result, err := sub.Chat(ctx, topic)
	if err != nil {
		return nil, err
	}

	text := result.Content
	// Tolerate a fenced code block around the array.
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			text = text[start : end+1]
		}
	}

	var questions []string
	if err := json.Unmarshal([]byte(text), &questions); err != nil {
		return nil, fmt.Errorf("parse plan %q: %w", result.Content, err)
	}
	out := questions[:0]
	for _, q := range questions {
		if strings.TrimSpace(q) != "" {
			out = append(out, strings.TrimSpace(q))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("plan produced no questions")
	}
	if len(out) > branches {
		out = out[:branches]
	}
	return out, nil
}

// fanOut investigates every question concurrently. Each branch gets its
// own agent with only the search/fetch tools. A branch failure becomes
// a "FAILED: reason" finding; it never takes down the other branches.
func (o *Orchestrator) fanOut(ctx context.Context, researchID string, questions []string) []string {
	findings := make([]string, len(questions))
	var wg sync.WaitGroup

	for i, question := range questions {
		wg.Add(1)
		go func(idx int, q string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					findings[idx] = fmt.Sprintf("FAILED: branch panic: %v", r)
				}
			}()

			o.step(researchID, "analyzing", "investigating branch", map[string]any{
				"branch":   idx,
				"question": q,
			})

			branch := agent.New(o.client, o.registry.FilteredCopy(branchTools),
				agent.WithSystemPrompt(prompts.ResearchBranch(q)),
				agent.WithMaxIterations(branchIterationCap),
				agent.WithLogger(o.logger),
			)
			result, err := branch.Chat(ctx, q)
			if err != nil {
				findings[idx] = fmt.Sprintf("FAILED: %v", err)
				return
			}
			if result.StopReason != agent.StopCompleted {
				findings[idx] = fmt.Sprintf("FAILED: branch %s", result.StopReason)
				return
			}
			findings[idx] = result.Content
		}(i, question)
	}

	wg.Wait()
	return findings
}

func (o *Orchestrator) synthesize(ctx context.Context, topic string, questions, findings []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	for i, q := range questions {
		fmt.Fprintf(&b, "## Branch %d: %s\n\n%s\n\n", i+1, q, findings[i])
	}

	// Synthesis gets no tools: its job is writing, not gathering.
	synth := agent.New(o.client, tools.NewRegistry(o.logger),
		agent.WithSystemPrompt(prompts.ResearchSynthesis),
		agent.WithMaxIterations(1),
		agent.WithLogger(o.logger),
	)
	result, err := synth.Chat(ctx, b.String())
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
