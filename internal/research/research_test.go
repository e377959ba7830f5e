package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/oogalieboogalie/ThinkSpace/internal/events"
	"github.com/oogalieboogalie/ThinkSpace/internal/llm"
	"github.com/oogalieboogalie/ThinkSpace/internal/tools"
)

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	})
	return string(body)
}

// decodeMessages pulls role/content pairs out of a completion request.
func decodeMessages(t *testing.T, r *http.Request) []llm.Message {
	t.Helper()
	var req struct {
		Messages []llm.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req.Messages
}

func systemOf(msgs []llm.Message) string {
	if len(msgs) > 0 && msgs[0].Role == "system" {
		return msgs[0].Content
	}
	return ""
}

func newOrchestrator(t *testing.T, handler http.HandlerFunc) (*Orchestrator, *events.Bus) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := llm.New(llm.Config{BaseURL: srv.URL, Model: "test-model"}, nil)
	bus := events.New()
	return NewOrchestrator(client, tools.NewRegistry(nil), bus, nil), bus
}

func TestRunIsolatesFailedBranches(t *testing.T) {
	var mu sync.Mutex
	var synthesisInput string

	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		msgs := decodeMessages(t, r)
		system := systemOf(msgs)
		switch {
		case strings.Contains(system, "You plan research"):
			fmt.Fprint(w, completionBody(`["What is WAL?", "What is MVCC?"]`))
		case strings.Contains(system, "Your question: What is WAL?"):
			fmt.Fprint(w, completionBody("WAL is write-ahead logging."))
		case strings.Contains(system, "Your question: What is MVCC?"):
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		case strings.Contains(system, "research editor"):
			mu.Lock()
			synthesisInput = msgs[len(msgs)-1].Content
			mu.Unlock()
			fmt.Fprint(w, completionBody("# Report\n\nWAL findings only."))
		default:
			t.Errorf("unexpected system prompt: %q", system)
		}
	})

	report, err := o.Run(context.Background(), "database durability", 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(report, "WAL findings only") {
		t.Errorf("report = %q", report)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(synthesisInput, "WAL is write-ahead logging.") {
		t.Errorf("successful finding missing from synthesis input:\n%s", synthesisInput)
	}
	if !strings.Contains(synthesisInput, "FAILED:") {
		t.Errorf("failed branch not marked in synthesis input:\n%s", synthesisInput)
	}
}

func TestRunFallsBackToSingleBranchOnBadPlan(t *testing.T) {
	var branchQuestions []string
	var mu sync.Mutex

	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		msgs := decodeMessages(t, r)
		system := systemOf(msgs)
		switch {
		case strings.Contains(system, "You plan research"):
			fmt.Fprint(w, completionBody("I cannot produce JSON today."))
		case strings.Contains(system, "research analyst"):
			mu.Lock()
			branchQuestions = append(branchQuestions, system)
			mu.Unlock()
			fmt.Fprint(w, completionBody("some findings"))
		case strings.Contains(system, "research editor"):
			fmt.Fprint(w, completionBody("report"))
		default:
			t.Errorf("unexpected system prompt: %q", system)
		}
	})

	if _, err := o.Run(context.Background(), "quantum computing", 3); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(branchQuestions) != 1 {
		t.Fatalf("got %d branches, want single fallback branch", len(branchQuestions))
	}
	if !strings.Contains(branchQuestions[0], "quantum computing") {
		t.Errorf("fallback branch lost the topic: %q", branchQuestions[0])
	}
}

func TestRunPublishesResearchSteps(t *testing.T) {
	o, bus := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		msgs := decodeMessages(t, r)
		if strings.Contains(systemOf(msgs), "You plan research") {
			fmt.Fprint(w, completionBody(`["only question"]`))
			return
		}
		fmt.Fprint(w, completionBody("text"))
	})

	ch := bus.Subscribe(32)
	defer bus.Unsubscribe(ch)

	if _, err := o.Run(context.Background(), "topic", 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	steps := map[string]bool{}
	var researchID string
	for {
		select {
		case e := <-ch:
			if e.Kind != events.KindResearchStep {
				t.Errorf("unexpected event kind %q", e.Kind)
				continue
			}
			stepType := e.Data["step_type"].(string)
			steps[stepType] = true
			id := e.Data["research_id"].(string)
			if researchID == "" {
				researchID = id
			} else if id != researchID {
				t.Errorf("research_id changed mid-run: %q vs %q", id, researchID)
			}
		default:
			for _, want := range []string{"planning", "searching", "analyzing", "synthesizing"} {
				if !steps[want] {
					t.Errorf("missing %s step; got %v", want, steps)
				}
			}
			return
		}
	}
}

func TestRunRequiresTopic(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no completion calls expected")
	})
	if _, err := o.Run(context.Background(), "  ", 2); err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func TestDebateTranscript(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		system := systemOf(decodeMessages(t, r))
		switch {
		case strings.Contains(system, "affirmative position"):
			fmt.Fprint(w, completionBody("Tabs are efficient."))
		case strings.Contains(system, "opposing position"):
			fmt.Fprint(w, completionBody("Spaces are consistent."))
		case strings.Contains(system, "moderated the debate"):
			fmt.Fprint(w, completionBody("Both sides agree on editorconfig."))
		default:
			t.Errorf("unexpected system prompt: %q", system)
		}
	})

	transcript, err := o.Debate(context.Background(), "tabs vs spaces", 2)
	if err != nil {
		t.Fatalf("Debate: %v", err)
	}

	if strings.Count(transcript, "Affirmative") != 2 || strings.Count(transcript, "Opposing") != 2 {
		t.Errorf("expected two rounds per side:\n%s", transcript)
	}
	if !strings.Contains(transcript, "## Consensus") || !strings.Contains(transcript, "editorconfig") {
		t.Errorf("consensus missing:\n%s", transcript)
	}
}

func TestRegisterToolsNames(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {})
	reg := tools.NewRegistry(nil)
	dir, err := LoadDirectory("", nil)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}

	RegisterTools(reg, o, dir)

	for _, want := range []string{
		"deep_research", "start_debate",
		"consult_agent", "invoke_agent", "list_registered_agents",
	} {
		if reg.Get(want) == nil {
			t.Errorf("tool %s not registered", want)
		}
	}
}
