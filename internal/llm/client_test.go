package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"}, nil)
}

func TestChat(t *testing.T) {
	var gotAuth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "test-model",
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_0",
						"type": "function",
						"function": {"name": "calculate", "arguments": "{\"expression\":\"1+1\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7}
		}`))
	})

	resp, err := c.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "compute 1+1"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Function.Name != "calculate" {
		t.Errorf("tool name = %q, want calculate", tc.Function.Name)
	}
	if tc.Function.Arguments != `{"expression":"1+1"}` {
		t.Errorf("arguments = %q", tc.Function.Arguments)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 7 {
		t.Errorf("usage = %d/%d, want 12/7", resp.InputTokens, resp.OutputTokens)
	}
}

func TestChatErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	})

	_, err := c.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q should mention status 429", err)
	}
}

func TestChatNoChoices(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	})

	_, err := c.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestChatStream(t *testing.T) {
	// Argument fragments for one tool call split across three chunks,
	// plus interleaved content tokens.
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Let me "}}]}`,
		`data: {"choices":[{"delta":{"content":"check."}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_0","type":"function","function":{"name":"calculate","arguments":"{\"expr"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ession\":\"2+"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"2\"}"}}]},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
		``,
	}, "\n\n")

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(body))
	})

	var tokens []string
	var calls []ToolCall
	var done bool
	resp, err := c.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "what is 2+2"}},
	}, func(ev StreamEvent) {
		switch ev.Kind {
		case KindToken:
			tokens = append(tokens, ev.Token)
		case KindToolCall:
			calls = append(calls, *ev.ToolCall)
		case KindDone:
			done = true
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if got := strings.Join(tokens, ""); got != "Let me check." {
		t.Errorf("streamed content = %q", got)
	}
	if resp.Message.Content != "Let me check." {
		t.Errorf("assembled content = %q", resp.Message.Content)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	if calls[0].Function.Name != "calculate" {
		t.Errorf("tool name = %q", calls[0].Function.Name)
	}
	if calls[0].Function.Arguments != `{"expression":"2+2"}` {
		t.Errorf("accumulated arguments = %q", calls[0].Function.Arguments)
	}
	if !done {
		t.Error("expected a KindDone event")
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Errorf("response carries %d tool calls, want 1", len(resp.Message.ToolCalls))
	}
}

func TestChatStreamMultipleToolCallIndexes(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_1","function":{"name":"b","arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_0","function":{"name":"a","arguments":"{}"}}]}}]}`,
		`data: [DONE]`,
		``,
	}, "\n\n")

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})

	resp, err := c.ChatStream(context.Background(), ChatRequest{}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if len(resp.Message.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(resp.Message.ToolCalls))
	}
	// Index order, not arrival order.
	if resp.Message.ToolCalls[0].Function.Name != "a" || resp.Message.ToolCalls[1].Function.Name != "b" {
		t.Errorf("tool calls out of index order: %v", resp.Message.ToolCalls)
	}
}

func TestChatStreamSkipsMalformedChunks(t *testing.T) {
	body := strings.Join([]string{
		`data: {not json`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
		``,
	}, "\n\n")

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})

	resp, err := c.ChatStream(context.Background(), ChatRequest{}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q, want %q", resp.Message.Content, "ok")
	}
}
