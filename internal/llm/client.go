package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/oogalieboogalie/ThinkSpace/internal/httpkit"
)

// Client talks to an OpenAI-compatible chat-completions endpoint.
// One instance is safe for concurrent use; it holds no per-request state.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger

	// Separate clients: buffered calls get a hard timeout, streaming
	// calls must stay open for the full generation.
	client       *http.Client
	streamClient *http.Client
}

// Config holds the connection settings for a completion client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// New creates a chat-completion client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
		client: httpkit.NewClient(
			httpkit.WithTimeout(3 * time.Minute),
		),
		streamClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
		),
	}
}

// Model returns the client's default model name.
func (c *Client) Model() string { return c.model }

// wireRequest is the chat-completions request body.
type wireRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// wireResponse is the buffered chat-completions response body.
type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) buildRequest(req ChatRequest, stream bool) wireRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}
	maxTok := req.MaxTokens
	if maxTok == 0 {
		maxTok = c.maxTokens
	}
	return wireRequest{
		Model:       model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: temp,
		MaxTokens:   maxTok,
		Stream:      stream,
	}
}

func (c *Client) post(ctx context.Context, client *http.Client, body wireRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "chat completion request", "payload", string(payload))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 1024)
		return nil, fmt.Errorf("completion service returned status %d: %s", resp.StatusCode, errBody)
	}

	return resp, nil
}

// Chat sends a buffered completion request and returns the full response.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := c.post(ctx, c.client, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("completion service returned no choices")
	}

	choice := wire.Choices[0]
	out := &ChatResponse{
		Model:        wire.Model,
		Message:      choice.Message,
		FinishReason: choice.FinishReason,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}

	c.logger.Debug("chat completion",
		"model", out.Model,
		"finish_reason", out.FinishReason,
		"tool_calls", len(out.Message.ToolCalls),
		"tokens_in", out.InputTokens,
		"tokens_out", out.OutputTokens,
		"duration_ms", out.Duration.Milliseconds(),
	)

	return out, nil
}

// streamChunk is one SSE data payload in a streamed response.
type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ChatStream sends a streaming completion request. Content tokens are
// delivered through cb as they arrive; partial tool-call fragments are
// accumulated per index until the stream ends and then emitted as
// complete calls. Returns the assembled response.
//
// The wire format is SSE: "data: {json}" lines terminated by a literal
// "data: [DONE]". Malformed chunks are skipped rather than aborting the
// stream.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, cb StreamCallback) (*ChatResponse, error) {
	start := time.Now()

	resp, err := c.post(ctx, c.streamClient, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	// Fragments arrive addressed by an integer index, not by id: a
	// call's name typically arrives in the first fragment and its
	// argument string trickles in across many.
	partial := make(map[int]*ToolCall)
	var model, finishReason string
	var inputTokens, outputTokens int

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("stream cancelled: %w", err)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}

		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
			outputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if cb != nil {
				cb(StreamEvent{Kind: KindToken, Token: choice.Delta.Content})
			}
		}

		for _, frag := range choice.Delta.ToolCalls {
			tc, ok := partial[frag.Index]
			if !ok {
				tc = &ToolCall{Type: "function"}
				partial[frag.Index] = tc
			}
			if frag.ID != "" {
				tc.ID = frag.ID
			}
			if frag.Function.Name != "" {
				tc.Function.Name += frag.Function.Name
			}
			tc.Function.Arguments += frag.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	// Emit completed tool calls in index order.
	indexes := make([]int, 0, len(partial))
	for idx := range partial {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	toolCalls := make([]ToolCall, 0, len(partial))
	for _, idx := range indexes {
		tc := *partial[idx]
		toolCalls = append(toolCalls, tc)
		if cb != nil {
			cb(StreamEvent{Kind: KindToolCall, ToolCall: &tc})
		}
	}

	out := &ChatResponse{
		Model: model,
		Message: Message{
			Role:      "assistant",
			Content:   content.String(),
			ToolCalls: toolCalls,
		},
		FinishReason: finishReason,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Duration:     time.Since(start),
	}

	if cb != nil {
		cb(StreamEvent{Kind: KindDone, Response: out})
	}

	c.logger.Debug("chat completion stream done",
		"model", out.Model,
		"finish_reason", out.FinishReason,
		"tool_calls", len(toolCalls),
		"content_len", content.Len(),
		"duration_ms", out.Duration.Milliseconds(),
	)

	return out, nil
}
