package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/oogalieboogalie/ThinkSpace/internal/agent"
	"github.com/oogalieboogalie/ThinkSpace/internal/llm"
	"github.com/oogalieboogalie/ThinkSpace/internal/tools"
)

// RemoteAgent is one externally registered agent: a named persona
// backed by its own OpenAI-compatible endpoint.
type RemoteAgent struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

// Directory holds the registered agents loaded from the agents file.
type Directory struct {
	agents map[string]RemoteAgent
	logger *slog.Logger
}

// LoadDirectory reads an agents JSON file (an array of agent entries).
// A missing file yields an empty directory, not an error.
func LoadDirectory(path string, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{agents: make(map[string]RemoteAgent), logger: logger}

	if path == "" {
		return d, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("no agents file", "path", path)
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var entries []RemoteAgent
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}
	for _, e := range entries {
		if e.Name == "" || e.BaseURL == "" {
			logger.Warn("skipping agent entry without name or base_url", "name", e.Name)
			continue
		}
		d.agents[e.Name] = e
	}
	logger.Info("agents loaded", "count", len(d.agents), "path", path)
	return d, nil
}

// Get looks up a registered agent by name.
func (d *Directory) Get(name string) (RemoteAgent, bool) {
	a, ok := d.agents[name]
	return a, ok
}

// List returns all registered agents sorted by name, api keys omitted.
func (d *Directory) List() []RemoteAgent {
	out := make([]RemoteAgent, 0, len(d.agents))
	for _, a := range d.agents {
		a.APIKey = ""
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// client builds a completion client for one remote agent.
func (d *Directory) client(a RemoteAgent) *llm.Client {
	return llm.New(llm.Config{
		BaseURL: a.BaseURL,
		APIKey:  a.APIKey,
		Model:   a.Model,
	}, d.logger)
}

// Consult sends a single question to a registered agent and returns its
// answer. No tools, no history.
func (d *Directory) Consult(ctx context.Context, name, question string) (string, error) {
	remote, ok := d.Get(name)
	if !ok {
		return "", fmt.Errorf("no registered agent named %q", name)
	}

	messages := []llm.Message{}
	if remote.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: remote.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: question})

	resp, err := d.client(remote).Chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("consult %s: %w", name, err)
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// Invoke runs a task on a registered agent with a working tool loop, so
// the remote model can search and fetch while completing it.
func (d *Directory) Invoke(ctx context.Context, registry *tools.Registry, name, task string) (*agent.Result, error) {
	remote, ok := d.Get(name)
	if !ok {
		return nil, fmt.Errorf("no registered agent named %q", name)
	}

	opts := []agent.Option{
		agent.WithMaxIterations(branchIterationCap),
		agent.WithLogger(d.logger),
	}
	if remote.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(remote.SystemPrompt))
	}

	sub := agent.New(d.client(remote), registry.FilteredCopy(branchTools), opts...)
	result, err := sub.Chat(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	return result, nil
}
