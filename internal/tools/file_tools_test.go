package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oogalieboogalie/ThinkSpace/internal/events"
)

func newWorkspaceRegistry(t *testing.T, mode Mode) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	reg := NewRegistry(nil)
	RegisterFileTools(reg, root, mode, nil)
	return reg, root
}

func TestWriteFileRoundTrip(t *testing.T) {
	reg, root := newWorkspaceRegistry(t, ModeDeveloper)

	raw := reg.Execute(context.Background(), Policy{}, "write_file",
		`{"path":"docs/guide/intro.md","content":"# Intro\n"}`)
	env := decodeEnvelope(t, raw)
	if env["success"] != true {
		t.Fatalf("write failed: %v", env)
	}
	if env["bytes_written"].(float64) != 8 {
		t.Errorf("bytes_written = %v, want 8", env["bytes_written"])
	}

	data, err := os.ReadFile(filepath.Join(root, "docs", "guide", "intro.md"))
	if err != nil {
		t.Fatalf("file not on disk: %v", err)
	}
	if string(data) != "# Intro\n" {
		t.Errorf("content = %q", data)
	}

	raw = reg.Execute(context.Background(), Policy{}, "read_file",
		`{"path":"docs/guide/intro.md"}`)
	env = decodeEnvelope(t, raw)
	if env["success"] != true || env["content"] != "# Intro\n" {
		t.Errorf("read back = %v", env)
	}
}

func TestWriteFileScopeRejections(t *testing.T) {
	reg, root := newWorkspaceRegistry(t, ModeDeveloper)

	cases := []string{
		`{"path":"../outside.txt","content":"x"}`,
		`{"path":"docs/../../etc/passwd","content":"x"}`,
		`{"path":"Cargo.toml","content":"x"}`,
		`{"path":"secrets/key.pem","content":"x"}`,
	}
	for _, args := range cases {
		env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{}, "write_file", args))
		if env["success"] != false {
			t.Errorf("write_file(%s) succeeded, want rejection", args)
		}
	}

	// Nothing may have been written anywhere under the root.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace not empty after rejected writes: %v", entries)
	}
}

func TestReadFileRejectsTraversal(t *testing.T) {
	reg, _ := newWorkspaceRegistry(t, ModeDeveloper)

	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{}, "read_file",
		`{"path":"../../etc/hostname"}`))
	if env["success"] != false {
		t.Error("read_file accepted a traversal path")
	}
}

func TestWriteFileBatchPerFileResults(t *testing.T) {
	reg, root := newWorkspaceRegistry(t, ModeDeveloper)

	raw := reg.Execute(context.Background(), Policy{}, "write_file_batch", `{
		"files": [
			{"path": "src/a.ts", "content": "export const a = 1;"},
			{"path": "../escape.txt", "content": "nope"},
			{"path": "public/index.html", "content": "<html></html>"}
		]
	}`)
	env := decodeEnvelope(t, raw)
	if env["success"] != true {
		t.Fatalf("batch failed outright: %v", env)
	}
	if env["written"].(float64) != 2 || env["total"].(float64) != 3 {
		t.Errorf("written/total = %v/%v, want 2/3", env["written"], env["total"])
	}

	files := env["files"].([]any)
	second := files[1].(map[string]any)
	if second["written"] != false || second["error"] == nil {
		t.Errorf("rejected entry not reported: %v", second)
	}

	if _, err := os.Stat(filepath.Join(root, "src", "a.ts")); err != nil {
		t.Errorf("valid file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt")); err == nil {
		t.Error("traversal write escaped the workspace")
	}
}

func TestScanCodebase(t *testing.T) {
	reg, root := newWorkspaceRegistry(t, ModeDeveloper)

	mustWrite := func(rel, content string) {
		t.Helper()
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("src/App.tsx", "app")
	mustWrite("docs/readme.md", "docs")
	mustWrite("node_modules/pkg/index.js", "dep")
	mustWrite(".git/HEAD", "ref")

	raw := reg.Execute(context.Background(), Policy{}, "scan_codebase", `{}`)
	env := decodeEnvelope(t, raw)
	if env["success"] != true {
		t.Fatalf("scan failed: %v", env)
	}

	var paths []string
	for _, f := range env["files"].([]any) {
		paths = append(paths, f.(map[string]any)["path"].(string))
	}
	joined := strings.Join(paths, ",")
	if !strings.Contains(joined, "src/App.tsx") || !strings.Contains(joined, "docs/readme.md") {
		t.Errorf("expected files missing from scan: %v", paths)
	}
	if strings.Contains(joined, "node_modules") || strings.Contains(joined, ".git") {
		t.Errorf("scan descended into skipped dirs: %v", paths)
	}
}

func TestUpdateCanvasPublishes(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	reg := NewRegistry(nil)
	RegisterCanvas(reg, bus)

	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{}, "update_canvas",
		`{"content":"# Notes"}`))
	if env["success"] != true {
		t.Fatalf("update_canvas failed: %v", env)
	}

	select {
	case e := <-ch:
		if e.Kind != events.KindCanvasUpdated || e.Data["content"] != "# Notes" {
			t.Errorf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("no canvas event published")
	}
}

func TestGenerateStudyGuide(t *testing.T) {
	root := t.TempDir()
	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	reg := NewRegistry(nil)
	RegisterStudyGuide(reg, root, ModeDeveloper, bus, nil)

	raw := reg.Execute(context.Background(), Policy{}, "generate_study_guide",
		`{"title":"Go Concurrency","content":"## Goroutines\n\nLightweight threads."}`)
	env := decodeEnvelope(t, raw)
	if env["success"] != true {
		t.Fatalf("generate_study_guide failed: %v", env)
	}

	rel := env["path"].(string)
	if !strings.HasPrefix(rel, "generated-guides/go-concurrency-") || !strings.HasSuffix(rel, ".md") {
		t.Errorf("guide path = %q", rel)
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("guide not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Go Concurrency") {
		t.Errorf("guide content = %q", data)
	}

	select {
	case e := <-ch:
		if e.Kind != events.KindStudyGuideGenerated {
			t.Errorf("event kind = %q", e.Kind)
		}
		html := e.Data["html"].(string)
		if !strings.Contains(html, "<h2") || !strings.Contains(html, "Goroutines") {
			t.Errorf("rendered html = %q", html)
		}
	default:
		t.Fatal("no study guide event published")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Go Concurrency":    "go-concurrency",
		"  What is  REST? ": "what-is-rest",
		"!!!":               "guide",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunTerminalCommand(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterTerminal(reg, TerminalConfig{
		Enabled:         true,
		WorkingDir:      t.TempDir(),
		AllowedPrefixes: []string{"echo", "ls"},
		TimeoutSec:      5,
	}, nil)

	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{},
		"run_terminal_command", `{"command":"echo hello"}`))
	if env["success"] != true {
		t.Fatalf("command failed: %v", env)
	}
	if env["exit_code"].(float64) != 0 || !strings.Contains(env["output"].(string), "hello") {
		t.Errorf("unexpected result: %v", env)
	}

	env = decodeEnvelope(t, reg.Execute(context.Background(), Policy{},
		"run_terminal_command", `{"command":"rm -rf /"}`))
	if env["success"] != false || !strings.Contains(env["error"].(string), "allowed prefix") {
		t.Errorf("disallowed command not rejected: %v", env)
	}
}

func TestRunTerminalCommandDisabled(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterTerminal(reg, TerminalConfig{Enabled: false}, nil)

	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{},
		"run_terminal_command", `{"command":"echo hi"}`))
	if env["success"] != false || !strings.Contains(env["error"].(string), "disabled") {
		t.Errorf("disabled shell ran: %v", env)
	}
}

func TestRunTerminalCommandNonZeroExit(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterTerminal(reg, TerminalConfig{Enabled: true, TimeoutSec: 5}, nil)

	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{},
		"run_terminal_command", `{"command":"exit 3"}`))
	if env["success"] != true {
		t.Fatalf("non-zero exit should still report: %v", env)
	}
	if env["exit_code"].(float64) != 3 {
		t.Errorf("exit_code = %v, want 3", env["exit_code"])
	}
}

func TestWriteFileBatchRequiresFiles(t *testing.T) {
	reg, _ := newWorkspaceRegistry(t, ModeDeveloper)
	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{}, "write_file_batch", `{}`))
	if env["success"] != false {
		t.Error("missing files array accepted")
	}
}
