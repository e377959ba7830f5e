package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newEchoTool(name string, mutating bool) *Tool {
	return &Tool{
		Name:        name,
		Description: "test tool",
		Parameters:  map[string]any{"type": "object"},
		Mutating:    mutating,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return SuccessEnvelope(map[string]any{"echo": args["value"]}), nil
		},
	}
}

func decodeEnvelope(t *testing.T, raw string) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, raw)
	}
	return env
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry(nil)
	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{}, "nope", "{}"))
	if env["success"] != false {
		t.Error("unknown tool must produce a failure envelope")
	}
	if !strings.Contains(env["error"].(string), "unknown tool") {
		t.Errorf("error = %v", env["error"])
	}
}

func TestExecuteModeLock(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newEchoTool("run_terminal_command", true))
	reg.Register(newEchoTool("write_file_batch", true))

	for _, name := range []string{"run_terminal_command", "write_file_batch"} {
		env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{Mode: ModeStudent}, name, "{}"))
		if env["success"] != false {
			t.Errorf("%s must be locked in student mode", name)
		}
		if !strings.Contains(env["error"].(string), "student mode") {
			t.Errorf("%s error = %v", name, env["error"])
		}
	}

	// Developer mode runs them normally.
	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{}, "run_terminal_command", "{}"))
	if env["success"] != true {
		t.Errorf("developer mode should allow execution: %v", env)
	}
}

func TestExecuteSessionToggle(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newEchoTool("web_search", false))

	p := Policy{Enabled: map[string]bool{"web_search": false}}
	env := decodeEnvelope(t, reg.Execute(context.Background(), p, "web_search", "{}"))
	if env["success"] != false || !strings.Contains(env["error"].(string), "disabled") {
		t.Errorf("disabled tool ran anyway: %v", env)
	}

	// Unlisted tools default to enabled.
	reg.Register(newEchoTool("calculate", false))
	env = decodeEnvelope(t, reg.Execute(context.Background(), p, "calculate", "{}"))
	if env["success"] != true {
		t.Errorf("unlisted tool should run: %v", env)
	}
}

func TestExecuteSafeMode(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newEchoTool("write_file", true))
	reg.Register(newEchoTool("read_file", false))

	p := Policy{SafeMode: true}
	env := decodeEnvelope(t, reg.Execute(context.Background(), p, "write_file", "{}"))
	if env["success"] != false || !strings.Contains(env["error"].(string), "safe mode") {
		t.Errorf("mutating tool ran in safe mode: %v", env)
	}

	env = decodeEnvelope(t, reg.Execute(context.Background(), p, "read_file", "{}"))
	if env["success"] != true {
		t.Errorf("read-only tool blocked in safe mode: %v", env)
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newEchoTool("calculate", false))

	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{}, "calculate", "{not json"))
	if env["success"] != false || !strings.Contains(env["error"].(string), "invalid arguments") {
		t.Errorf("invalid args accepted: %v", env)
	}
}

func TestExecuteWrapsNonJSONResult(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&Tool{
		Name:       "plain",
		Parameters: map[string]any{"type": "object"},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "just text", nil
		},
	})

	env := decodeEnvelope(t, reg.Execute(context.Background(), Policy{}, "plain", "{}"))
	if env["success"] != true || env["result"] != "just text" {
		t.Errorf("non-JSON result not wrapped: %v", env)
	}
}

func TestListFiltersByPolicy(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newEchoTool("calculate", false))
	reg.Register(newEchoTool("run_terminal_command", true))
	reg.Register(newEchoTool("web_search", false))

	list := reg.List(Policy{
		Mode:    ModeStudent,
		Enabled: map[string]bool{"web_search": false},
	})
	if len(list) != 1 {
		t.Fatalf("got %d tools, want 1: %v", len(list), list)
	}
	fn := list[0]["function"].(map[string]any)
	if fn["name"] != "calculate" {
		t.Errorf("advertised tool = %v", fn["name"])
	}
}

func TestFilteredCopy(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(newEchoTool("web_search", false))
	reg.Register(newEchoTool("web_fetch", false))
	reg.Register(newEchoTool("write_file", true))

	sub := reg.FilteredCopy([]string{"web_search", "web_fetch", "missing"})
	if got := sub.Names(); len(got) != 2 || got[0] != "web_search" || got[1] != "web_fetch" {
		t.Errorf("FilteredCopy names = %v", got)
	}

	rest := reg.FilteredCopyExcluding([]string{"write_file"})
	if got := rest.Names(); len(got) != 2 {
		t.Errorf("FilteredCopyExcluding names = %v", got)
	}
}

func TestCalculate(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterCalculator(reg)

	cases := []struct {
		expr string
		want string
	}{
		{"(2+3)*4", `"result":20`},
		{"2+3*4", `"result":14`},
		{"7/2", `"result":3.5`},
		{"-(2+3)", `"result":-5`},
		{" 10 /  4 ", `"result":2.5`},
		{"((1+2)*(3+4))", `"result":21`},
	}
	for _, tc := range cases {
		raw := reg.Execute(context.Background(), Policy{},
			"calculate", `{"expression":"`+tc.expr+`"}`)
		if !strings.Contains(raw, `"success":true`) || !strings.Contains(raw, tc.want) {
			t.Errorf("calculate(%q) = %s, want fragment %s", tc.expr, raw, tc.want)
		}
	}
}

func TestCalculateErrors(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterCalculator(reg)

	for _, expr := range []string{"1/0", "2+", "(2+3", "rm -rf /", "2;3", ""} {
		raw := reg.Execute(context.Background(), Policy{},
			"calculate", `{"expression":`+mustQuote(expr)+`}`)
		env := decodeEnvelope(t, raw)
		if env["success"] != false {
			t.Errorf("calculate(%q) succeeded: %v", expr, env)
		}
	}
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestValidateWritePath(t *testing.T) {
	cases := []struct {
		name string
		path string
		mode Mode
		ok   bool
	}{
		{"allowed src", "src/App.tsx", ModeDeveloper, true},
		{"allowed docs", "docs/notes.md", ModeDeveloper, true},
		{"allowed guides", "generated-guides/go.md", ModeDeveloper, true},
		{"exact readme", "README.md", ModeDeveloper, true},
		{"exact package json", "package.json", ModeDeveloper, true},
		{"traversal", "src/../../etc/passwd", ModeDeveloper, false},
		{"windows traversal", `src\..\..\secret`, ModeDeveloper, false},
		{"bare dotdot", "..", ModeDeveloper, false},
		{"outside allowlist", "Cargo.toml", ModeDeveloper, false},
		{"sneaky sibling", "srcfoo/x.ts", ModeDeveloper, false},
		{"empty", "", ModeDeveloper, false},
		{"student guides ok", "generated-guides/go.md", ModeStudent, true},
		{"student research ok", "research/notes.md", ModeStudent, true},
		{"student traversal", "research/../src/x.ts", ModeStudent, false},
		{"student src denied", "src/App.tsx", ModeStudent, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWritePath(tc.path, tc.mode)
			if tc.ok && err != nil {
				t.Errorf("ValidateWritePath(%q, %v) = %v, want nil", tc.path, tc.mode, err)
			}
			if !tc.ok && err == nil {
				t.Errorf("ValidateWritePath(%q, %v) = nil, want error", tc.path, tc.mode)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("student") != ModeStudent || ParseMode(" Student ") != ModeStudent {
		t.Error("student mode not parsed")
	}
	if ParseMode("developer") != ModeDeveloper || ParseMode("") != ModeDeveloper || ParseMode("weird") != ModeDeveloper {
		t.Error("unknown modes must fall back to developer")
	}
}
