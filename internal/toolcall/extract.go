// Package toolcall normalizes tool invocations out of model output.
//
// Models request tools in wildly inconsistent shapes: structured
// tool_calls in the API envelope, bracketed [TOOL] blocks in free text,
// XML-style <tool_code> tags, or bare JSON objects with no marker at
// all. Each encoding is handled by an independent strategy; strategies
// run in priority order and the first one that yields a call wins.
// Adding a new encoding is a new strategy, not a change to the others.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/oogalieboogalie/ThinkSpace/internal/llm"
)

var (
	blockRe = regexp.MustCompile(`(?is)\[(?:TOOL_CALL|TOOL)\]\s*(.*?)\s*\[/(?:TOOL_CALL|TOOL)\]`)
	xmlRe   = regexp.MustCompile(`(?is)<tool_code>\s*(.*?)\s*</tool_code>`)

	// Legacy arrow grammar: tool => "name" followed by args => { ... }.
	legacyNameRe = regexp.MustCompile(`(?i)(?:tool|name)\s*(?:=>|:)\s*"([^"]+)"`)
	legacyArgsRe = regexp.MustCompile(`(?is)(?:args|arguments)\s*(?:=>|:)\s*(\{.*?\})`)
	legacyPairRe = regexp.MustCompile(`(\w+)\s*(?:=>|:)\s*"([^"]*)"`)

	bareToolKeyRe = regexp.MustCompile(`"tool"\s*:\s*"`)
)

// strategy scans text for one tool-call encoding. Implementations are
// pure and never fail: unparseable input yields an empty slice.
type strategy func(text string, base int) []llm.ToolCall

var strategies = []strategy{
	extractBracketBlocks,
	extractXMLBlocks,
	extractBareJSON,
}

// Extract produces the normalized tool calls for one assistant turn.
// Structured calls from the API envelope always take precedence and
// skip text parsing entirely. Otherwise the text strategies run in
// order and the first hit wins. baseIndex keeps synthetic ids unique
// across an iteration: discovered calls are numbered call_{baseIndex+n}.
func Extract(rawText string, structured []llm.ToolCall, baseIndex int) []llm.ToolCall {
	if len(structured) > 0 {
		return normalizeStructured(structured, baseIndex)
	}
	if rawText == "" {
		return nil
	}
	for _, s := range strategies {
		if calls := s(rawText, baseIndex); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

// normalizeStructured fills in missing ids and types on calls the
// completion service returned natively.
func normalizeStructured(structured []llm.ToolCall, base int) []llm.ToolCall {
	out := make([]llm.ToolCall, len(structured))
	for i, tc := range structured {
		if tc.ID == "" {
			tc.ID = callID(base + i)
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		if tc.Function.Arguments == "" {
			tc.Function.Arguments = "{}"
		}
		out[i] = tc
	}
	return out
}

func callID(n int) string {
	return "call_" + strconv.Itoa(n)
}

// extractBracketBlocks handles [TOOL]...[/TOOL] and
// [TOOL_CALL]...[/TOOL_CALL] blocks (case-insensitive, multi-line).
// Block contents are one or more concatenated JSON values, each an
// object or an array of objects. A block that fails JSON parsing
// entirely falls back to the legacy arrow grammar.
func extractBracketBlocks(text string, base int) []llm.ToolCall {
	var calls []llm.ToolCall

	for _, m := range blockRe.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(m[1])

		jsonParsed := false
		dec := json.NewDecoder(strings.NewReader(block))
		for {
			var val any
			if err := dec.Decode(&val); err != nil {
				// Stop at the first invalid value; anything decoded so
				// far still counts as a JSON block.
				break
			}
			jsonParsed = true

			if arr, ok := val.([]any); ok {
				for _, item := range arr {
					if name, args, ok := toolObject(item, "tool", "name"); ok {
						calls = append(calls, newCall(base+len(calls), name, args))
					}
				}
			} else if name, args, ok := toolObject(val, "tool", "name"); ok {
				calls = append(calls, newCall(base+len(calls), name, args))
			}
		}
		if jsonParsed {
			continue
		}

		// Legacy arrow grammar.
		nameMatch := legacyNameRe.FindStringSubmatch(block)
		if nameMatch == nil {
			continue
		}
		argsText := "{}"
		if am := legacyArgsRe.FindStringSubmatch(block); am != nil {
			argsText = am[1]
		}

		var arguments string
		var parsed any
		if err := json.Unmarshal([]byte(argsText), &parsed); err == nil {
			arguments = mustJSON(parsed)
		} else {
			// Not valid JSON — salvage individual key => "value" pairs.
			pairs := make(map[string]string)
			for _, pm := range legacyPairRe.FindAllStringSubmatch(argsText, -1) {
				pairs[pm[1]] = pm[2]
			}
			arguments = mustJSON(pairs)
		}

		calls = append(calls, newCall(base+len(calls), nameMatch[1], arguments))
	}

	return calls
}

// extractXMLBlocks handles <tool_code>...</tool_code> blocks whose
// inner content is a JSON object or array (emitted by models that
// follow a code-tag convention instead of brackets).
func extractXMLBlocks(text string, base int) []llm.ToolCall {
	var calls []llm.ToolCall

	for _, m := range xmlRe.FindAllStringSubmatch(text, -1) {
		var val any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &val); err != nil {
			continue
		}

		if arr, ok := val.([]any); ok {
			for _, item := range arr {
				if name, args, ok := toolObject(item, "name", "tool_name"); ok {
					calls = append(calls, newCall(base+len(calls), name, args))
				}
			}
		} else if name, args, ok := toolObject(val, "name", "tool_name"); ok {
			calls = append(calls, newCall(base+len(calls), name, args))
		}
	}

	return calls
}

// extractBareJSON is the last-resort fallback for models that ignore
// every marker convention and emit a naked {"tool": "..."} object in
// prose. Each occurrence of a "tool" key is walked back to its opening
// brace, then forward with a string- and escape-aware brace counter to
// the matching close — regex cannot safely match nested braces.
func extractBareJSON(text string, base int) []llm.ToolCall {
	var calls []llm.ToolCall

	for _, loc := range bareToolKeyRe.FindAllStringIndex(text, -1) {
		// Walk backwards to the opening brace. A closing brace first
		// means the key belongs to some other object; give up.
		start := loc[0]
		found := false
		for start > 0 {
			start--
			if text[start] == '{' {
				found = true
				break
			}
			if text[start] == '}' {
				break
			}
		}
		if !found {
			continue
		}

		end, ok := matchBrace(text, start)
		if !ok {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(text[start:end]), &obj); err != nil {
			continue
		}
		name, ok := obj["tool"].(string)
		if !ok || name == "" {
			continue
		}

		argsVal, ok := obj["arguments"]
		if !ok {
			argsVal = obj["args"]
		}
		args := argString(argsVal)

		if isDuplicate(calls, name, args) {
			continue
		}
		calls = append(calls, newCall(base+len(calls), name, args))
	}

	return calls
}

// matchBrace scans forward from the opening brace at start and returns
// the index one past its matching close. Tracks string literals and
// backslash escapes so braces inside strings don't count.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		switch c {
		case '\\':
			escape = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return i + 1, true
				}
			}
		}
	}
	return 0, false
}

// toolObject recognizes a decoded JSON value as a tool-call object.
// nameKeys are tried in order, then function.name. Arguments come from
// args/arguments/parameters or function.arguments.
func toolObject(val any, nameKeys ...string) (name, args string, ok bool) {
	obj, isMap := val.(map[string]any)
	if !isMap {
		return "", "", false
	}

	for _, key := range nameKeys {
		if s, isStr := obj[key].(string); isStr && s != "" {
			name = s
			break
		}
	}
	fn, _ := obj["function"].(map[string]any)
	if name == "" && fn != nil {
		name, _ = fn["name"].(string)
	}
	if name == "" {
		return "", "", false
	}

	var argsVal any
	var present bool
	for _, key := range []string{"args", "arguments", "parameters"} {
		if v, has := obj[key]; has {
			argsVal, present = v, true
			break
		}
	}
	if !present && fn != nil {
		argsVal, present = fn["arguments"], true
	}
	if !present {
		return name, "{}", true
	}

	return name, argString(argsVal), true
}

// argString normalizes an argument payload to a JSON string: objects
// and arrays are re-serialized, plain strings pass through as-is (they
// are assumed to already be JSON), scalars get their JSON form.
func argString(val any) string {
	switch v := val.(type) {
	case nil:
		return "{}"
	case string:
		return v
	default:
		return mustJSON(v)
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func newCall(id int, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:   callID(id),
		Type: "function",
		Function: llm.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

func isDuplicate(calls []llm.ToolCall, name, args string) bool {
	for _, c := range calls {
		if c.Function.Name == name && c.Function.Arguments == args {
			return true
		}
	}
	return false
}
