package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/oogalieboogalie/ThinkSpace/internal/events"
)

// guideRenderer converts study-guide markdown into the HTML the desktop
// shell displays. GFM tables and strikethrough show up in generated
// guides, so the extension set matches what the model actually emits.
var guideRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RegisterCanvas registers update_canvas: content pushed to the live
// canvas pane via the event bus. Nothing is persisted.
func RegisterCanvas(reg *Registry, bus *events.Bus) {
	reg.Register(&Tool{
		Name:        "update_canvas",
		Description: "Replace the contents of the canvas pane with new markdown content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "Markdown content to display on the canvas",
				},
			},
			"required": []string{"content"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return "", fmt.Errorf("content is required")
			}

			bus.Publish(events.Event{
				Source: events.SourceTool,
				Kind:   events.KindCanvasUpdated,
				Data: map[string]any{
					"content": content,
					"format":  "markdown",
				},
			})

			return SuccessEnvelope(map[string]any{
				"displayed": true,
				"chars":     len(content),
			}), nil
		},
	})
}

// RegisterStudyGuide registers generate_study_guide: the guide markdown
// is written under generated-guides/, rendered to HTML, and announced
// on the event bus so the shell can open it.
func RegisterStudyGuide(reg *Registry, root string, mode Mode, bus *events.Bus, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	reg.Register(&Tool{
		Name:        "generate_study_guide",
		Description: "Save a study guide as markdown under generated-guides/ and render it for display.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Title of the study guide",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The study guide body in markdown",
				},
			},
			"required": []string{"title", "content"},
		},
		Mutating: true,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			title, _ := args["title"].(string)
			content, _ := args["content"].(string)
			if title == "" || content == "" {
				return "", fmt.Errorf("title and content are required")
			}

			rel := filepath.ToSlash(filepath.Join("generated-guides",
				fmt.Sprintf("%s-%s.md", slugify(title), time.Now().Format("20060102-150405"))))
			if err := ValidateWritePath(rel, mode); err != nil {
				return "", err
			}

			document := fmt.Sprintf("# %s\n\n%s\n", title, content)
			abs := filepath.Join(root, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return "", fmt.Errorf("create guide directory: %w", err)
			}
			if err := os.WriteFile(abs, []byte(document), 0o644); err != nil {
				return "", fmt.Errorf("write guide %s: %w", rel, err)
			}

			var rendered bytes.Buffer
			if err := guideRenderer.Convert([]byte(document), &rendered); err != nil {
				return "", fmt.Errorf("render guide: %w", err)
			}

			bus.Publish(events.Event{
				Source: events.SourceTool,
				Kind:   events.KindStudyGuideGenerated,
				Data: map[string]any{
					"path":  rel,
					"title": title,
					"html":  rendered.String(),
				},
			})

			logger.Info("study guide generated", "path", rel, "title", title)
			return SuccessEnvelope(map[string]any{
				"path":  rel,
				"title": title,
			}), nil
		},
	})
}

// slugify lowercases a title into a filesystem-safe slug.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "guide"
	}
	if len(out) > 60 {
		out = strings.Trim(out[:60], "-")
	}
	return out
}
