package tools

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// maxReadBytes caps read_file output handed back to the model.
	maxReadBytes = 256 * 1024
	// maxScanEntries caps scan_codebase listings.
	maxScanEntries = 500
)

// skipDirs are directories scan_codebase never descends into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"target":       true,
	"dist":         true,
	".venv":        true,
	"__pycache__":  true,
}

// FileTools binds the filesystem tools to a workspace root. Every write
// is validated against the scope policy before anything touches disk.
type FileTools struct {
	root   string
	mode   Mode
	logger *slog.Logger
}

// NewFileTools creates the filesystem tool set rooted at root.
func NewFileTools(root string, mode Mode, logger *slog.Logger) *FileTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTools{root: root, mode: mode, logger: logger}
}

// RegisterFileTools registers read_file, write_file, write_file_batch
// and scan_codebase.
func RegisterFileTools(reg *Registry, root string, mode Mode, logger *slog.Logger) *FileTools {
	ft := NewFileTools(root, mode, logger)

	reg.Register(&Tool{
		Name:        "read_file",
		Description: "Read a file from the workspace. Returns the file content as text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the workspace root",
				},
			},
			"required": []string{"path"},
		},
		Handler: ft.readFile,
	})

	reg.Register(&Tool{
		Name:        "write_file",
		Description: "Write content to a file in the workspace. Parent directories are created as needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path relative to the workspace root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The full file content to write",
				},
			},
			"required": []string{"path", "content"},
		},
		Mutating: true,
		Handler:  ft.writeFile,
	})

	reg.Register(&Tool{
		Name:        "write_file_batch",
		Description: "Write several files in one call. Each file is validated and written independently; the result reports per-file outcomes.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"files": map[string]any{
					"type":        "array",
					"description": "Files to write",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"path":    map[string]any{"type": "string"},
							"content": map[string]any{"type": "string"},
						},
						"required": []string{"path", "content"},
					},
				},
			},
			"required": []string{"files"},
		},
		Mutating: true,
		Handler:  ft.writeFileBatch,
	})

	reg.Register(&Tool{
		Name:        "scan_codebase",
		Description: "List the files in the workspace (or a subdirectory) with sizes, skipping build artifacts and dependency directories.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Subdirectory to scan; defaults to the workspace root",
				},
			},
		},
		Handler: ft.scanCodebase,
	})

	return ft
}

// resolve joins a workspace-relative path, rejecting traversal for
// reads as well as writes.
func (ft *FileTools) resolve(rel string) (string, error) {
	normalized := strings.ReplaceAll(rel, "\\", "/")
	if normalized == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(normalized, "../") || normalized == ".." {
		return "", fmt.Errorf("path traversal (../) is forbidden")
	}
	return filepath.Join(ft.root, filepath.FromSlash(normalized)), nil
}

func (ft *FileTools) readFile(_ context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	abs, err := ft.resolve(rel)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}

	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	return SuccessEnvelope(map[string]any{
		"path":      rel,
		"content":   string(data),
		"truncated": truncated,
	}), nil
}

func (ft *FileTools) writeFile(_ context.Context, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	content, _ := args["content"].(string)

	if err := ValidateWritePath(rel, ft.mode); err != nil {
		return "", err
	}

	abs, err := ft.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create directories for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}

	ft.logger.Info("file written", "path", rel, "bytes", len(content))
	return SuccessEnvelope(map[string]any{
		"path":          rel,
		"bytes_written": len(content),
	}), nil
}

func (ft *FileTools) writeFileBatch(_ context.Context, args map[string]any) (string, error) {
	rawFiles, ok := args["files"].([]any)
	if !ok || len(rawFiles) == 0 {
		return "", fmt.Errorf("files array is required")
	}

	type fileResult struct {
		Path    string `json:"path"`
		Written bool   `json:"written"`
		Error   string `json:"error,omitempty"`
	}

	results := make([]fileResult, 0, len(rawFiles))
	written := 0
	for _, raw := range rawFiles {
		entry, ok := raw.(map[string]any)
		if !ok {
			results = append(results, fileResult{Error: "file entry must be an object"})
			continue
		}
		rel, _ := entry["path"].(string)
		content, _ := entry["content"].(string)
		fr := fileResult{Path: rel}

		if err := ft.writeOne(rel, content); err != nil {
			fr.Error = err.Error()
		} else {
			fr.Written = true
			written++
		}
		results = append(results, fr)
	}

	ft.logger.Info("batch write finished", "requested", len(rawFiles), "written", written)
	return SuccessEnvelope(map[string]any{
		"written": written,
		"total":   len(rawFiles),
		"files":   results,
	}), nil
}

func (ft *FileTools) writeOne(rel, content string) error {
	if err := ValidateWritePath(rel, ft.mode); err != nil {
		return err
	}
	abs, err := ft.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func (ft *FileTools) scanCodebase(_ context.Context, args map[string]any) (string, error) {
	sub, _ := args["path"].(string)
	start := ft.root
	if sub != "" {
		abs, err := ft.resolve(sub)
		if err != nil {
			return "", err
		}
		start = abs
	}

	type entry struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	var entries []entry
	truncated := false

	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || (strings.HasPrefix(d.Name(), ".") && path != start) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= maxScanEntries {
			truncated = true
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(ft.root, path)
		if relErr != nil {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		entries = append(entries, entry{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", start, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return SuccessEnvelope(map[string]any{
		"files":     entries,
		"count":     len(entries),
		"truncated": truncated,
	}), nil
}
