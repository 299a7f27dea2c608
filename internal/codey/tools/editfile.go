package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codey/internal/codey/effect"
	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// Edit is a single find-and-replace-once operation against a file's
// contents.
type Edit struct {
	OldString string `json:"old_string" mapstructure:"old_string"`
	NewString string `json:"new_string" mapstructure:"new_string"`
}

// EditFileTool applies one or more exact-match edits to an existing
// file. Every edit's OldString must appear exactly once — an ambiguous
// or absent match fails validation before anything is written, so a
// partially-applied edit set never reaches disk.
type EditFileTool struct{}

func (EditFileTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "edit_file",
		Description: "Apply one or more exact string replacements to an existing file.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
				"edits": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"old_string": map[string]any{"type": "string"},
							"new_string": map[string]any{"type": "string"},
						},
						"required": []string{"old_string", "new_string"},
					},
				},
			},
			"required": []string{"path", "edits"},
		},
	}
}

func (EditFileTool) Compose(params map[string]any) *pipeline.Pipeline {
	path, _ := params["path"].(string)
	if path == "" {
		return pipeline.ErrorPipeline("Invalid params: \"path\" is required")
	}
	edits, err := parseEdits(params["edits"])
	if err != nil {
		return pipeline.ErrorPipeline(fmt.Sprintf("Invalid params: %v", err))
	}

	return pipeline.New().
		Pre(validateFileHandler{path: path}).
		Pre(validateEditsMatchOnceHandler{path: path, edits: edits}).
		RequireApproval().
		Then(pipeline.HandlerFunc(func(_ context.Context, pc *pipeline.Context) pipeline.Step {
			content, err := os.ReadFile(path)
			if err != nil {
				return pipeline.Error(fmt.Sprintf("Failed to read file: %v", err))
			}
			text := string(content)
			for _, e := range edits {
				text = strings.Replace(text, e.OldString, e.NewString, 1)
			}
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				return pipeline.Error(fmt.Sprintf("Failed to write file: %v", err))
			}
			pc.Store("result", fmt.Sprintf("Applied %d edit(s) to %s", len(edits), path))
			return pipeline.Continue()
		})).
		Post(reloadBufferHandler{path: path}).
		Post(pipeline.HandlerFunc(func(_ context.Context, pc *pipeline.Context) pipeline.Step {
			result, _ := pc.Get("result")
			text, _ := result.(string)
			return pipeline.Output(text)
		}))
}

// reloadBufferHandler asks any attached IDE to reload the file's buffer
// after a successful edit, so an open editor doesn't show stale content.
type reloadBufferHandler struct{ path string }

func (h reloadBufferHandler) Call(_ context.Context, _ *pipeline.Context) pipeline.Step {
	abs, err := filepath.Abs(h.path)
	if err != nil {
		abs = h.path
	}
	return pipeline.Delegate(effect.Effect{Kind: effect.KindIdeReloadBuffer, Path: abs})
}

func parseEdits(raw any) ([]Edit, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("\"edits\" must be an array")
	}
	edits := make([]Edit, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("each edit must be an object")
		}
		old, _ := m["old_string"].(string)
		new, _ := m["new_string"].(string)
		if old == "" {
			return nil, fmt.Errorf("\"old_string\" is required")
		}
		edits = append(edits, Edit{OldString: old, NewString: new})
	}
	return edits, nil
}

type validateEditsMatchOnceHandler struct {
	path  string
	edits []Edit
}

func (h validateEditsMatchOnceHandler) Call(_ context.Context, _ *pipeline.Context) pipeline.Step {
	content, err := os.ReadFile(h.path)
	if err != nil {
		return pipeline.Error(fmt.Sprintf("Failed to read file: %v", err))
	}
	text := string(content)
	for _, e := range h.edits {
		count := strings.Count(text, e.OldString)
		switch count {
		case 0:
			return pipeline.Error(fmt.Sprintf("old_string not found in %s: %q", h.path, e.OldString))
		case 1:
			// exactly one match, safe to apply
		default:
			return pipeline.Error(fmt.Sprintf("old_string matches %d times in %s, must be unique: %q", count, h.path, e.OldString))
		}
	}
	return pipeline.Continue()
}
