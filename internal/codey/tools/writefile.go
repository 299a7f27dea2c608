package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// WriteFileTool creates a new file, refusing to overwrite an existing
// one — overwrites go through EditFileTool instead so every modification
// to an existing file is expressed as a reviewable diff.
type WriteFileTool struct{}

func (WriteFileTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "write_file",
		Description: "Create a new file with the given content. Fails if the file already exists.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (WriteFileTool) Compose(params map[string]any) *pipeline.Pipeline {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	if path == "" {
		return pipeline.ErrorPipeline("Invalid params: \"path\" is required")
	}

	return pipeline.New().
		Pre(validateFileNotExistsHandler{path: path}).
		RequireApproval().
		Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
			if parent := filepath.Dir(path); parent != "." {
				if _, err := os.Stat(parent); os.IsNotExist(err) {
					if err := os.MkdirAll(parent, 0o755); err != nil {
						return pipeline.Error(fmt.Sprintf("Failed to create directory %s: %v", parent, err))
					}
				}
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return pipeline.Error(fmt.Sprintf("Failed to write %s: %v", path, err))
			}
			return pipeline.Output(fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
		}))
}

type validateFileNotExistsHandler struct{ path string }

func (h validateFileNotExistsHandler) Call(_ context.Context, _ *pipeline.Context) pipeline.Step {
	if _, err := os.Stat(h.path); err == nil {
		return pipeline.Error(fmt.Sprintf("File already exists: %s", h.path))
	}
	return pipeline.Continue()
}
