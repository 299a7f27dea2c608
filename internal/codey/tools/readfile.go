package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// ReadFileTool reads a file's contents, optionally restricted to a line
// range, prefixing each line with its 1-based line number.
type ReadFileTool struct{}

func (ReadFileTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "read_file",
		Description: "Read the contents of a file, optionally restricted to a line range.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":       map[string]any{"type": "string", "description": "Path to the file to read"},
				"start_line": map[string]any{"type": "integer", "description": "First line to include (1-based)"},
				"end_line":   map[string]any{"type": "integer", "description": "Last line to include (1-based)"},
			},
			"required": []string{"path"},
		},
	}
}

func (ReadFileTool) Compose(params map[string]any) *pipeline.Pipeline {
	path, ok := params["path"].(string)
	if !ok || path == "" {
		return pipeline.ErrorPipeline("Invalid params: \"path\" is required")
	}
	start, end := intParam(params, "start_line"), intParam(params, "end_line")

	return pipeline.New().
		Pre(validateFileHandler{path: path}).
		Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
			content, err := readFile(path, start, end)
			if err != nil {
				return pipeline.Error(err.Error())
			}
			return pipeline.Output(content)
		}))
}

func intParam(params map[string]any, key string) *int {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		return &n
	}
	return nil
}

// readFile is grounded on the line-numbered read format used across this
// codebase's file tools.
func readFile(path string, startLine, endLine *int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if startLine != nil && line < *startLine {
			continue
		}
		if endLine != nil && line > *endLine {
			break
		}
		fmt.Fprintf(&b, "%6d\t%s\n", line, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return b.String(), nil
}

// validateFileHandler checks the target exists and is not a directory,
// distinguishing "not found" from other access errors so tool
// callers can tell apart the two failure modes.
type validateFileHandler struct{ path string }

func (h validateFileHandler) Call(_ context.Context, _ *pipeline.Context) pipeline.Step {
	info, err := os.Stat(h.path)
	switch {
	case err == nil && info.IsDir():
		return pipeline.Error(fmt.Sprintf("Not a file: %s", h.path))
	case err == nil:
		return pipeline.Continue()
	case os.IsNotExist(err):
		return pipeline.Error(fmt.Sprintf("File not found: %s", h.path))
	default:
		return pipeline.Error(fmt.Sprintf("Cannot access %s: %v", h.path, err))
	}
}
