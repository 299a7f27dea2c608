package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// ShellTool runs a shell command with a bounded timeout. A non-zero exit
// code is still reported as output (with its status appended) rather
// than as a pipeline error — including "command not found", which sh
// reports as exit code 127. Only a failure to run sh itself or a
// timeout becomes Step.Error.
type ShellTool struct{}

func (ShellTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "shell",
		Description: "Execute a shell command and return its combined stdout/stderr output.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":     map[string]any{"type": "string"},
				"working_dir": map[string]any{"type": "string"},
				"timeout_secs": map[string]any{"type": "integer", "description": "Timeout in seconds, default 60"},
			},
			"required": []string{"command"},
		},
	}
}

func (ShellTool) Compose(params map[string]any) *pipeline.Pipeline {
	command, _ := params["command"].(string)
	if command == "" {
		return pipeline.ErrorPipeline("Invalid params: \"command\" is required")
	}
	workingDir, _ := params["working_dir"].(string)
	timeout := 60
	if t := intParam(params, "timeout_secs"); t != nil {
		timeout = *t
	}

	return pipeline.New().
		RequireApproval().
		Then(pipeline.HandlerFunc(func(ctx context.Context, _ *pipeline.Context) pipeline.Step {
			output, err := runShell(ctx, command, workingDir, timeout)
			if err != nil {
				return pipeline.Error(err.Error())
			}
			return pipeline.Output(output)
		}))
}

func runShell(parent context.Context, command, workingDir string, timeoutSecs int) (string, error) {
	ctx, cancel := context.WithTimeout(parent, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %ds", timeoutSecs)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Sprintf("%s\n[exit code: %d]", output, exitErr.ExitCode()), nil
		}
		return "", fmt.Errorf("failed to execute command: %w", err)
	}
	return output, nil
}
