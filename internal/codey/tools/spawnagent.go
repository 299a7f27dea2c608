package tools

import (
	"context"

	"codey/internal/codey/effect"
	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// SpawnAgentTool spawns a sub-agent with read-only tool access to handle
// a subtask and report back its findings. Execution itself happens
// outside the pipeline: the handler only requests it via StepDelegate,
// since running an agent to completion needs the session's LLM client
// and agent registry, neither of which a stateless pipeline Handler has
// access to.
type SpawnAgentTool struct{}

const SpawnAgentToolName = "spawn_agent"

func (SpawnAgentTool) Definition() tool.Definition {
	return tool.Definition{
		Name: SpawnAgentToolName,
		Description: "Spawn a background agent to handle a subtask. The sub-agent has read-only tool access " +
			"(read_file, shell, fetch_url, mcp_web_search) and will return its findings. Use this for research, " +
			"exploration, or analysis tasks that don't require file modifications.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task":    map[string]any{"type": "string", "description": "Clear description of what the sub-agent should accomplish"},
				"context": map[string]any{"type": "string", "description": "Optional context or background information for the sub-agent"},
				"background": map[string]any{
					"type":        "boolean",
					"description": "Run in background. Returns immediately with a task_id; use list_background_tasks/get_background_task to check status and retrieve results.",
				},
			},
			"required": []string{"task"},
		},
	}
}

func (SpawnAgentTool) Compose(params map[string]any) *pipeline.Pipeline {
	task, _ := params["task"].(string)
	if task == "" {
		return pipeline.ErrorPipeline("Invalid params: \"task\" is required")
	}
	taskContext, _ := params["context"].(string)
	background, _ := params["background"].(bool)

	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		return pipeline.Delegate(effect.Effect{
			Kind:       effect.KindSpawnAgent,
			Task:       task,
			Context:    taskContext,
			Background: background,
		})
	}))
}
