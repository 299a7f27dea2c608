package tools

import (
	"context"
	"fmt"
	"sort"

	"codey/internal/codey/executor"
	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// ListTasksTool reports every tool call run in the background (any call
// made with background: true), running or finished, regardless of which
// tool started it. This is the generic counterpart to
// list_background_tasks, which only tracks spawn_agent sub-agents.
type ListTasksTool struct{ Executor *executor.Executor }

func (ListTasksTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "list_tasks",
		Description: "List every tool call run in the background (started with background: true), with its status. Use get_task_result to retrieve a finished one.",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}},
	}
}

func (t ListTasksTool) Compose(_ map[string]any) *pipeline.Pipeline {
	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		tasks := t.Executor.ListTasks()
		if len(tasks) == 0 {
			return pipeline.Output("No background tasks.")
		}
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].CallId < tasks[j].CallId })
		out := ""
		for _, task := range tasks {
			out += fmt.Sprintf("%s (%s) [%s]\n", task.CallId, task.Name, task.Status)
		}
		return pipeline.Output(out)
	}))
}

// GetTaskResultTool retrieves a finished background call's result by its
// call id, removing it from tracking once read.
type GetTaskResultTool struct{ Executor *executor.Executor }

func (GetTaskResultTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "get_task_result",
		Description: "Retrieve the result of a background tool call by its call_id, once it has finished. Errors if it is still running or unknown.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"call_id": map[string]any{"type": "string"}},
			"required":   []string{"call_id"},
		},
	}
}

func (t GetTaskResultTool) Compose(params map[string]any) *pipeline.Pipeline {
	callID, _ := params["call_id"].(string)
	if callID == "" {
		return pipeline.ErrorPipeline("Invalid params: \"call_id\" is required")
	}
	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		result, ok := t.Executor.TakeResult(pipeline.CallId(callID))
		if !ok {
			return pipeline.Error(fmt.Sprintf("no finished background task with call_id %s", callID))
		}
		return pipeline.Step{Kind: pipeline.StepOutput, Content: result.Content, IsError: result.IsError}
	}))
}
