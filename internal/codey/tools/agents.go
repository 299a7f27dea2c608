package tools

import (
	"context"
	"fmt"
	"sort"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/registry"
	"codey/internal/codey/tool"
)

// ListAgentsTool reports every spawned sub-agent (and the primary agent)
// with its label and status.
type ListAgentsTool struct{ Registry *registry.Registry }

func (ListAgentsTool) Definition() tool.Definition {
	return tool.Definition{
		Name: "list_agents",
		Description: "List all spawned sub-agents and their status. Returns agent IDs, labels, " +
			"and status (Running, Finished, or Error). Use get_agent to retrieve results from finished agents.",
		Schema: map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}},
	}
}

func (t ListAgentsTool) Compose(_ map[string]any) *pipeline.Pipeline {
	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		if t.Registry == nil {
			return pipeline.Output("No agents registered.")
		}
		snapshots := t.Registry.List()
		sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Id < snapshots[j].Id })

		out := ""
		for _, s := range snapshots {
			label := s.Label
			if s.Id == registry.PrimaryAgentId {
				label = "primary"
			}
			out += fmt.Sprintf("%d (%s) [%s]\n", s.Id, label, s.Status)
		}
		return pipeline.Output(out)
	}))
}

// GetAgentTool retrieves a spawned sub-agent's result by label. If the
// agent is still running, it reports the current status instead of
// erroring — the caller is expected to poll.
type GetAgentTool struct{ Registry *registry.Registry }

func (GetAgentTool) Definition() tool.Definition {
	return tool.Definition{
		Name: "get_agent",
		Description: "Retrieve the result of a finished sub-agent by its label. Returns the agent's " +
			"final message. If the agent is still running, returns its current status.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"label": map[string]any{"type": "string"}},
			"required":   []string{"label"},
		},
	}
}

func (t GetAgentTool) Compose(params map[string]any) *pipeline.Pipeline {
	label, _ := params["label"].(string)
	if label == "" {
		return pipeline.ErrorPipeline("Invalid params: \"label\" is required")
	}
	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		if t.Registry == nil {
			return pipeline.Error(fmt.Sprintf("no agent labeled %q", label))
		}
		e, ok := t.Registry.GetByLabel(label)
		if !ok {
			return pipeline.Error(fmt.Sprintf("no agent labeled %q", label))
		}
		if e.Status == registry.StatusRunning {
			return pipeline.Output(fmt.Sprintf("agent %q is still running", label))
		}
		return pipeline.Step{Kind: pipeline.StepOutput, Content: e.Output, IsError: e.Status == registry.StatusError}
	}))
}
