package tools

import (
	"codey/internal/codey/registry"
	"codey/internal/codey/tool"
)

// FullRegistry returns the tool set available to the primary agent: full
// file mutation, shell, network, background task management, and the
// ability to spawn sub-agents and inspect them via reg.
func FullRegistry(bg *BackgroundStore, reg *registry.Registry) *tool.Registry {
	return tool.NewRegistry("full").
		Register(ReadFileTool{}).
		Register(WriteFileTool{}).
		Register(EditFileTool{}).
		Register(ShellTool{}).
		Register(FetchUrlTool{}).
		Register(WebSearchTool{}).
		Register(SpawnAgentTool{}).
		Register(ListBackgroundTasksTool{Store: bg}).
		Register(GetBackgroundTaskTool{Store: bg}).
		Register(ListAgentsTool{Registry: reg}).
		Register(GetAgentTool{Registry: reg})
}

// ReadOnlyRegistry is the tool set granted to a spawned sub-agent: no
// file mutation, no approval-gated writes, so a sub-agent can research
// and report but never change the workspace. This is a structural
// guarantee — the sub-agent's Agent is constructed with this registry
// and no other, not a runtime permission check.
func ReadOnlyRegistry() *tool.Registry {
	return tool.NewRegistry("read_only").
		Register(ReadFileTool{}).
		Register(ShellTool{}).
		Register(FetchUrlTool{}).
		Register(WebSearchTool{})
}
