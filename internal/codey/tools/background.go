package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// TaskStatus is the lifecycle state of a background task.
type TaskStatus int

const (
	TaskRunning TaskStatus = iota
	TaskComplete
	TaskError
)

func (s TaskStatus) String() string {
	switch s {
	case TaskRunning:
		return "Running"
	case TaskComplete:
		return "Complete"
	case TaskError:
		return "Error"
	default:
		return "Unknown"
	}
}

// backgroundTask is one tool call running outside the pipeline that
// produced it, tracked so its result can be retrieved later.
type backgroundTask struct {
	CallId string
	Name   string
	Status TaskStatus
	Result string
}

// BackgroundStore tracks background tasks across a session. It is shared
// by the tool that submits a background call and the two tools
// (list/get) that query it.
type BackgroundStore struct {
	mu    sync.Mutex
	tasks map[string]*backgroundTask
}

func NewBackgroundStore() *BackgroundStore {
	return &BackgroundStore{tasks: map[string]*backgroundTask{}}
}

func (s *BackgroundStore) Start(callID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[callID] = &backgroundTask{CallId: callID, Name: name, Status: TaskRunning}
}

func (s *BackgroundStore) Complete(callID, result string, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[callID]
	if !ok {
		return
	}
	t.Result = result
	if isError {
		t.Status = TaskError
	} else {
		t.Status = TaskComplete
	}
}

// List renders each task as "{call_id} ({name}) [{status}]", sorted by
// call id for stable output.
func (s *BackgroundStore) List() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return "No background tasks."
	}
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := ""
	for _, id := range ids {
		t := s.tasks[id]
		out += fmt.Sprintf("%s (%s) [%s]\n", t.CallId, t.Name, t.Status)
	}
	return out
}

// Take retrieves and removes a completed task's result. Returns an error
// if the task is still running or does not exist.
func (s *BackgroundStore) Take(callID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[callID]
	if !ok {
		return "", false, fmt.Errorf("no background task with id %s", callID)
	}
	if t.Status == TaskRunning {
		return "", false, fmt.Errorf("background task %s is still running", callID)
	}
	delete(s.tasks, callID)
	return t.Result, t.Status == TaskError, nil
}

// ListBackgroundTasksTool reports every tracked background task and its
// status.
type ListBackgroundTasksTool struct{ Store *BackgroundStore }

func (ListBackgroundTasksTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "list_background_tasks",
		Description: "List all background tasks and their status. Returns task IDs, tool names, and status (Running, Complete, or Error). Use get_background_task to retrieve results.",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}},
	}
}

func (t ListBackgroundTasksTool) Compose(_ map[string]any) *pipeline.Pipeline {
	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		return pipeline.Output(t.Store.List())
	}))
}

// GetBackgroundTaskTool retrieves a completed background task's result,
// removing it from tracking once read.
type GetBackgroundTaskTool struct{ Store *BackgroundStore }

func (GetBackgroundTaskTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "get_background_task",
		Description: "Retrieve the result of a completed background task by its task_id. The result is removed from tracking after retrieval. Returns an error if the task is still running or doesn't exist.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"task_id": map[string]any{"type": "string"}},
			"required":   []string{"task_id"},
		},
	}
}

func (t GetBackgroundTaskTool) Compose(params map[string]any) *pipeline.Pipeline {
	taskID, _ := params["task_id"].(string)
	if taskID == "" {
		return pipeline.ErrorPipeline("Invalid params: \"task_id\" is required")
	}
	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(_ context.Context, _ *pipeline.Context) pipeline.Step {
		result, isError, err := t.Store.Take(taskID)
		if err != nil {
			return pipeline.Error(err.Error())
		}
		return pipeline.Step{Kind: pipeline.StepOutput, Content: result, IsError: isError}
	}))
}
