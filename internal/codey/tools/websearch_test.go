package tools

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"codey/internal/codey/pipeline"
)

func TestWebSearchTool_MissingQueryFailsValidation(t *testing.T) {
	p := WebSearchTool{}.Compose(map[string]any{})
	step := runPastApproval(t, p)
	assert.Equal(t, pipeline.StepError, step.Kind)
}

func TestWebSearchTool_MissingAPIKeyReportsError(t *testing.T) {
	t.Setenv("BRAVE_API_KEY", "")

	p := WebSearchTool{}.Compose(map[string]any{"query": "golang"})
	step := runPastApproval(t, p)
	assert.Equal(t, pipeline.StepError, step.Kind)
	assert.Contains(t, step.Content, "BRAVE_API_KEY")
}

func TestWebSearchTool_RendersTitleAndURLPerResult(t *testing.T) {
	t.Setenv("BRAVE_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Subscription-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Go","url":"https://go.dev"}]}}`))
	}))
	defer server.Close()

	p := WebSearchTool{BaseURL: server.URL}.Compose(map[string]any{"query": "golang"})
	step := runPastApproval(t, p)
	assert.Equal(t, "1. [Go](https://go.dev)\n", step.Content)
}

func TestWebSearchTool_NoResultsReportsFriendlyMessage(t *testing.T) {
	t.Setenv("BRAVE_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer server.Close()

	p := WebSearchTool{BaseURL: server.URL}.Compose(map[string]any{"query": "golang"})
	step := runPastApproval(t, p)
	assert.Equal(t, "No results found.", step.Content)
}

func TestWebSearchTool_CountIsCappedAtTwenty(t *testing.T) {
	t.Setenv("BRAVE_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("count"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer server.Close()

	p := WebSearchTool{BaseURL: server.URL}.Compose(map[string]any{"query": "golang", "count": 50})
	runPastApproval(t, p)
}
