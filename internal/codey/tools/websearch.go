package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// WebSearchTool queries the Brave Search API and renders titles and URLs
// for the model to read. It requires a BRAVE_API_KEY environment
// variable; without one the search stage returns a Step.Error naming the
// missing variable, so the model receives it as an error tool result it
// can surface to the user.
type WebSearchTool struct {
	HTTPClient *http.Client
	// BaseURL overrides the Brave Search endpoint, for tests.
	BaseURL string
}

const webSearchToolName = "mcp_web_search"
const braveSearchBaseURL = "https://api.search.brave.com/res/v1/web/search"

func (t WebSearchTool) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

func (t WebSearchTool) baseURL() string {
	if t.BaseURL != "" {
		return t.BaseURL
	}
	return braveSearchBaseURL
}

func (WebSearchTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        webSearchToolName,
		Description: "Returns relevant web results with titles and URLs.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "The search query"},
				"count": map[string]any{"type": "integer", "description": "Number of results to return (default: 10, max: 20)"},
			},
			"required": []string{"query"},
		},
	}
}

func (t WebSearchTool) Compose(params map[string]any) *pipeline.Pipeline {
	query, _ := params["query"].(string)
	if query == "" {
		return pipeline.ErrorPipeline("Invalid params: \"query\" is required")
	}
	count := 10
	if c := intParam(params, "count"); c != nil {
		count = *c
	}
	if count > 20 {
		count = 20
	}

	return pipeline.New().RequireApproval().Then(pipeline.HandlerFunc(func(ctx context.Context, _ *pipeline.Context) pipeline.Step {
		output, err := braveSearch(ctx, t.client(), t.baseURL(), query, count)
		if err != nil {
			return pipeline.Error(err.Error())
		}
		return pipeline.Output(output)
	}))
}

type braveSearchResponse struct {
	Web *struct {
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"results"`
	} `json:"web"`
}

func braveSearch(ctx context.Context, client *http.Client, baseURL, query string, count int) (string, error) {
	apiKey := os.Getenv("BRAVE_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("BRAVE_API_KEY environment variable not set. Get an API key from https://brave.com/search/api/")
	}

	reqURL := fmt.Sprintf("%s?q=%s&count=%d", baseURL, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Brave Search API error: %d %s - %s", resp.StatusCode, http.StatusText(resp.StatusCode), string(body))
	}

	var parsed braveSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse Brave Search response: %w", err)
	}

	if parsed.Web == nil {
		return "No web results found.", nil
	}
	if len(parsed.Web.Results) == 0 {
		return "No results found.", nil
	}
	out := ""
	for i, r := range parsed.Web.Results {
		out += fmt.Sprintf("%d. [%s](%s)\n", i+1, r.Title, r.URL)
	}
	return out, nil
}
