package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"codey/internal/codey/pipeline"
	"codey/internal/codey/tool"
)

// FetchUrlTool retrieves a URL's body and prefixes it with a header
// describing the URL, content type, and size, matching the header
// format tool callers expect to parse out visually.
type FetchUrlTool struct {
	HTTPClient *http.Client
}

func (t FetchUrlTool) client() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

func (FetchUrlTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "fetch_url",
		Description: "Fetch the contents of a URL.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":        map[string]any{"type": "string"},
				"max_length": map[string]any{"type": "integer"},
			},
			"required": []string{"url"},
		},
	}
}

func (t FetchUrlTool) Compose(params map[string]any) *pipeline.Pipeline {
	url, _ := params["url"].(string)
	if url == "" {
		return pipeline.ErrorPipeline("Invalid params: \"url\" is required")
	}
	maxLength := intParam(params, "max_length")

	return pipeline.New().Then(pipeline.HandlerFunc(func(ctx context.Context, _ *pipeline.Context) pipeline.Step {
		content, contentType, err := fetchURL(ctx, t.client(), url, maxLength)
		if err != nil {
			return pipeline.Error(err.Error())
		}
		header := fmt.Sprintf("[URL: %s]\n[Content-Type: %s]\n[Size: %d bytes]\n\n", url, contentType, len(content))
		return pipeline.Output(header + content)
	}))
}

func fetchURL(ctx context.Context, client *http.Client, url string, maxLength *int) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	limit := int64(1 << 20)
	if maxLength != nil {
		limit = int64(*maxLength)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), resp.Header.Get("Content-Type"), nil
}
