package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_DenyTakesPriorityOverAllow(t *testing.T) {
	cfg := FilterConfig{
		"command": ParamFilterConfig{
			Allow: []string{"^ls\\b"},
			Deny:  []string{"rm\\s+-rf\\s+/"},
		},
	}
	cf, err := Compile("shell", cfg)
	require.NoError(t, err)

	result := cf.Evaluate(map[string]any{"command": "rm -rf / --no-preserve-root"})
	assert.Equal(t, FilterDeny, result)
}

func TestFilter_AllowWhenNoDenyMatches(t *testing.T) {
	cfg := FilterConfig{
		"command": ParamFilterConfig{Allow: []string{"^ls\\b", "^find\\b"}},
	}
	cf, err := Compile("shell", cfg)
	require.NoError(t, err)

	assert.Equal(t, FilterAllow, cf.Evaluate(map[string]any{"command": "ls -la"}))
}

func TestFilter_NoMatchFallsThrough(t *testing.T) {
	cfg := FilterConfig{
		"path": ParamFilterConfig{
			Allow: []string{`\.(go|md)$`},
			Deny:  []string{`\.env$`},
		},
	}
	cf, err := Compile("read_file", cfg)
	require.NoError(t, err)

	assert.Equal(t, FilterNoMatch, cf.Evaluate(map[string]any{"path": "notes.txt"}))
}

func TestFilter_NonStringParamsAreStringified(t *testing.T) {
	cfg := FilterConfig{"count": ParamFilterConfig{Deny: []string{"^0$"}}}
	cf, err := Compile("web_search", cfg)
	require.NoError(t, err)

	assert.Equal(t, FilterDeny, cf.Evaluate(map[string]any{"count": 0}))
}

func TestCompile_RejectsInvalidPattern(t *testing.T) {
	cfg := FilterConfig{"path": ParamFilterConfig{Allow: []string{"("}}}
	_, err := Compile("read_file", cfg)
	assert.Error(t, err)
}
