package tool

import (
	"fmt"
	"regexp"
)

// Decision is the approval state of one ToolCall, set either by the
// Agent (from configured filters, before the call ever reaches the
// Executor) or left unset for the Executor to resolve itself.
type Decision int

const (
	DecisionUnset Decision = iota
	DecisionApproved
	DecisionDenied
	DecisionCancelled
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionDenied:
		return "denied"
	case DecisionCancelled:
		return "cancelled"
	default:
		return "unset"
	}
}

// FilterResult is the outcome of evaluating a tool call's parameters
// against a CompiledFilter.
type FilterResult int

const (
	// FilterNoMatch means no allow or deny pattern matched; the caller
	// falls through to whatever default permission level applies.
	FilterNoMatch FilterResult = iota
	FilterAllow
	FilterDeny
)

// ParamFilterConfig is the raw, unmarshaled allow/deny regex list for one
// parameter of one tool, as loaded from configuration. Example:
//
//	[tools.filters.shell]
//	command.allow = ["^ls\\b", "^find\\b"]
//	command.deny  = ["rm\\s+-rf\\s+/", "sudo\\s+rm"]
type ParamFilterConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// FilterConfig maps parameter name -> its allow/deny pattern lists, for a
// single tool.
type FilterConfig map[string]ParamFilterConfig

// CompiledParamFilter holds pre-compiled regexes for one parameter.
type CompiledParamFilter struct {
	Allow []*regexp.Regexp
	Deny  []*regexp.Regexp
}

// CompiledFilter is a ready-to-evaluate filter for one tool.
type CompiledFilter struct {
	ToolName string
	Params   map[string]CompiledParamFilter
}

// Compile validates and compiles every pattern in cfg, failing fast with
// the offending pattern named so a misconfigured filter is caught at
// startup rather than at first use.
func Compile(toolName string, cfg FilterConfig) (*CompiledFilter, error) {
	cf := &CompiledFilter{ToolName: toolName, Params: map[string]CompiledParamFilter{}}
	for param, pf := range cfg {
		compiled := CompiledParamFilter{}
		for _, pat := range pf.Allow {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("tool %q param %q allow pattern %q: %w", toolName, param, pat, err)
			}
			compiled.Allow = append(compiled.Allow, re)
		}
		for _, pat := range pf.Deny {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("tool %q param %q deny pattern %q: %w", toolName, param, pat, err)
			}
			compiled.Deny = append(compiled.Deny, re)
		}
		cf.Params[param] = compiled
	}
	return cf, nil
}

// Evaluate applies deny-first evaluation across every configured
// parameter present in params: any deny match anywhere short-circuits to
// FilterDeny; otherwise any allow match anywhere yields FilterAllow;
// otherwise FilterNoMatch.
func (cf *CompiledFilter) Evaluate(params map[string]any) FilterResult {
	anyAllowMatched := false
	for name, pf := range cf.Params {
		raw, ok := params[name]
		if !ok {
			continue
		}
		value := stringify(raw)
		for _, re := range pf.Deny {
			if re.MatchString(value) {
				return FilterDeny
			}
		}
		for _, re := range pf.Allow {
			if re.MatchString(value) {
				anyAllowMatched = true
			}
		}
	}
	if anyAllowMatched {
		return FilterAllow
	}
	return FilterNoMatch
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
