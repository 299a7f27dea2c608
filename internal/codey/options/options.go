// Package options aggregates the runtime's command-line/config surface
// following the AddFlags/Validate convention used across this codebase's
// server components: each concern owns its own flag registration and
// validation, and Options composes them.
package options

import (
	"fmt"

	"github.com/spf13/pflag"

	"codey/internal/codey/tool"
)

// ModelOptions selects which model and endpoint the runtime talks to.
type ModelOptions struct {
	Model      string `json:"model" mapstructure:"model"`
	Endpoint   string `json:"endpoint" mapstructure:"endpoint"`
	MaxTokens  int    `json:"max-tokens" mapstructure:"max-tokens"`
	MaxRetries int    `json:"max-retries" mapstructure:"max-retries"`
}

func NewModelOptions() *ModelOptions {
	return &ModelOptions{
		Model:      "claude-sonnet-4-5",
		Endpoint:   "https://api.anthropic.com/v1/messages",
		MaxTokens:  8192,
		MaxRetries: 3,
	}
}

func (o *ModelOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Model, "model", o.Model, "Model identifier to request from the LLM endpoint.")
	fs.StringVar(&o.Endpoint, "endpoint", o.Endpoint, "LLM Messages API endpoint.")
	fs.IntVar(&o.MaxTokens, "max-tokens", o.MaxTokens, "Maximum output tokens per turn.")
	fs.IntVar(&o.MaxRetries, "max-retries", o.MaxRetries, "Maximum retry attempts for transient upstream errors. Only validated; the agent's retry limit is fixed at 3.")
}

func (o *ModelOptions) Validate() []error {
	var errs []error
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("model is required"))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max-retries must be >= 0"))
	}
	return errs
}

// ToolOptions holds the per-tool regex filters loaded from config, keyed
// by tool name.
type ToolOptions struct {
	Filters map[string]tool.FilterConfig `json:"filters" mapstructure:"filters"`
}

func NewToolOptions() *ToolOptions {
	return &ToolOptions{Filters: map[string]tool.FilterConfig{}}
}

func (o *ToolOptions) AddFlags(*pflag.FlagSet) {
	// Filters are only configurable via file/config, not flags: regex
	// lists don't have an ergonomic single-flag form.
}

func (o *ToolOptions) Validate() []error {
	var errs []error
	for name, cfg := range o.Filters {
		if _, err := tool.Compile(name, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// MCPOptions points at the MCP server configuration file, mirroring the
// single-file config pattern this codebase uses for MCP.
type MCPOptions struct {
	ConfigFile string `json:"config-file" mapstructure:"config-file"`
}

func NewMCPOptions() *MCPOptions {
	return &MCPOptions{}
}

func (o *MCPOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "mcp-config", o.ConfigFile, "Path to the MCP servers configuration file.")
}

func (o *MCPOptions) Validate() []error {
	return nil
}

// IDEOptions points at the websocket endpoint an IDE extension listens
// on for round-trip effects (open, preview, diff, reload). Left empty,
// the runtime never dials out and IDE effects resolve as no-ops.
type IDEOptions struct {
	BridgeURL string `json:"bridge-url" mapstructure:"bridge-url"`
}

func NewIDEOptions() *IDEOptions {
	return &IDEOptions{}
}

func (o *IDEOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.BridgeURL, "ide-bridge", o.BridgeURL, "Websocket URL of an IDE extension to send editor round-trip effects to.")
}

func (o *IDEOptions) Validate() []error {
	return nil
}

// Options aggregates every configurable concern of the runtime.
type Options struct {
	Model *ModelOptions
	Tools *ToolOptions
	MCP   *MCPOptions
	IDE   *IDEOptions

	LogLevel  string `json:"log-level" mapstructure:"log-level"`
	LogFormat string `json:"log-format" mapstructure:"log-format"`
}

func NewOptions() *Options {
	return &Options{
		Model:     NewModelOptions(),
		Tools:     NewToolOptions(),
		MCP:       NewMCPOptions(),
		IDE:       NewIDEOptions(),
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Model.AddFlags(fs)
	o.Tools.AddFlags(fs)
	o.MCP.AddFlags(fs)
	o.IDE.AddFlags(fs)
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn, error.")
	fs.StringVar(&o.LogFormat, "log-format", o.LogFormat, "Log format: text or json.")
}

func (o *Options) Validate() []error {
	var errs []error
	errs = append(errs, o.Model.Validate()...)
	errs = append(errs, o.Tools.Validate()...)
	errs = append(errs, o.MCP.Validate()...)
	errs = append(errs, o.IDE.Validate()...)
	return errs
}
