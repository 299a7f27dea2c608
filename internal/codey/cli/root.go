// Package cli wires the cobra command tree for the codey binary.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codey/internal/codey/logging"
	"codey/internal/codey/options"
)

// NewRootCommand builds the `codey` command with its persistent flags
// and the `chat` subcommand.
func NewRootCommand() *cobra.Command {
	opts := options.NewOptions()

	cmd := &cobra.Command{
		Use:   "codey",
		Short: "codey is a terminal AI coding assistant",
		Long: `codey drives an LLM-backed coding agent with a small, composable set of
tools (read/write/edit files, run shell commands, fetch URLs) under a
single-threaded event loop that keeps tool execution, approval prompts,
and streaming responses in lockstep.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.Configure(opts.LogLevel, opts.LogFormat == "json")
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	opts.AddFlags(flags)
	_ = viper.BindPFlags(flags)

	var configFile string
	flags.StringVar(&configFile, "config", "", "Path to a codey config file.")

	cmd.AddCommand(newChatCommand(opts, &configFile))
	return cmd
}
