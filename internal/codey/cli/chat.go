package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"codey/internal/codey/agent"
	"codey/internal/codey/config"
	"codey/internal/codey/eventloop"
	"codey/internal/codey/executor"
	"codey/internal/codey/idebridge"
	"codey/internal/codey/ids"
	"codey/internal/codey/llmclient"
	"codey/internal/codey/logging"
	"codey/internal/codey/mcpbridge"
	"codey/internal/codey/options"
	agentregistry "codey/internal/codey/registry"
	"codey/internal/codey/tool"
	"codey/internal/codey/tools"
)

var log = logging.For("cli")

const systemPrompt = `You are codey, a terminal-based coding assistant. You can read and edit
files, run shell commands, and fetch URLs. Prefer small, verifiable
steps and explain what you changed.`

func newChatCommand(opts *options.Options, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Start an interactive session, or send a single message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile, opts)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, args)
		},
	}
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, args []string) error {
	sessionID := ids.NewSessionId()
	log.Infof("starting session %s", sessionID)

	creds := llmclient.Credentials{APIKey: os.Getenv("ANTHROPIC_API_KEY")}
	client := llmclient.New(cfg.Model.Model, creds)
	client.Endpoint = cfg.Model.Endpoint
	client.MaxTokens = cfg.Model.MaxTokens

	bg := tools.NewBackgroundStore()

	// The primary agent must exist before agentRegistry can register it,
	// and agentRegistry must exist before FullRegistry can wire
	// list_agents/get_agent. The agent is built with an empty tool list
	// first and given its real one once every tool is registered.
	a := agent.New(0, client, systemPrompt, nil)
	agentRegistry := agentregistry.New(a)
	toolRegistry := tools.FullRegistry(bg, agentRegistry)

	if cfg.MCP.ConfigFile != "" {
		mcpCfg, err := mcpbridge.LoadConfig(cfg.MCP.ConfigFile)
		if err != nil {
			return err
		}
		mcpTools, servers, err := mcpbridge.ConnectAll(ctx, mcpCfg)
		if err != nil {
			return err
		}
		for _, t := range mcpTools {
			toolRegistry.Register(t)
		}
		defer func() {
			for _, s := range servers {
				s.Close()
			}
		}()
	}
	ex := executor.New(toolRegistry)
	toolRegistry.Register(tools.ListTasksTool{Executor: ex})
	toolRegistry.Register(tools.GetTaskResultTool{Executor: ex})

	filters, err := compileFilters(cfg.Tools.Filters)
	if err != nil {
		return err
	}
	ex.SetFilters(filters)
	a.SetFilters(filters)

	a.SetTools(toolSchemas(toolRegistry))

	in := make(chan eventloop.ClientMessage, 8)
	out := make(chan eventloop.ServerMessage, 8)
	session := eventloop.NewSession(a, ex, in, out)
	session.Registry = agentRegistry
	session.Client = client
	session.Background = bg
	subRegistry := tools.ReadOnlyRegistry()
	session.SubAgentTools = subRegistry
	session.SubAgentSchemas = toolSchemas(subRegistry)

	if cfg.IDE.BridgeURL != "" {
		bridge, err := idebridge.Dial(ctx, cfg.IDE.BridgeURL)
		if err != nil {
			log.Warnf("ide bridge: %v, continuing without it", err)
		} else {
			session.IDE = bridge
			defer bridge.Close()
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go session.Run(runCtx)

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithColorProfile(termenv.ANSI256),
		glamour.WithWordWrap(terminalWidth()),
	)

	if len(args) > 0 {
		return runOnce(in, out, strings.Join(args, " "), renderer)
	}
	return runInteractive(in, out, renderer)
}

// compileFilters compiles the configured per-tool approval filters once at
// startup. options.ToolOptions.Validate already rejects invalid patterns
// during flag/config parsing, so a compile error here would mean cfg was
// never validated; it is still handled rather than assumed away.
func compileFilters(cfgFilters map[string]tool.FilterConfig) (map[string]*tool.CompiledFilter, error) {
	filters := make(map[string]*tool.CompiledFilter, len(cfgFilters))
	for name, fc := range cfgFilters {
		cf, err := tool.Compile(name, fc)
		if err != nil {
			return nil, fmt.Errorf("compiling filter for %s: %w", name, err)
		}
		filters[name] = cf
	}
	return filters, nil
}

func toolSchemas(reg *tool.Registry) []agent.ToolSchema {
	defs := reg.Definitions()
	out := make([]agent.ToolSchema, 0, len(defs))
	for _, d := range defs {
		out = append(out, agent.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Schema})
	}
	return out
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

func runOnce(in chan<- eventloop.ClientMessage, out <-chan eventloop.ServerMessage, message string, renderer *glamour.TermRenderer) error {
	in <- eventloop.ClientMessage{Kind: eventloop.ClientSendMessage, Content: message}
	var text strings.Builder
	for msg := range out {
		if handled := printServerMessage(msg, &text, renderer, in); handled {
			return nil
		}
	}
	return nil
}

func runInteractive(in chan<- eventloop.ClientMessage, out <-chan eventloop.ServerMessage, renderer *glamour.TermRenderer) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(in)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("codey — type a message, or /quit to exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			in <- eventloop.ClientMessage{Kind: eventloop.ClientGetHistory}
			printServerMessage(<-out, &strings.Builder{}, renderer, in)
			continue
		case "/state":
			in <- eventloop.ClientMessage{Kind: eventloop.ClientGetState}
			printServerMessage(<-out, &strings.Builder{}, renderer, in)
			continue
		}
		in <- eventloop.ClientMessage{Kind: eventloop.ClientSendMessage, Content: line}

		var text strings.Builder
		for msg := range out {
			if done := printServerMessage(msg, &text, renderer, in); done {
				break
			}
		}
	}
}

// printServerMessage renders one ServerMessage and reports whether the
// current turn has reached a terminal state.
func printServerMessage(msg eventloop.ServerMessage, text *strings.Builder, renderer *glamour.TermRenderer, in chan<- eventloop.ClientMessage) bool {
	switch msg.Kind {
	case eventloop.ServerTextDelta:
		text.WriteString(msg.Text)
	case eventloop.ServerToolAwaitingApproval:
		fmt.Printf("\n[approve %s? y/n] ", msg.CallId)
		approved := readApproval()
		in <- eventloop.ClientMessage{Kind: eventloop.ClientToolDecision, CallId: msg.CallId, Approved: approved}
	case eventloop.ServerFinished:
		printRendered(text.String(), renderer)
		return true
	case eventloop.ServerError:
		fmt.Printf("\nerror: %v\n", msg.Err)
		return true
	case eventloop.ServerRetrying:
		log.Warnf("retrying after error (attempt %d): %v", msg.Attempt, msg.Err)
	case eventloop.ServerHistory:
		fmt.Printf("\n%d turn(s) recorded\n", len(msg.Turns))
	case eventloop.ServerState:
		fmt.Printf("\nagent state: %s\n", msg.State)
	}
	return false
}

func printRendered(text string, renderer *glamour.TermRenderer) {
	if renderer == nil {
		fmt.Println(text)
		return
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		fmt.Println(text)
		return
	}
	fmt.Print(rendered)
}

func readApproval() bool {
	var response string
	fmt.Scanln(&response)
	return strings.EqualFold(response, "y") || strings.EqualFold(response, "yes")
}
