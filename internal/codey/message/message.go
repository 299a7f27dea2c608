// Package message defines the conversation history shapes shared between
// the agent and llmclient packages: user turns, assistant turns, and the
// tool_result content blocks fed back after tool execution.
package message

// Role names who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockKind discriminates the content blocks inside a Message.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// Block is one piece of a Message's content array. Signature carries the
// opaque thinking-block signature Anthropic requires to be echoed back
// verbatim on later turns when interleaved thinking is enabled; it must
// never be inspected or mutated, only stored and replayed.
type Block struct {
	Kind      BlockKind
	Text      string
	Signature string

	ToolUseId string
	ToolName  string
	ToolInput map[string]any

	ToolResultId      string
	ToolResultContent string
	ToolResultIsError bool
}

// Message is one turn of conversation history.
type Message struct {
	Role   Role
	Blocks []Block
}

func User(text string) Message {
	return Message{Role: RoleUser, Blocks: []Block{{Kind: BlockText, Text: text}}}
}

func Assistant(blocks ...Block) Message {
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// ToolResult is one tool's outcome, ready to be folded into the next
// user-role message sent back to the model.
type ToolResult struct {
	ToolUseId string
	Content   string
	IsError   bool
}

// ToolResults packages tool outcomes as the content blocks of a single
// user-role message, matching the wire shape Anthropic's API expects for
// returning tool_result blocks.
func ToolResults(results []ToolResult) Message {
	blocks := make([]Block, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, Block{
			Kind:              BlockToolResult,
			ToolResultId:      r.ToolUseId,
			ToolResultContent: r.Content,
			ToolResultIsError: r.IsError,
		})
	}
	return Message{Role: RoleUser, Blocks: blocks}
}
