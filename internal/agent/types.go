package agent

// ResponseType enumerates the variants an AgentResponse can carry (spec
// §6's AgentResponse shape).
type ResponseType string

const (
	ResponseOutputText     ResponseType = "output_text"
	ResponseReasoning      ResponseType = "reasoning"
	ResponseToolCall       ResponseType = "tool_call"
	ResponseToolCallResult ResponseType = "tool_call_result"
	ResponseError          ResponseType = "error"
)

// ToolCallContent is the content payload of a ResponseToolCall event.
type ToolCallContent struct {
	ID       string
	Name     string
	Arguments map[string]any
}

// ToolMessageContent is the content payload of a ResponseToolCallResult
// event: the tool message appended to the conversation.
type ToolMessageContent struct {
	ToolCallID string
	Content    string
}

// Response is one event yielded by Query (spec §6's "AgentResponse"): role
// is "assistant" for everything but ResponseToolCallResult, which carries
// "tool". IsTypeSwitched is true iff Type differs from the previously
// yielded event's Type (tool calls and tool results always switch, spec
// §4.8 step 2c).
type Response struct {
	Type           ResponseType
	Role           string
	IsTypeSwitched bool

	Text       string
	ToolCall   *ToolCallContent
	ToolResult *ToolMessageContent
	Err        error
}
