package agent

// EventType discriminates the events an agent stream can emit.
type EventType string

const (
	// EventStreamStart opens the stream. Exactly one per turn, always first.
	EventStreamStart EventType = "stream_start"

	// EventStreamToken carries a text fragment of the response.
	EventStreamToken EventType = "stream_token"

	// EventToolCall reports that the agent invoked a tool.
	EventToolCall EventType = "tool_call"

	// EventToolResult reports the outcome of a prior tool call.
	EventToolResult EventType = "tool_result"

	// EventStreamEnd closes the stream with the aggregated response text.
	// At most one per turn, always last.
	EventStreamEnd EventType = "stream_end"
)

// Request describes one conversational turn handed to [Provider.Stream].
type Request struct {
	// Input is the user's message text.
	Input string

	// SessionID is the logical conversation this turn belongs to.
	SessionID string

	// UserID identifies the speaking user.
	UserID string

	// AgentID selects which configured agent answers.
	AgentID string

	// Persona optionally overrides the agent's configured persona prompt.
	Persona string

	// Images are optional base64-encoded attachments for multimodal input.
	Images []string

	// Metadata is passed through from the client untouched.
	Metadata map[string]any
}

// Event is one element of an agent stream. Type selects which of the other
// fields are meaningful.
type Event struct {
	// Type discriminates the event.
	Type EventType

	// TurnID and SessionID identify the turn. Set on stream_start and
	// stream_end.
	TurnID    string
	SessionID string

	// Chunk is the text fragment of a stream_token event.
	Chunk string

	// Node optionally names the agent-graph node that produced this event.
	Node string

	// ToolName and Args describe a tool_call event. Args is the
	// JSON-encoded argument string as received from the model.
	ToolName string
	Args     string

	// Result is the outcome text of a tool_result event.
	Result string

	// Content is the full aggregated response, set on stream_end.
	Content string

	// Err reports a mid-stream failure. When non-nil all other fields are
	// undefined and the channel closes after this event.
	Err error
}
