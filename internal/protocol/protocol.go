// Package protocol defines the wire messages exchanged over the
// /v1/chat/stream channel and the codec that validates them.
//
// Both directions carry JSON objects discriminated by a "type" field. The
// inbound set ([Inbound]) is closed: unknown types and missing required
// fields are rejected at decode time with a [*DecodeError] so the gateway
// can answer with an error{code:400} envelope instead of dropping the
// connection. Outbound messages ([Outbound]) are plain structs that carry
// their own type tag and marshal with encoding/json.
package protocol

import "encoding/json"

// Kind is the value of the "type" discriminator on a wire message.
type Kind string

// Inbound message kinds (client → server).
const (
	KindAuthorize          Kind = "authorize"
	KindPong               Kind = "pong"
	KindChatMessage        Kind = "chat_message"
	KindInterruptStream    Kind = "interrupt_stream"
	KindFetchBackgrounds   Kind = "fetch_backgrounds"
	KindFetchAvatarConfigs Kind = "fetch_avatar_configs"
	KindSwitchAvatarConfig Kind = "switch_avatar_config"
)

// Outbound message kinds (server → client).
const (
	KindAuthorizeSuccess    Kind = "authorize_success"
	KindAuthorizeError      Kind = "authorize_error"
	KindPing                Kind = "ping"
	KindError               Kind = "error"
	KindStreamStart         Kind = "stream_start"
	KindStreamToken         Kind = "stream_token"
	KindTTSReadyChunk       Kind = "tts_ready_chunk"
	KindStreamEnd           Kind = "stream_end"
	KindInterrupted         Kind = "interrupted"
	KindBackgroundFiles     Kind = "background_files"
	KindAvatarConfigFiles   Kind = "avatar_config_files"
	KindAvatarConfigSwitch  Kind = "avatar_config_switched"
	KindSetModelAndConf     Kind = "set_model_and_conf"
)

// ─────────────────────────────────────────────────────────────────────────────
// Inbound messages
// ─────────────────────────────────────────────────────────────────────────────

// Inbound is implemented by every client → server message. Concrete values
// are produced by [DecodeInbound]; the interface exists so the gateway's
// dispatch table can switch on the concrete type.
type Inbound interface {
	// InboundKind returns the message's type discriminator.
	InboundKind() Kind
}

// Authorize is the first message a client must send after connecting.
type Authorize struct {
	Token string `json:"token"`
}

// Pong acknowledges a server ping. It carries no payload.
type Pong struct{}

// ChatMessage requests a new conversational turn.
type ChatMessage struct {
	// Content is the user's message text. Required.
	Content string `json:"content"`

	// UserID identifies the speaking user. Required.
	UserID string `json:"user_id"`

	// AgentID selects the companion agent answering this message. Required.
	AgentID string `json:"agent_id"`

	// SessionID continues an existing conversation. When empty the server
	// generates a fresh session identifier.
	SessionID string `json:"session_id,omitempty"`

	// Persona optionally overrides the agent's configured persona prompt.
	Persona string `json:"persona,omitempty"`

	// Images are optional base64-encoded attachments for multimodal input.
	Images []string `json:"images,omitempty"`

	// Metadata is passed through to the agent untouched.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// InterruptStream cancels a running turn. An empty TurnID interrupts every
// active turn on the connection.
type InterruptStream struct {
	TurnID string `json:"turn_id,omitempty"`
}

// FetchBackgrounds requests the list of available background images.
type FetchBackgrounds struct{}

// FetchAvatarConfigs requests the list of available avatar configurations.
type FetchAvatarConfigs struct{}

// SwitchAvatarConfig activates a different avatar configuration file.
type SwitchAvatarConfig struct {
	File string `json:"file"`
}

func (Authorize) InboundKind() Kind          { return KindAuthorize }
func (Pong) InboundKind() Kind               { return KindPong }
func (ChatMessage) InboundKind() Kind        { return KindChatMessage }
func (InterruptStream) InboundKind() Kind    { return KindInterruptStream }
func (FetchBackgrounds) InboundKind() Kind   { return KindFetchBackgrounds }
func (FetchAvatarConfigs) InboundKind() Kind { return KindFetchAvatarConfigs }
func (SwitchAvatarConfig) InboundKind() Kind { return KindSwitchAvatarConfig }

// ─────────────────────────────────────────────────────────────────────────────
// Outbound messages
// ─────────────────────────────────────────────────────────────────────────────

// Outbound is implemented by every server → client message. Each concrete
// type embeds its own "type" tag so a plain json.Marshal produces the final
// wire form.
type Outbound interface {
	// OutboundKind returns the message's type discriminator.
	OutboundKind() Kind
}

// AuthorizeSuccess confirms a successful authorization handshake.
type AuthorizeSuccess struct {
	Type         Kind   `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// AuthorizeError rejects the authorization handshake. The connection is
// closed after this message is sent.
type AuthorizeError struct {
	Type  Kind   `json:"type"`
	Error string `json:"error"`
}

// Ping is the heartbeat probe. Clients must answer with a pong message.
type Ping struct {
	Type Kind `json:"type"`
}

// Error reports a recoverable protocol or turn failure.
type Error struct {
	Type  Kind   `json:"type"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// StreamStart opens a turn's outbound event stream.
type StreamStart struct {
	Type      Kind   `json:"type"`
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
}

// StreamToken carries a raw token fragment for UI typing effects. Emission
// is optional; the contractual text stream is [TTSReadyChunk].
type StreamToken struct {
	Type  Kind   `json:"type"`
	Chunk string `json:"chunk"`
	Node  string `json:"node,omitempty"`
}

// TTSReadyChunk is a normalized, sentence-sized piece of the response ready
// for speech synthesis.
type TTSReadyChunk struct {
	Type    Kind   `json:"type"`
	Chunk   string `json:"chunk"`
	Emotion string `json:"emotion,omitempty"`
}

// StreamEnd closes a completed turn. It is always the final event of a
// turn that ran to completion.
type StreamEnd struct {
	Type      Kind   `json:"type"`
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// Interrupted closes a cancelled turn. It is always the final event of a
// turn that did not run to completion.
type Interrupted struct {
	Type   Kind   `json:"type"`
	TurnID string `json:"turn_id"`
	Reason string `json:"reason"`
}

// BackgroundFiles lists available background images.
type BackgroundFiles struct {
	Type  Kind     `json:"type"`
	Files []string `json:"files"`
}

// AvatarConfigFiles lists available avatar configurations.
type AvatarConfigFiles struct {
	Type    Kind     `json:"type"`
	Configs []string `json:"configs"`
}

// AvatarConfigSwitched confirms an avatar configuration change.
type AvatarConfigSwitched struct {
	Type Kind   `json:"type"`
	File string `json:"file"`
}

// SetModelAndConf pushes the active avatar model and its configuration to a
// freshly authorized client.
type SetModelAndConf struct {
	Type      Kind            `json:"type"`
	ModelFile string          `json:"model_file"`
	Conf      json.RawMessage `json:"conf,omitempty"`
}

func (AuthorizeSuccess) OutboundKind() Kind     { return KindAuthorizeSuccess }
func (AuthorizeError) OutboundKind() Kind       { return KindAuthorizeError }
func (Ping) OutboundKind() Kind                 { return KindPing }
func (Error) OutboundKind() Kind                { return KindError }
func (StreamStart) OutboundKind() Kind          { return KindStreamStart }
func (StreamToken) OutboundKind() Kind          { return KindStreamToken }
func (TTSReadyChunk) OutboundKind() Kind        { return KindTTSReadyChunk }
func (StreamEnd) OutboundKind() Kind            { return KindStreamEnd }
func (Interrupted) OutboundKind() Kind          { return KindInterrupted }
func (BackgroundFiles) OutboundKind() Kind      { return KindBackgroundFiles }
func (AvatarConfigFiles) OutboundKind() Kind    { return KindAvatarConfigFiles }
func (AvatarConfigSwitched) OutboundKind() Kind { return KindAvatarConfigSwitch }
func (SetModelAndConf) OutboundKind() Kind      { return KindSetModelAndConf }
