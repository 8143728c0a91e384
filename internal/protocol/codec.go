package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError describes an inbound message that failed validation. Code is
// an HTTP-style status suitable for the outbound error envelope.
type DecodeError struct {
	Code   int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Reason)
}

// envelope is the minimal shape read before dispatching on type.
type envelope struct {
	Type Kind `json:"type"`
}

// DecodeInbound parses and validates a client message. It returns a
// [*DecodeError] for malformed JSON, unknown types, and missing required
// fields; the connection should survive these and report them as
// error{code:400} envelopes.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Code: 400, Reason: "invalid JSON: " + err.Error()}
	}
	if env.Type == "" {
		return nil, &DecodeError{Code: 400, Reason: "missing message type"}
	}

	switch env.Type {
	case KindAuthorize:
		var m Authorize
		if err := unmarshalStrict(data, &m); err != nil {
			return nil, err
		}
		if m.Token == "" {
			return nil, missingField(env.Type, "token")
		}
		return m, nil

	case KindPong:
		return Pong{}, nil

	case KindChatMessage:
		var m ChatMessage
		if err := unmarshalStrict(data, &m); err != nil {
			return nil, err
		}
		var missing []string
		if strings.TrimSpace(m.Content) == "" {
			missing = append(missing, "content")
		}
		if m.UserID == "" {
			missing = append(missing, "user_id")
		}
		if m.AgentID == "" {
			missing = append(missing, "agent_id")
		}
		if len(missing) > 0 {
			return nil, missingField(env.Type, missing...)
		}
		return m, nil

	case KindInterruptStream:
		var m InterruptStream
		if err := unmarshalStrict(data, &m); err != nil {
			return nil, err
		}
		return m, nil

	case KindFetchBackgrounds:
		return FetchBackgrounds{}, nil

	case KindFetchAvatarConfigs:
		return FetchAvatarConfigs{}, nil

	case KindSwitchAvatarConfig:
		var m SwitchAvatarConfig
		if err := unmarshalStrict(data, &m); err != nil {
			return nil, err
		}
		if m.File == "" {
			return nil, missingField(env.Type, "file")
		}
		return m, nil

	default:
		return nil, &DecodeError{Code: 400, Reason: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

// Encode marshals an outbound message to its wire form.
func Encode(msg Outbound) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.OutboundKind(), err)
	}
	return data, nil
}

func unmarshalStrict(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Code: 400, Reason: "invalid payload: " + err.Error()}
	}
	return nil
}

func missingField(kind Kind, fields ...string) error {
	return &DecodeError{
		Code:   400,
		Reason: fmt.Sprintf("%s: missing required field(s): %s", kind, strings.Join(fields, ", ")),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Outbound constructors
// ─────────────────────────────────────────────────────────────────────────────
//
// Constructors fill in the type tag so call sites cannot produce an
// untagged message.

// NewAuthorizeSuccess builds an authorize_success message.
func NewAuthorizeSuccess(connectionID string) AuthorizeSuccess {
	return AuthorizeSuccess{Type: KindAuthorizeSuccess, ConnectionID: connectionID}
}

// NewAuthorizeError builds an authorize_error message.
func NewAuthorizeError(reason string) AuthorizeError {
	return AuthorizeError{Type: KindAuthorizeError, Error: reason}
}

// NewPing builds a heartbeat ping.
func NewPing() Ping {
	return Ping{Type: KindPing}
}

// NewError builds an error envelope.
func NewError(code int, reason string) Error {
	return Error{Type: KindError, Code: code, Error: reason}
}

// NewStreamStart builds the opening event of a turn.
func NewStreamStart(turnID, sessionID string) StreamStart {
	return StreamStart{Type: KindStreamStart, TurnID: turnID, SessionID: sessionID}
}

// NewStreamToken builds a raw token event.
func NewStreamToken(chunk, node string) StreamToken {
	return StreamToken{Type: KindStreamToken, Chunk: chunk, Node: node}
}

// NewTTSReadyChunk builds a synthesis-ready sentence event.
func NewTTSReadyChunk(chunk, emotion string) TTSReadyChunk {
	return TTSReadyChunk{Type: KindTTSReadyChunk, Chunk: chunk, Emotion: emotion}
}

// NewStreamEnd builds the terminal event of a completed turn.
func NewStreamEnd(turnID, sessionID, content string) StreamEnd {
	return StreamEnd{Type: KindStreamEnd, TurnID: turnID, SessionID: sessionID, Content: content}
}

// NewInterrupted builds the terminal event of a cancelled turn.
func NewInterrupted(turnID, reason string) Interrupted {
	return Interrupted{Type: KindInterrupted, TurnID: turnID, Reason: reason}
}

// NewBackgroundFiles builds a background listing response.
func NewBackgroundFiles(files []string) BackgroundFiles {
	return BackgroundFiles{Type: KindBackgroundFiles, Files: files}
}

// NewAvatarConfigFiles builds an avatar configuration listing response.
func NewAvatarConfigFiles(configs []string) AvatarConfigFiles {
	return AvatarConfigFiles{Type: KindAvatarConfigFiles, Configs: configs}
}

// NewAvatarConfigSwitched builds an avatar switch confirmation.
func NewAvatarConfigSwitched(file string) AvatarConfigSwitched {
	return AvatarConfigSwitched{Type: KindAvatarConfigSwitch, File: file}
}

// NewSetModelAndConf builds the model push sent after authorization.
func NewSetModelAndConf(modelFile string, conf json.RawMessage) SetModelAndConf {
	return SetModelAndConf{Type: KindSetModelAndConf, ModelFile: modelFile, Conf: conf}
}
