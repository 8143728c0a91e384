package gateway_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hikaru-dev/koemi/internal/gateway"
	"github.com/hikaru-dev/koemi/internal/pipeline"
	"github.com/hikaru-dev/koemi/internal/processor"
	"github.com/hikaru-dev/koemi/internal/protocol"
	"github.com/hikaru-dev/koemi/pkg/provider/agent"
	"github.com/hikaru-dev/koemi/pkg/provider/agent/mock"
)

const testToken = "sesame"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubCompanion serves fixed companion assets.
type stubCompanion struct {
	backgrounds []string
	configs     []string
	switched    string
}

func (s *stubCompanion) Backgrounds(context.Context) ([]string, error) {
	return s.backgrounds, nil
}

func (s *stubCompanion) AvatarConfigs(context.Context) ([]string, error) {
	return s.configs, nil
}

func (s *stubCompanion) SwitchAvatarConfig(_ context.Context, file string) (protocol.SetModelAndConf, error) {
	s.switched = file
	return protocol.NewSetModelAndConf(file, nil), nil
}

func (s *stubCompanion) CurrentModel(context.Context) (protocol.SetModelAndConf, error) {
	return protocol.NewSetModelAndConf("default.model3.json", nil), nil
}

func newGateway(t *testing.T, provider agent.Provider, opts ...gateway.Option) *gateway.Gateway {
	t.Helper()
	log := discardLogger()
	newProc := func() gateway.TurnProcessor {
		return processor.New(log, nil, provider, pipeline.New(log, nil))
	}
	validate := func(token string) bool { return token == testToken }
	return gateway.New(log, nil, validate, newProc, &stubCompanion{
		backgrounds: []string{"room.png", "beach.png"},
		configs:     []string{"miko.model3.json"},
	}, opts...)
}

// dial connects a raw client to the gateway without authorizing.
func dial(t *testing.T, gw *gateway.Gateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "done") })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// envelope is the loose client-side view of an outbound message.
type envelope struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	TurnID       string `json:"turn_id"`
	SessionID    string `json:"session_id"`
	Chunk        string `json:"chunk"`
	Content      string `json:"content"`
	Reason       string `json:"reason"`
	Code         int    `json:"code"`
	Error        string `json:"error"`
	Files        []string
	Configs      []string
	File         string `json:"file"`
}

func recv(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	// Files/configs share no stable field name with the rest.
	var extra struct {
		Files   []string `json:"files"`
		Configs []string `json:"configs"`
	}
	_ = json.Unmarshal(data, &extra)
	env.Files = extra.Files
	env.Configs = extra.Configs
	return env
}

// recvSkipPing reads the next non-ping event, answering pings on the way.
func recvSkipPing(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	for {
		env := recv(t, ws)
		if env.Type == "ping" {
			send(t, ws, map[string]any{"type": "pong"})
			continue
		}
		return env
	}
}

// authorize performs the handshake and consumes the set_model_and_conf push.
func authorize(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	send(t, ws, map[string]any{"type": "authorize", "token": testToken})
	env := recv(t, ws)
	if env.Type != "authorize_success" {
		t.Fatalf("handshake reply: want authorize_success, got %+v", env)
	}
	if mc := recv(t, ws); mc.Type != "set_model_and_conf" {
		t.Fatalf("post-auth push: want set_model_and_conf, got %+v", mc)
	}
	return env.ConnectionID
}

func TestHandshakeSuccess(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{})
	ws := dial(t, gw)

	connID := authorize(t, ws)
	if connID == "" {
		t.Error("authorize_success missing connection_id")
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{})
	ws := dial(t, gw)

	send(t, ws, map[string]any{"type": "authorize", "token": "wrong"})
	env := recv(t, ws)
	if env.Type != "authorize_error" {
		t.Fatalf("want authorize_error, got %+v", env)
	}

	// The server closes the connection after a failed handshake.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := ws.Read(ctx); err == nil {
		t.Error("connection still open after rejected handshake")
	}
}

func TestHandshakeRequiresAuthorizeFirst(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{})
	ws := dial(t, gw)

	send(t, ws, map[string]any{
		"type": "chat_message", "content": "hi", "user_id": "u1", "agent_id": "a1",
	})
	env := recv(t, ws)
	if env.Type != "authorize_error" {
		t.Fatalf("want authorize_error, got %+v", env)
	}
}

func TestChatTurnEndToEnd(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		StreamEvents: []agent.Event{
			{Type: agent.EventStreamStart},
			{Type: agent.EventStreamToken, Chunk: "Welcome home! "},
			{Type: agent.EventStreamToken, Chunk: "I missed you today."},
			{Type: agent.EventStreamEnd, Content: "Welcome home! I missed you today."},
		},
	}
	gw := newGateway(t, provider)
	ws := dial(t, gw)
	authorize(t, ws)

	send(t, ws, map[string]any{
		"type": "chat_message", "content": "I'm back", "user_id": "u1", "agent_id": "miko",
	})

	start := recvSkipPing(t, ws)
	if start.Type != "stream_start" {
		t.Fatalf("want stream_start, got %+v", start)
	}
	if start.TurnID == "" || start.SessionID == "" {
		t.Error("stream_start missing identifiers")
	}

	var chunks []string
	for {
		env := recvSkipPing(t, ws)
		switch env.Type {
		case "tts_ready_chunk":
			chunks = append(chunks, env.Chunk)
			continue
		case "stream_end":
			if env.TurnID != start.TurnID {
				t.Errorf("stream_end turn_id: want %q, got %q", start.TurnID, env.TurnID)
			}
			if env.Content != "Welcome home! I missed you today." {
				t.Errorf("stream_end content: got %q", env.Content)
			}
			want := []string{"Welcome home!", "I missed you today."}
			if len(chunks) != len(want) {
				t.Fatalf("chunks: want %v, got %v", want, chunks)
			}
			for i := range want {
				if chunks[i] != want[i] {
					t.Errorf("chunk %d: want %q, got %q", i, want[i], chunks[i])
				}
			}
			return
		default:
			t.Fatalf("unexpected event %+v", env)
		}
	}
}

func TestInterruptStreamMessage(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	provider := &mock.Provider{
		Gate: gate,
		StreamEvents: []agent.Event{
			{Type: agent.EventStreamStart},
			{Type: agent.EventStreamToken, Chunk: "Let me think about that for a"},
			{Type: agent.EventStreamToken, Chunk: " very long time"},
			{Type: agent.EventStreamEnd},
		},
	}
	gw := newGateway(t, provider)
	ws := dial(t, gw)
	authorize(t, ws)

	send(t, ws, map[string]any{
		"type": "chat_message", "content": "question", "user_id": "u1", "agent_id": "miko",
	})
	gate <- struct{}{} // release stream_start

	start := recvSkipPing(t, ws)
	if start.Type != "stream_start" {
		t.Fatalf("want stream_start, got %+v", start)
	}

	send(t, ws, map[string]any{"type": "interrupt_stream", "turn_id": start.TurnID})

	for {
		env := recvSkipPing(t, ws)
		if env.Type == "interrupted" {
			if env.TurnID != start.TurnID {
				t.Errorf("interrupted turn_id: want %q, got %q", start.TurnID, env.TurnID)
			}
			// Wire literal, not the constant: clients match on this string.
			if env.Reason != "client_requested" {
				t.Errorf("reason: want %q, got %q", "client_requested", env.Reason)
			}
			return
		}
		if env.Type == "stream_end" {
			t.Fatal("interrupted turn emitted stream_end")
		}
	}
}

func TestProtocolErrorBudgetClosesConnection(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{}, gateway.WithErrorBudget(3, time.Millisecond))
	ws := dial(t, gw)
	authorize(t, ws)

	for i := 0; i < 3; i++ {
		send(t, ws, map[string]any{"type": "no_such_message"})
		env := recvSkipPing(t, ws)
		if env.Type != "error" || env.Code != 400 {
			t.Fatalf("strike %d: want error 400, got %+v", i+1, env)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := ws.Read(ctx); err == nil {
		t.Error("connection still open after error budget exhausted")
	}
}

func TestValidMessageResetsErrorBudget(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{}, gateway.WithErrorBudget(2, time.Millisecond))
	ws := dial(t, gw)
	authorize(t, ws)

	send(t, ws, map[string]any{"type": "bogus"})
	if env := recvSkipPing(t, ws); env.Type != "error" {
		t.Fatalf("want error, got %+v", env)
	}

	// A valid message clears the strike count.
	send(t, ws, map[string]any{"type": "fetch_backgrounds"})
	if env := recvSkipPing(t, ws); env.Type != "background_files" {
		t.Fatalf("want background_files, got %+v", env)
	}

	send(t, ws, map[string]any{"type": "bogus again"})
	if env := recvSkipPing(t, ws); env.Type != "error" {
		t.Fatalf("want error, got %+v", env)
	}

	// One strike since the reset: the connection must still be usable.
	send(t, ws, map[string]any{"type": "fetch_avatar_configs"})
	if env := recvSkipPing(t, ws); env.Type != "avatar_config_files" {
		t.Fatalf("want avatar_config_files, got %+v", env)
	}
}

func TestHeartbeatPingPong(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{},
		gateway.WithHeartbeat(50*time.Millisecond, 500*time.Millisecond))
	ws := dial(t, gw)
	authorize(t, ws)

	env := recv(t, ws)
	if env.Type != "ping" {
		t.Fatalf("want ping, got %+v", env)
	}
	send(t, ws, map[string]any{"type": "pong"})

	// Surviving a few more heartbeat rounds proves the pong was accepted.
	for i := 0; i < 2; i++ {
		env = recv(t, ws)
		if env.Type != "ping" {
			t.Fatalf("want ping, got %+v", env)
		}
		send(t, ws, map[string]any{"type": "pong"})
	}
}

func TestMissedPongClosesConnection(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{},
		gateway.WithHeartbeat(30*time.Millisecond, 30*time.Millisecond))
	ws := dial(t, gw)
	authorize(t, ws)

	env := recv(t, ws)
	if env.Type != "ping" {
		t.Fatalf("want ping, got %+v", env)
	}

	// Never send pong; the server must drop us.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

func TestCompanionMessages(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{})
	ws := dial(t, gw)
	authorize(t, ws)

	send(t, ws, map[string]any{"type": "fetch_backgrounds"})
	env := recvSkipPing(t, ws)
	if env.Type != "background_files" || len(env.Files) != 2 {
		t.Fatalf("want 2 background files, got %+v", env)
	}

	send(t, ws, map[string]any{"type": "fetch_avatar_configs"})
	env = recvSkipPing(t, ws)
	if env.Type != "avatar_config_files" || len(env.Configs) != 1 {
		t.Fatalf("want 1 avatar config, got %+v", env)
	}

	send(t, ws, map[string]any{"type": "switch_avatar_config", "file": "miko.model3.json"})
	env = recvSkipPing(t, ws)
	if env.Type != "avatar_config_switched" || env.File != "miko.model3.json" {
		t.Fatalf("want avatar_config_switched, got %+v", env)
	}
	env = recvSkipPing(t, ws)
	if env.Type != "set_model_and_conf" {
		t.Fatalf("want set_model_and_conf after switch, got %+v", env)
	}
}

func TestConnectionCount(t *testing.T) {
	t.Parallel()

	gw := newGateway(t, &mock.Provider{})
	ws := dial(t, gw)
	if gw.ConnectionCount() != 0 {
		t.Error("count before handshake: want 0")
	}
	authorize(t, ws)

	deadline := time.Now().Add(2 * time.Second)
	for gw.ConnectionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := gw.ConnectionCount(); got != 1 {
		t.Errorf("count after handshake: want 1, got %d", got)
	}
}
