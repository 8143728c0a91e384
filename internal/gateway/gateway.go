// Package gateway exposes the conversational WebSocket endpoint.
//
// Each accepted connection must authorize within the handshake window before
// any other message is processed. An authorized connection gets its own turn
// processor, a serialized writer, a heartbeat loop, and a protocol error
// budget; exhausting the budget or going silent past the inactivity window
// closes the connection. Disconnecting — cleanly or not — shuts the
// processor down so no turn outlives its client.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/hikaru-dev/koemi/internal/observe"
	"github.com/hikaru-dev/koemi/internal/protocol"
	"github.com/hikaru-dev/koemi/internal/turn"
)

// Default connection policy values.
const (
	DefaultAuthTimeout       = 30 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPongWait          = 10 * time.Second
	DefaultInactivityTimeout = 5 * time.Minute
	DefaultErrorBudget       = 5
	DefaultErrorBackoff      = 500 * time.Millisecond

	defaultSendBuffer = 256
	writeTimeout      = 10 * time.Second
)

// TurnProcessor is the slice of the message processor the gateway drives.
// *processor.Processor satisfies it.
type TurnProcessor interface {
	StartTurn(ctx context.Context, msg protocol.ChatMessage) (*turn.State, error)
	Interrupt(ctx context.Context, turnID, reason string) bool
	InterruptAll(ctx context.Context, reason string) int
	Shutdown(ctx context.Context)
}

// CompanionService answers the companion configuration messages: background
// images, avatar configurations, and the active Live2D model.
type CompanionService interface {
	Backgrounds(ctx context.Context) ([]string, error)
	AvatarConfigs(ctx context.Context) ([]string, error)
	SwitchAvatarConfig(ctx context.Context, file string) (protocol.SetModelAndConf, error)
	CurrentModel(ctx context.Context) (protocol.SetModelAndConf, error)
}

// Gateway accepts and supervises client connections. All exported methods
// are safe for concurrent use.
type Gateway struct {
	log       *slog.Logger
	metrics   *observe.Metrics
	validate  func(token string) bool
	newProc   func() TurnProcessor
	companion CompanionService

	authTimeout   time.Duration
	pingInterval  time.Duration
	pongWait      time.Duration
	inactivity    time.Duration
	errorBudget   int
	errorBackoff  time.Duration
	originPattern []string
	sendBuffer    int

	mu    sync.Mutex
	conns map[string]*connection
}

// Option configures a Gateway during construction.
type Option func(*Gateway)

// WithAuthTimeout bounds the wait for the authorize message.
func WithAuthTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.authTimeout = d
		}
	}
}

// WithHeartbeat sets the ping interval and the pong deadline.
func WithHeartbeat(interval, pongWait time.Duration) Option {
	return func(g *Gateway) {
		if interval > 0 {
			g.pingInterval = interval
		}
		if pongWait > 0 {
			g.pongWait = pongWait
		}
	}
}

// WithInactivityTimeout closes connections with no inbound traffic for d.
func WithInactivityTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.inactivity = d
		}
	}
}

// WithErrorBudget sets how many consecutive malformed messages a connection
// may send before being closed, and the pause applied after each one.
func WithErrorBudget(budget int, backoff time.Duration) Option {
	return func(g *Gateway) {
		if budget > 0 {
			g.errorBudget = budget
		}
		if backoff >= 0 {
			g.errorBackoff = backoff
		}
	}
}

// WithOriginPatterns sets the host patterns accepted during the WebSocket
// handshake. Default accepts same-origin only.
func WithOriginPatterns(patterns []string) Option {
	return func(g *Gateway) { g.originPattern = patterns }
}

// New constructs a Gateway. validate authenticates handshake tokens; newProc
// builds a fresh turn processor per connection; companion may be nil, which
// rejects companion configuration messages with an error event.
func New(log *slog.Logger, metrics *observe.Metrics, validate func(string) bool, newProc func() TurnProcessor, companion CompanionService, opts ...Option) *Gateway {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	g := &Gateway{
		log:          log,
		metrics:      metrics,
		validate:     validate,
		newProc:      newProc,
		companion:    companion,
		authTimeout:  DefaultAuthTimeout,
		pingInterval: DefaultPingInterval,
		pongWait:     DefaultPongWait,
		inactivity:   DefaultInactivityTimeout,
		errorBudget:  DefaultErrorBudget,
		errorBackoff: DefaultErrorBackoff,
		sendBuffer:   defaultSendBuffer,
		conns:        make(map[string]*connection),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

var _ http.Handler = (*Gateway)(nil)

// ServeHTTP upgrades the request and runs the connection until it ends.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPattern,
	})
	if err != nil {
		g.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	connID, err := g.handshake(ctx, ws)
	if err != nil {
		g.log.Info("authorization failed", "remote", r.RemoteAddr, "error", err)
		ws.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	c := &connection{
		id:        connID,
		log:       g.log.With("connection_id", connID),
		conn:      ws,
		send:      make(chan protocol.Outbound, g.sendBuffer),
		pongCh:    make(chan struct{}, 1),
		proc:      g.newProc(),
		companion: g.companion,
		metrics:   g.metrics,
		gw:        g,
	}
	c.touch()

	g.register(c)
	g.metrics.ActiveConnections.Add(ctx, 1)
	c.log.Info("connection authorized", "remote", r.RemoteAddr)

	runErr := c.run(ctx)

	g.unregister(c)
	g.metrics.ActiveConnections.Add(context.Background(), -1)
	c.proc.Shutdown(context.Background())
	ws.Close(websocket.StatusNormalClosure, "bye")
	c.log.Info("connection closed", "error", runErr)
}

// handshake reads and validates the authorize message, replying with
// authorize_success (plus the current avatar model, when available) or
// authorize_error.
func (g *Gateway) handshake(ctx context.Context, ws *websocket.Conn) (string, error) {
	actx, cancel := context.WithTimeout(ctx, g.authTimeout)
	defer cancel()

	_, data, err := ws.Read(actx)
	if err != nil {
		return "", err
	}

	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		g.writeDirect(actx, ws, protocol.NewAuthorizeError("invalid authorize message"))
		return "", err
	}
	auth, ok := msg.(protocol.Authorize)
	if !ok {
		g.writeDirect(actx, ws, protocol.NewAuthorizeError("authorize required"))
		return "", errAuthRequired
	}
	if !g.validate(auth.Token) {
		g.writeDirect(actx, ws, protocol.NewAuthorizeError("invalid token"))
		return "", errBadToken
	}

	connID := uuid.NewString()
	if err := g.writeDirect(actx, ws, protocol.NewAuthorizeSuccess(connID)); err != nil {
		return "", err
	}

	// Tell the freshly authorized client which avatar model to load.
	if g.companion != nil {
		if mc, err := g.companion.CurrentModel(actx); err == nil {
			g.writeDirect(actx, ws, mc)
		}
	}
	return connID, nil
}

func (g *Gateway) writeDirect(ctx context.Context, ws *websocket.Conn, ev protocol.Outbound) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (g *Gateway) register(c *connection) {
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) unregister(c *connection) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
}

// ConnectionCount returns the number of live authorized connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown closes every live connection with a going-away status. Their
// processors are shut down by the per-connection teardown.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	conns := make([]*connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}
