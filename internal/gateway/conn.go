package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/hikaru-dev/koemi/internal/observe"
	"github.com/hikaru-dev/koemi/internal/processor"
	"github.com/hikaru-dev/koemi/internal/protocol"
)

var (
	errAuthRequired = errors.New("gateway: first message must be authorize")
	errBadToken     = errors.New("gateway: invalid token")
	errPongTimeout  = errors.New("gateway: pong deadline exceeded")
	errInactive     = errors.New("gateway: inactivity timeout")
	errBudgetSpent  = errors.New("gateway: protocol error budget exhausted")
)

// connection is one authorized client. Its three loops — reader, writer,
// heartbeat — run under a shared errgroup: the first to fail tears the
// connection down.
type connection struct {
	id        string
	log       *slog.Logger
	conn      *websocket.Conn
	send      chan protocol.Outbound
	pongCh    chan struct{}
	proc      TurnProcessor
	companion CompanionService
	metrics   *observe.Metrics
	gw        *Gateway

	lastActivity atomic.Int64 // unix nanos of last inbound message

	// forwarder is the done channel of the newest turn forwarder. Each new
	// forwarder waits for its predecessor so a turn's events never interleave
	// with the next turn's on the wire.
	fmu       sync.Mutex
	forwarder chan struct{}
}

func (c *connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *connection) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// run drives the connection loops until one of them fails or ctx ends.
func (c *connection) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.heartbeatLoop(ctx) })
	return g.Wait()
}

// ─── Writer ──────────────────────────────────────────────────────────────────

// writeLoop is the only goroutine that writes to the socket after the
// handshake. Everything outbound funnels through the send channel.
func (c *connection) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.send:
			data, err := protocol.Encode(ev)
			if err != nil {
				c.log.Error("encode outbound event", "kind", ev.OutboundKind(), "error", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return fmt.Errorf("gateway: write: %w", err)
			}
		}
	}
}

// enqueue queues an outbound event, blocking when the send buffer is full so
// a slow socket backpressures the turn pipeline instead of dropping events.
func (c *connection) enqueue(ctx context.Context, ev protocol.Outbound) error {
	select {
	case c.send <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Heartbeat ───────────────────────────────────────────────────────────────

// heartbeatLoop pings on a fixed interval and expects a pong within the pong
// deadline. It also enforces the inactivity timeout.
func (c *connection) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.gw.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if c.idleFor() > c.gw.inactivity {
			return errInactive
		}

		if err := c.enqueue(ctx, protocol.NewPing()); err != nil {
			return err
		}
		select {
		case <-c.pongCh:
		case <-time.After(c.gw.pongWait):
			return errPongTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ─── Reader ──────────────────────────────────────────────────────────────────

// readLoop decodes and dispatches inbound messages, charging malformed ones
// against the error budget. Any valid message resets the budget.
func (c *connection) readLoop(ctx context.Context) error {
	errCount := 0
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("gateway: read: %w", err)
		}
		c.touch()

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			errCount++
			var de *protocol.DecodeError
			reason := "malformed message"
			code := 400
			if errors.As(err, &de) {
				reason = de.Reason
				code = de.Code
			}
			c.metrics.RecordProtocolError(ctx, reason)
			c.log.Warn("rejected inbound message", "reason", reason, "strikes", errCount)

			if err := c.enqueue(ctx, protocol.NewError(code, reason)); err != nil {
				return err
			}
			if errCount >= c.gw.errorBudget {
				return errBudgetSpent
			}
			// Slow a misbehaving client down before reading again.
			select {
			case <-time.After(c.gw.errorBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		errCount = 0

		if err := c.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *connection) dispatch(ctx context.Context, msg protocol.Inbound) error {
	switch m := msg.(type) {
	case protocol.Authorize:
		return c.enqueue(ctx, protocol.NewError(400, "already authorized"))

	case protocol.Pong:
		select {
		case c.pongCh <- struct{}{}:
		default:
		}
		return nil

	case protocol.ChatMessage:
		return c.startTurn(ctx, m)

	case protocol.InterruptStream:
		if m.TurnID == "" {
			c.proc.InterruptAll(ctx, processor.ReasonUserRequest)
			return nil
		}
		c.proc.Interrupt(ctx, m.TurnID, processor.ReasonUserRequest)
		return nil

	case protocol.FetchBackgrounds:
		if c.companion == nil {
			return c.enqueue(ctx, protocol.NewError(500, "companion assets unavailable"))
		}
		files, err := c.companion.Backgrounds(ctx)
		if err != nil {
			c.log.Error("list backgrounds", "error", err)
			return c.enqueue(ctx, protocol.NewError(500, "failed to list backgrounds"))
		}
		return c.enqueue(ctx, protocol.NewBackgroundFiles(files))

	case protocol.FetchAvatarConfigs:
		if c.companion == nil {
			return c.enqueue(ctx, protocol.NewError(500, "companion assets unavailable"))
		}
		configs, err := c.companion.AvatarConfigs(ctx)
		if err != nil {
			c.log.Error("list avatar configs", "error", err)
			return c.enqueue(ctx, protocol.NewError(500, "failed to list avatar configs"))
		}
		return c.enqueue(ctx, protocol.NewAvatarConfigFiles(configs))

	case protocol.SwitchAvatarConfig:
		if c.companion == nil {
			return c.enqueue(ctx, protocol.NewError(500, "companion assets unavailable"))
		}
		mc, err := c.companion.SwitchAvatarConfig(ctx, m.File)
		if err != nil {
			c.log.Error("switch avatar config", "file", m.File, "error", err)
			return c.enqueue(ctx, protocol.NewError(400, "failed to switch avatar config"))
		}
		if err := c.enqueue(ctx, protocol.NewAvatarConfigSwitched(m.File)); err != nil {
			return err
		}
		return c.enqueue(ctx, mc)

	default:
		return c.enqueue(ctx, protocol.NewError(400, "unsupported message"))
	}
}

// startTurn begins a turn for the chat message and spawns its forwarder. The
// processor supersedes any turn still live; the forwarder chain guarantees
// the superseded turn's terminal event hits the wire before the new turn's
// first event.
func (c *connection) startTurn(ctx context.Context, msg protocol.ChatMessage) error {
	st, err := c.proc.StartTurn(ctx, msg)
	if err != nil {
		if errors.Is(err, processor.ErrShutdown) {
			return err
		}
		c.log.Error("start turn", "error", err)
		return c.enqueue(ctx, protocol.NewError(500, "failed to start turn"))
	}

	c.fmu.Lock()
	prev := c.forwarder
	done := make(chan struct{})
	c.forwarder = done
	c.fmu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return
			}
		}
		for ev := range st.EventStream(ctx) {
			if err := c.enqueue(ctx, ev); err != nil {
				return
			}
		}
	}()
	return nil
}
