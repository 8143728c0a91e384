// Package processor owns the conversational turns of one client connection.
//
// A Processor maps chat messages to turns, runs each turn's producer and
// consumer tasks under a [turn.Supervisor], and enforces the single-active-turn
// policy: starting a new turn while one is live interrupts the old one with
// reason "superseded". Interruption is idempotent and bounded — a stuck task
// never wedges the caller.
//
// Terminal turn records are kept for a grace period so late interrupt_stream
// messages referencing them stay cheap no-ops, then reaped opportunistically
// on the next StartTurn.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hikaru-dev/koemi/internal/observe"
	"github.com/hikaru-dev/koemi/internal/pipeline"
	"github.com/hikaru-dev/koemi/internal/protocol"
	"github.com/hikaru-dev/koemi/internal/turn"
	"github.com/hikaru-dev/koemi/pkg/provider/agent"
)

const (
	// DefaultQueueCap is the capacity of each turn's token and event queue.
	DefaultQueueCap = 100

	// DefaultCleanupTTL is how long terminal turn records are retained
	// before being reaped.
	DefaultCleanupTTL = time.Hour
)

// Interruption reasons surfaced in the interrupted event.
const (
	ReasonUserRequest = "client_requested"
	ReasonSuperseded  = "superseded"
	ReasonShutdown    = "shutdown"
)

// ErrShutdown is returned by [Processor.StartTurn] after [Processor.Shutdown].
var ErrShutdown = errors.New("processor: shut down")

// ErrUnknownTurn is returned when an operation references a turn ID the
// processor has never seen (or has already reaped).
var ErrUnknownTurn = errors.New("processor: unknown turn")

// record pairs a turn's state with the supervisor owning its tasks. The
// finished flag guards the once-only terminal bookkeeping, which can be
// reached from the task monitor or from an interruption.
type record struct {
	state    *turn.State
	sup      *turn.Supervisor
	finished atomic.Bool
}

// Processor manages the turns of a single connection. All exported methods
// are safe for concurrent use.
type Processor struct {
	log      *slog.Logger
	metrics  *observe.Metrics
	provider agent.Provider
	pipe     *pipeline.Pipeline

	queueCap      int
	cleanupTTL    time.Duration
	interruptWait time.Duration

	mu       sync.Mutex
	turns    map[string]*record
	activeID string
	closed   bool
}

// Option configures a Processor during construction.
type Option func(*Processor)

// WithQueueCap overrides the per-turn queue capacity. Default is
// [DefaultQueueCap].
func WithQueueCap(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.queueCap = n
		}
	}
}

// WithCleanupTTL overrides how long terminal turn records are retained.
// Default is [DefaultCleanupTTL].
func WithCleanupTTL(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.cleanupTTL = d
		}
	}
}

// WithInterruptWait overrides how long an interruption waits for a turn's
// tasks before abandoning them. Default is [turn.DefaultInterruptWait].
func WithInterruptWait(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.interruptWait = d
		}
	}
}

// New constructs a Processor. A nil metrics falls back to
// [observe.DefaultMetrics].
func New(log *slog.Logger, metrics *observe.Metrics, provider agent.Provider, pipe *pipeline.Pipeline, opts ...Option) *Processor {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	p := &Processor{
		log:           log,
		metrics:       metrics,
		provider:      provider,
		pipe:          pipe,
		queueCap:      DefaultQueueCap,
		cleanupTTL:    DefaultCleanupTTL,
		interruptWait: turn.DefaultInterruptWait,
		turns:         make(map[string]*record),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartTurn begins a new conversational turn for msg and returns its state.
// A turn already live on this processor is first interrupted with reason
// "superseded". The caller consumes outbound events via
// [turn.State.EventStream].
//
// Upstream failures do not surface as a returned error: the turn is marked
// Failed and its event stream carries the terminal error event, so the client
// always observes the outcome on the same channel.
func (p *Processor) StartTurn(ctx context.Context, msg protocol.ChatMessage) (*turn.State, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdown
	}
	p.cleanupLocked(time.Now())
	prevID := p.activeID
	p.mu.Unlock()

	kind := "chat"
	if prevID != "" {
		if p.Interrupt(ctx, prevID, ReasonSuperseded) {
			kind = "superseding"
		}
	}

	turnID := uuid.NewString()
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	st := turn.NewState(turnID, sessionID, p.queueCap)
	// The turn outlives the request that started it; only Interrupt or
	// Shutdown may cancel it.
	sup := turn.NewSupervisor(context.WithoutCancel(ctx), p.log, p.interruptWait)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = sup.Cancel(turnID)
		return nil, ErrShutdown
	}
	p.turns[turnID] = &record{state: st, sup: sup}
	p.activeID = turnID
	p.mu.Unlock()

	p.metrics.RecordTurnStarted(ctx, kind)
	p.log.Info("turn started",
		"turn_id", turnID,
		"session_id", sessionID,
		"user_id", msg.UserID,
		"agent_id", msg.AgentID,
		"kind", kind)

	upstream, err := p.provider.Stream(sup.Context(), agent.Request{
		Input:     msg.Content,
		SessionID: sessionID,
		UserID:    msg.UserID,
		AgentID:   msg.AgentID,
		Persona:   msg.Persona,
		Images:    msg.Images,
		Metadata:  msg.Metadata,
	})
	if err != nil {
		p.log.Error("agent stream refused", "turn_id", turnID, "error", err)
		if st.Advance(turn.StatusFailed) {
			_ = st.Emit(ctx, protocol.NewError(500, fmt.Sprintf("agent unavailable: %v", err)))
			st.CloseEvents()
		}
		st.Tokens.Close()
		p.finishTurn(st)
		return st, nil
	}

	consumer := sup.Go("consumer", func(ctx context.Context) error {
		return p.pipe.RunConsumer(ctx, st)
	})
	producer := sup.Go("producer", func(ctx context.Context) error {
		return p.pipe.RunProducer(ctx, st, upstream, consumer.Done())
	})

	go func() {
		<-producer.Done()
		<-consumer.Done()
		p.finishTurn(st)
	}()

	return st, nil
}

// finishTurn records terminal metrics exactly once per turn and releases the
// active slot. Called after both tasks have returned, or directly when the
// turn failed before its tasks ever started.
func (p *Processor) finishTurn(st *turn.State) {
	status := st.Status()
	if !status.Terminal() {
		// Tasks returned without a terminal transition: an interruption is
		// racing us and will finish the bookkeeping itself.
		return
	}

	p.mu.Lock()
	if p.activeID == st.ID {
		p.activeID = ""
	}
	rec := p.turns[st.ID]
	p.mu.Unlock()
	if rec != nil && rec.finished.Swap(true) {
		return
	}

	elapsed := st.FinishedAt().Sub(st.CreatedAt)
	p.metrics.RecordTurnFinished(context.Background(), status.String(), elapsed.Seconds())
	p.log.Info("turn finished",
		"turn_id", st.ID,
		"session_id", st.SessionID,
		"status", status.String(),
		"duration_ms", elapsed.Milliseconds())
}

// Interrupt cancels the identified turn. It reports whether this call
// performed the interruption: false means the turn was unknown or already
// terminal, which callers treat as a successful no-op.
//
// The interrupted event is the last event on the turn's stream; tokens and
// events queued before the interruption are discarded, never delivered late.
func (p *Processor) Interrupt(ctx context.Context, turnID, reason string) bool {
	p.mu.Lock()
	rec, ok := p.turns[turnID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	if !rec.state.Advance(turn.StatusInterrupted) {
		return false
	}

	err := rec.sup.Cancel(turnID)
	dropped := rec.state.Tokens.Drain()
	rec.state.Tokens.Close()
	stale := rec.state.DrainEvents()

	_ = rec.state.Emit(ctx, protocol.NewInterrupted(turnID, reason))
	rec.state.CloseEvents()

	p.mu.Lock()
	if p.activeID == turnID {
		p.activeID = ""
	}
	p.mu.Unlock()

	level := slog.LevelInfo
	if errors.Is(err, turn.ErrForced) {
		level = slog.LevelWarn
	}
	p.log.Log(ctx, level, "turn interrupted",
		"turn_id", turnID,
		"reason", reason,
		"dropped_tokens", dropped,
		"dropped_events", stale,
		"forced", errors.Is(err, turn.ErrForced))

	if !rec.finished.Swap(true) {
		elapsed := rec.state.FinishedAt().Sub(rec.state.CreatedAt)
		p.metrics.RecordTurnFinished(ctx, turn.StatusInterrupted.String(), elapsed.Seconds())
	}
	return true
}

// InterruptAll interrupts every live turn with the given reason and returns
// how many turns it actually stopped.
func (p *Processor) InterruptAll(ctx context.Context, reason string) int {
	p.mu.Lock()
	ids := make([]string, 0, len(p.turns))
	for id, rec := range p.turns {
		if !rec.state.Status().Terminal() {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	n := 0
	for _, id := range ids {
		if p.Interrupt(ctx, id, reason) {
			n++
		}
	}
	return n
}

// Active returns the ID of the currently live turn, or the empty string.
func (p *Processor) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeID
}

// Turn returns the state of a known turn.
func (p *Processor) Turn(turnID string) (*turn.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.turns[turnID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTurn, turnID)
	}
	return rec.state, nil
}

// Shutdown interrupts every live turn and rejects further StartTurn calls.
// Safe to call more than once.
func (p *Processor) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	n := p.InterruptAll(ctx, ReasonShutdown)
	p.log.Info("processor shut down", "interrupted_turns", n)
}

// cleanupLocked reaps terminal turn records older than the TTL whose tasks
// have all finished. Caller holds p.mu.
func (p *Processor) cleanupLocked(now time.Time) {
	cutoff := now.Add(-p.cleanupTTL)
	for id, rec := range p.turns {
		finishedAt := rec.state.FinishedAt()
		if finishedAt.IsZero() || finishedAt.After(cutoff) {
			continue
		}
		if !rec.sup.Idle() {
			continue
		}
		delete(p.turns, id)
	}
}
