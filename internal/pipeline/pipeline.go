// Package pipeline runs the two cooperating tasks of a conversational turn.
//
// The producer drains the agent's event stream: token fragments go to the
// turn's token queue, stream lifecycle events go straight to the outbound
// event queue, and tool traffic is logged but never surfaced to the client.
// The consumer reads the token queue, assembles sentences with
// [chunk.Splitter], cleans them with [textnorm.Normalizer], and emits
// tts_ready_chunk events.
//
// The tasks communicate exclusively through the turn's queues; the queues
// are the synchronization primitive. On end of stream the producer runs a
// two-phase barrier before emitting stream_end: first it waits for the token
// queue to drain (every item acknowledged by the consumer), then for the
// consumer task itself to finish, so the final flush of buffered text can
// never be overtaken by the terminal event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hikaru-dev/koemi/internal/chunk"
	"github.com/hikaru-dev/koemi/internal/protocol"
	"github.com/hikaru-dev/koemi/internal/textnorm"
	"github.com/hikaru-dev/koemi/internal/turn"
	"github.com/hikaru-dev/koemi/pkg/provider/agent"
)

// DefaultBarrierWait bounds each phase of the end-of-stream barrier.
const DefaultBarrierWait = time.Second

// Pipeline builds producer and consumer tasks for turns. It is stateless
// across turns and safe for concurrent use; per-turn state lives in
// [turn.State] and in the splitter each consumer creates.
type Pipeline struct {
	log         *slog.Logger
	norm        *textnorm.Normalizer
	splitOpts   []chunk.Option
	barrierWait time.Duration
}

// Option is a functional option for configuring a Pipeline during construction.
type Option func(*Pipeline)

// WithSplitterOptions forwards options to the per-turn sentence splitter.
func WithSplitterOptions(opts ...chunk.Option) Option {
	return func(p *Pipeline) { p.splitOpts = opts }
}

// WithBarrierWait overrides the per-phase bound of the end-of-stream
// barrier. Default is [DefaultBarrierWait].
func WithBarrierWait(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.barrierWait = d
		}
	}
}

// New constructs a Pipeline. A nil normalizer falls back to the compiled-in
// default rule set.
func New(log *slog.Logger, norm *textnorm.Normalizer, opts ...Option) *Pipeline {
	if norm == nil {
		norm = textnorm.Default()
	}
	p := &Pipeline{
		log:         log,
		norm:        norm,
		barrierWait: DefaultBarrierWait,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ─── Producer ────────────────────────────────────────────────────────────────

// pendingTool remembers an in-flight tool call so the matching result can be
// logged with its duration.
type pendingTool struct {
	name string
	at   time.Time
}

// RunProducer drains the agent event stream for one turn. consumerDone must
// be the done channel of the turn's consumer task; it gates phase two of
// the end-of-stream barrier.
func (p *Pipeline) RunProducer(ctx context.Context, st *turn.State, events <-chan agent.Event, consumerDone <-chan struct{}) error {
	var pending []pendingTool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				// The agent hung up without a terminal event.
				return p.failTurn(ctx, st, consumerDone, errors.New("agent stream ended without stream_end"))
			}
			if ev.Err != nil {
				return p.failTurn(ctx, st, consumerDone, ev.Err)
			}

			switch ev.Type {
			case agent.EventStreamStart:
				st.Advance(turn.StatusRunning)
				if err := st.Emit(ctx, protocol.NewStreamStart(st.ID, st.SessionID)); err != nil {
					return err
				}

			case agent.EventStreamToken:
				// Blocking put: a full queue suspends us, which suspends the
				// agent stream. This is the backpressure point.
				if err := st.Tokens.Put(ctx, turn.Token{Text: ev.Chunk}); err != nil {
					return err
				}

			case agent.EventToolCall:
				pending = append(pending, pendingTool{name: ev.ToolName, at: time.Now()})
				p.log.Info("agent tool call",
					"turn_id", st.ID,
					"session_id", st.SessionID,
					"tool_name", ev.ToolName,
					"args", ev.Args,
					"status", "started")

			case agent.EventToolResult:
				name, started := matchToolCall(&pending, ev.ToolName)
				duration := int64(0)
				if !started.IsZero() {
					duration = time.Since(started).Milliseconds()
				}
				p.log.Info("agent tool result",
					"turn_id", st.ID,
					"session_id", st.SessionID,
					"tool_name", name,
					"result", ev.Result,
					"status", "completed",
					"duration_ms", duration)

			case agent.EventStreamEnd:
				st.SetContent(ev.Content)
				if err := p.endOfStreamBarrier(ctx, st, consumerDone); err != nil {
					return err
				}
				if st.Advance(turn.StatusCompleted) {
					if err := st.Emit(ctx, protocol.NewStreamEnd(st.ID, st.SessionID, st.Content())); err != nil {
						return err
					}
					st.CloseEvents()
				}
				return nil

			default:
				p.log.Debug("dropping unknown agent event", "turn_id", st.ID, "event_type", ev.Type)
			}
		}
	}
}

// endOfStreamBarrier enqueues the end-of-tokens sentinel, waits for the
// token queue to be fully acknowledged (phase one), then waits for the
// consumer task to finish its final flush (phase two). Each phase is
// bounded so a stuck consumer cannot wedge the producer; a timed-out phase
// is logged and the turn proceeds to its terminal event.
func (p *Pipeline) endOfStreamBarrier(ctx context.Context, st *turn.State, consumerDone <-chan struct{}) error {
	if err := st.Tokens.Put(ctx, turn.Token{Sentinel: true}); err != nil {
		return err
	}

	joinCtx, cancel := context.WithTimeout(ctx, p.barrierWait)
	err := st.Tokens.Join(joinCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("timed out waiting for token queue drain", "turn_id", st.ID)
	}

	select {
	case <-consumerDone:
	case <-time.After(p.barrierWait):
		p.log.Warn("timed out waiting for consumer flush", "turn_id", st.ID)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// failTurn handles an upstream agent failure: it releases the consumer via
// the sentinel, lets it flush, reports error{500} to the client, and marks
// the turn Failed. The error event closes the stream, so it must come after
// the consumer's final chunk.
func (p *Pipeline) failTurn(ctx context.Context, st *turn.State, consumerDone <-chan struct{}, cause error) error {
	p.log.Error("agent stream failed", "turn_id", st.ID, "session_id", st.SessionID, "error", cause)

	if err := st.Tokens.Put(ctx, turn.Token{Sentinel: true}); err == nil {
		joinCtx, cancel := context.WithTimeout(ctx, p.barrierWait)
		_ = st.Tokens.Join(joinCtx)
		cancel()
		select {
		case <-consumerDone:
		case <-time.After(p.barrierWait):
			p.log.Warn("timed out waiting for consumer flush", "turn_id", st.ID)
		case <-ctx.Done():
		}
	}

	if st.Advance(turn.StatusFailed) {
		if err := st.Emit(ctx, protocol.NewError(500, cause.Error())); err != nil {
			return errors.Join(cause, err)
		}
		st.CloseEvents()
	}
	return fmt.Errorf("pipeline: agent stream: %w", cause)
}

// matchToolCall pops the pending call matching name, or the oldest pending
// call when the result does not carry a tool name.
func matchToolCall(pending *[]pendingTool, name string) (string, time.Time) {
	calls := *pending
	for i, c := range calls {
		if name == "" || c.name == name {
			*pending = append(calls[:i], calls[i+1:]...)
			return c.name, c.at
		}
	}
	return name, time.Time{}
}

// ─── Consumer ────────────────────────────────────────────────────────────────

// RunConsumer reads the turn's token queue until the sentinel arrives,
// turning fragments into normalized tts_ready_chunk events. On cancellation
// it discards the remaining buffer and exits at the next suspension point.
func (p *Pipeline) RunConsumer(ctx context.Context, st *turn.State) error {
	splitter := chunk.New(p.splitOpts...)

	for {
		tok, err := st.Tokens.Get(ctx)
		if err != nil {
			if errors.Is(err, turn.ErrQueueClosed) {
				return nil
			}
			return err
		}

		if tok.Sentinel {
			// Acknowledge the sentinel first: phase one of the barrier only
			// covers queue bookkeeping, phase two covers this final flush.
			st.Tokens.TaskDone()
			if err := p.emitSentences(ctx, st, splitter.Finalize()); err != nil {
				return err
			}
			return nil
		}

		err = p.emitSentences(ctx, st, splitter.Feed(tok.Text))
		st.Tokens.TaskDone()
		if err != nil {
			return err
		}
	}
}

// emitSentences normalizes each sentence and emits it when anything
// speakable remains.
func (p *Pipeline) emitSentences(ctx context.Context, st *turn.State, sentences []string) error {
	for _, s := range sentences {
		c, ok := p.norm.Process(s)
		if !ok {
			continue
		}
		if err := st.Emit(ctx, protocol.NewTTSReadyChunk(c.Text, c.Emotion)); err != nil {
			return err
		}
	}
	return nil
}
