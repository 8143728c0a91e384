package turn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hikaru-dev/koemi/internal/protocol"
)

// ErrEventsClosed is returned by [State.Emit] after [State.CloseEvents].
var ErrEventsClosed = errors.New("turn: event queue closed")

// State is the record of one conversational turn. It owns the two bounded
// queues and carries the monotonic lifecycle status. A State is owned
// exclusively by its message processor; tasks refer back to it only through
// the turn ID.
type State struct {
	// ID uniquely identifies this response turn.
	ID string

	// SessionID is the logical conversation this turn belongs to.
	SessionID string

	// CreatedAt is when the turn record was created.
	CreatedAt time.Time

	// Tokens is the bounded producer → consumer token queue.
	Tokens *TokenQueue

	events    chan protocol.Outbound
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	status     Status
	finishedAt time.Time
	content    string
}

// NewState creates a Pending turn with queues of the given capacity.
func NewState(id, sessionID string, queueCap int) *State {
	return &State{
		ID:        id,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		Tokens:    NewTokenQueue(queueCap),
		events:    make(chan protocol.Outbound, queueCap),
		closed:    make(chan struct{}),
	}
}

// Emit enqueues an outbound event for the client, blocking while the event
// queue is full. It returns ctx.Err() on cancellation and [ErrEventsClosed]
// after CloseEvents.
func (s *State) Emit(ctx context.Context, ev protocol.Outbound) error {
	select {
	case <-s.closed:
		return ErrEventsClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrEventsClosed
	}
}

// CloseEvents marks the event stream complete. Events already enqueued are
// still delivered to the reader; the stream returned by [State.EventStream]
// then ends. Idempotent.
func (s *State) CloseEvents() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// EventStream returns the turn's outbound events as a lazy, finite
// sequence. The returned channel closes after CloseEvents once all buffered
// events have been delivered, or as soon as ctx ends. ctx is the reader's
// lifetime: a consumer that disconnects mid-turn releases the delivery
// goroutine instead of stranding it on an unread send. The stream is not
// restartable: call EventStream once per turn.
func (s *State) EventStream(ctx context.Context) <-chan protocol.Outbound {
	out := make(chan protocol.Outbound)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-s.events:
				if !deliver(ctx, out, ev) {
					return
				}
			case <-ctx.Done():
				return
			case <-s.closed:
				// Deliver whatever is still buffered, then end the stream.
				for {
					select {
					case ev := <-s.events:
						if !deliver(ctx, out, ev) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
	return out
}

// deliver sends ev to the stream reader, giving up when the reader's context
// ends first.
func deliver(ctx context.Context, out chan<- protocol.Outbound, ev protocol.Outbound) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// DrainEvents discards all undelivered outbound events without blocking and
// returns how many were dropped. Used on interruption: events queued for a
// cancelled turn are stale and must not reach the client after the terminal
// interrupted event.
func (s *State) DrainEvents() int {
	n := 0
	for {
		select {
		case <-s.events:
			n++
		default:
			return n
		}
	}
}

// Status returns the current lifecycle status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Advance moves the status forward. It returns false when the transition
// would violate the monotonic lifecycle (e.g. reopening a terminal turn).
// Advancing into a terminal status records the finish timestamp.
func (s *State) Advance(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.canAdvance(next) {
		return false
	}
	s.status = next
	if next.Terminal() {
		s.finishedAt = time.Now()
	}
	return true
}

// FinishedAt returns when the turn reached a terminal status, or the zero
// time while it is still live.
func (s *State) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

// SetContent records the aggregated response text from the upstream
// stream_end event.
func (s *State) SetContent(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
}

// Content returns the aggregated response text.
func (s *State) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}
