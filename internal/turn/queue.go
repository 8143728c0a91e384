package turn

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by [TokenQueue.Put] and [TokenQueue.Get] after
// [TokenQueue.Close].
var ErrQueueClosed = errors.New("turn: token queue closed")

// Token is one item of the token queue: either a text fragment awaiting
// chunking or the end-of-tokens sentinel.
type Token struct {
	// Text is the raw fragment from a stream_token event.
	Text string

	// Sentinel marks the end of the token stream. No further tokens follow.
	Sentinel bool
}

// TokenQueue is the bounded FIFO between the producer and the consumer of a
// turn. It adds acknowledgement bookkeeping on top of a channel: the
// consumer calls [TokenQueue.TaskDone] once per processed item, and
// [TokenQueue.Join] blocks until every put item has been acknowledged. The
// two-phase end-of-stream barrier depends on that distinction — an empty
// channel only means items were received, not that they were processed.
//
// The producer is the sole writer; the consumer is the sole reader.
type TokenQueue struct {
	ch        chan Token
	closed    chan struct{}
	closeOnce sync.Once
	pending   sync.WaitGroup
}

// NewTokenQueue creates a queue with the given capacity. A full queue blocks
// [TokenQueue.Put], which is the backpressure point throttling the agent
// stream to the consumer's rate.
func NewTokenQueue(capacity int) *TokenQueue {
	return &TokenQueue{
		ch:     make(chan Token, capacity),
		closed: make(chan struct{}),
	}
}

// Put enqueues a token, blocking while the queue is full. It returns
// ctx.Err() on cancellation and [ErrQueueClosed] after Close.
func (q *TokenQueue) Put(ctx context.Context, t Token) error {
	q.pending.Add(1)
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		q.pending.Done()
		return ctx.Err()
	case <-q.closed:
		q.pending.Done()
		return ErrQueueClosed
	}
}

// Get dequeues the next token, blocking while the queue is empty. Buffered
// tokens are still delivered after Close; once the buffer is empty Get
// returns [ErrQueueClosed].
func (q *TokenQueue) Get(ctx context.Context) (Token, error) {
	// Prefer buffered items so Close does not drop in-flight tokens.
	select {
	case t := <-q.ch:
		return t, nil
	default:
	}
	select {
	case t := <-q.ch:
		return t, nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case <-q.closed:
		return Token{}, ErrQueueClosed
	}
}

// TaskDone acknowledges one dequeued token as fully processed. Every
// successful Get must be paired with exactly one TaskDone.
func (q *TokenQueue) TaskDone() {
	q.pending.Done()
}

// Join blocks until every put token has been acknowledged via TaskDone, or
// until ctx is cancelled.
func (q *TokenQueue) Join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the queue closed. Blocked writers and readers are released;
// buffered items remain readable. Close is idempotent.
func (q *TokenQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Drain removes and acknowledges all buffered tokens without blocking and
// returns how many were discarded. Used by the supervisor after
// cancellation so Join callers are released.
func (q *TokenQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			q.TaskDone()
			n++
		default:
			return n
		}
	}
}

// Len returns the number of buffered, undelivered tokens.
func (q *TokenQueue) Len() int {
	return len(q.ch)
}
