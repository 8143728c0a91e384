package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hikaru-dev/koemi/pkg/memory"
	"github.com/hikaru-dev/koemi/pkg/provider/agent"
	"github.com/hikaru-dev/koemi/pkg/provider/embeddings"
)

const (
	// recallTopK is how many long-term memories are surfaced per turn.
	recallTopK = 4

	// recallHistory is how many recent chat messages are replayed into the
	// prompt context.
	recallHistory = 12

	// recordTimeout bounds the post-turn history write.
	recordTimeout = 5 * time.Second
)

// recallAgent decorates an agent provider with conversational memory: before
// each turn it folds the session's recent history and relevant long-term
// memories into the persona prompt, and after each turn it records the
// exchange into the chat history store.
type recallAgent struct {
	inner    agent.Provider
	log      *slog.Logger
	sessions memory.SessionStore
	semantic memory.SemanticStore
	embedder embeddings.Provider
	persona  func() (string, error)
}

var _ agent.Provider = (*recallAgent)(nil)

// wrapRecall decorates inner with memory recall when any store is available.
// Without stores the provider is returned unchanged.
func (a *App) wrapRecall(inner agent.Provider) agent.Provider {
	if a.sessions == nil && a.semantic == nil {
		return inner
	}
	r := &recallAgent{
		inner:    inner,
		log:      a.log,
		sessions: a.sessions,
		semantic: a.semantic,
		embedder: a.providers.Embeddings,
	}
	if p, ok := a.companion.(interface{ Persona() (string, error) }); ok {
		r.persona = p.Persona
	}
	return r
}

func (r *recallAgent) Stream(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	if req.Persona == "" && r.persona != nil {
		persona, err := r.persona()
		if err != nil {
			r.log.Warn("persona load failed", "error", err)
		} else {
			req.Persona = persona
		}
	}
	if block := r.contextBlock(ctx, req); block != "" {
		req.Persona = strings.TrimSpace(req.Persona + "\n\n" + block)
	}

	upstream, err := r.inner.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan agent.Event)
	go func() {
		defer close(out)
		var response string
		for ev := range upstream {
			if ev.Type == agent.EventStreamEnd {
				response = ev.Content
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if response != "" {
			r.record(req, response)
		}
	}()
	return out, nil
}

// contextBlock assembles the recalled context for one turn. Failures degrade
// to a smaller block; the turn itself never fails on recall.
func (r *recallAgent) contextBlock(ctx context.Context, req agent.Request) string {
	var b strings.Builder

	if r.semantic != nil && r.embedder != nil && req.Input != "" {
		vec, err := r.embedder.Embed(ctx, req.Input)
		if err != nil {
			r.log.Warn("recall embed failed", "error", err)
		} else {
			results, err := r.semantic.Search(ctx, vec, recallTopK, memory.Filter{UserID: req.UserID})
			if err != nil {
				r.log.Warn("recall search failed", "error", err)
			} else if len(results) > 0 {
				b.WriteString("Things you remember about this user:\n")
				for _, res := range results {
					fmt.Fprintf(&b, "- %s\n", res.Memory.Content)
				}
			}
		}
	}

	if r.sessions != nil && req.SessionID != "" {
		msgs, err := r.sessions.List(ctx, req.SessionID, recallHistory)
		if err != nil {
			r.log.Warn("recall history failed", "error", err)
		} else if len(msgs) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("Recent conversation:\n")
			for _, m := range msgs {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// record writes the completed exchange into the chat history store. It runs
// after the stream has ended, detached from the turn's context.
func (r *recallAgent) record(req agent.Request, response string) {
	if r.sessions == nil || req.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	now := time.Now().UTC()
	pair := []memory.Message{
		{ID: uuid.NewString(), SessionID: req.SessionID, UserID: req.UserID, Role: "user", Content: req.Input, CreatedAt: now},
		{ID: uuid.NewString(), SessionID: req.SessionID, UserID: req.UserID, Role: "assistant", Content: response, CreatedAt: now.Add(time.Millisecond)},
	}
	for _, msg := range pair {
		if err := r.sessions.Append(ctx, msg); err != nil {
			r.log.Warn("record exchange failed", "session_id", req.SessionID, "error", err)
			return
		}
	}
}

func (r *recallAgent) Initialize(ctx context.Context) error {
	return r.inner.Initialize(ctx)
}

func (r *recallAgent) Healthy(ctx context.Context) (bool, string) {
	return r.inner.Healthy(ctx)
}
