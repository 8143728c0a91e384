package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hikaru-dev/koemi/internal/feedback"
	"github.com/hikaru-dev/koemi/pkg/memory"
	"github.com/hikaru-dev/koemi/pkg/provider/tts"
)

// ─── TTS ─────────────────────────────────────────────────────────────────────

type synthesizeRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Format string  `json:"format,omitempty"`
	Speed  float64 `json:"speed,omitempty"`
}

type synthesizeResponse struct {
	Audio  string `json:"audio"` // base64-encoded
	Format string `json:"format"`
}

func (a *API) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if a.tts == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no tts provider configured"))
		return
	}
	var req synthesizeRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if req.Text == "" {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: text is required"))
		return
	}

	audio, err := a.tts.Synthesize(r.Context(), tts.Request{
		Text:   req.Text,
		Voice:  req.Voice,
		Format: req.Format,
		Speed:  req.Speed,
	})
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, synthesizeResponse{
		Audio:  base64.StdEncoding.EncodeToString(audio.Data),
		Format: audio.Format,
	})
}

type voicesResponse struct {
	Voices []tts.Voice `json:"voices"`
}

func (a *API) handleVoices(w http.ResponseWriter, r *http.Request) {
	if a.tts == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no tts provider configured"))
		return
	}
	voices, err := a.tts.ListVoices(r.Context())
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, voicesResponse{Voices: voices})
}

// ─── VLM ─────────────────────────────────────────────────────────────────────

type analyzeRequest struct {
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
}

type analyzeResponse struct {
	Result string `json:"result"`
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if a.vlm == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no vlm provider configured"))
		return
	}
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if len(req.Images) == 0 {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: at least one image is required"))
		return
	}

	result, err := a.vlm.Analyze(r.Context(), req.Prompt, req.Images)
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, analyzeResponse{Result: result})
}

// ─── STM — chat history ──────────────────────────────────────────────────────

type appendMessageRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageResponse(m memory.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		SessionID: m.SessionID,
		UserID:    m.UserID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func (a *API) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no session store configured"))
		return
	}
	var req appendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if req.SessionID == "" || req.Role == "" || req.Content == "" {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: session_id, role and content are required"))
		return
	}

	msg := memory.Message{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      req.Role,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.sessions.Append(r.Context(), msg); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no session store configured"))
		return
	}
	sessionID := r.PathValue("id")

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if _, err := fmt.Sscanf(s, "%d", &limit); err != nil || limit < 0 {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: invalid limit %q", s))
			return
		}
	}

	msgs, err := a.sessions.List(r.Context(), sessionID, limit)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	a.writeJSON(w, http.StatusOK, listMessagesResponse{Messages: out})
}

type patchMessageRequest struct {
	Content string `json:"content"`
}

func (a *API) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no session store configured"))
		return
	}
	var req patchMessageRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if req.Content == "" {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: content is required"))
		return
	}

	if err := a.sessions.Update(r.Context(), r.PathValue("id"), req.Content); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no session store configured"))
		return
	}
	if err := a.sessions.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── LTM — long-term memory ──────────────────────────────────────────────────

type addMemoryRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

type memoryResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *API) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	if a.semantic == nil || a.embedder == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no long-term memory configured"))
		return
	}
	var req addMemoryRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if req.Content == "" {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: content is required"))
		return
	}

	embedding, err := a.embedder.Embed(r.Context(), req.Content)
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	mem := memory.Memory{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Content:   req.Content,
		Embedding: embedding,
		Category:  req.Category,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.semantic.Add(r.Context(), mem); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, memoryResponse{
		ID:        mem.ID,
		UserID:    mem.UserID,
		Content:   mem.Content,
		Category:  mem.Category,
		CreatedAt: mem.CreatedAt,
	})
}

type searchMemoriesRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Category string `json:"category,omitempty"`
}

type searchResultResponse struct {
	memoryResponse
	Distance float64 `json:"distance"`
}

type searchMemoriesResponse struct {
	Results []searchResultResponse `json:"results"`
}

// defaultSearchTopK bounds searches that do not name a top_k themselves.
const defaultSearchTopK = 5

func (a *API) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	if a.semantic == nil || a.embedder == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no long-term memory configured"))
		return
	}
	var req searchMemoriesRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if req.Query == "" {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: query is required"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = defaultSearchTopK
	}

	embedding, err := a.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	results, err := a.semantic.Search(r.Context(), embedding, req.TopK, memory.Filter{
		UserID:   req.UserID,
		Category: req.Category,
	})
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]searchResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, searchResultResponse{
			memoryResponse: memoryResponse{
				ID:        res.Memory.ID,
				UserID:    res.Memory.UserID,
				Content:   res.Memory.Content,
				Category:  res.Memory.Category,
				CreatedAt: res.Memory.CreatedAt,
			},
			Distance: res.Distance,
		})
	}
	a.writeJSON(w, http.StatusOK, searchMemoriesResponse{Results: out})
}

func (a *API) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if a.semantic == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: no long-term memory configured"))
		return
	}
	if err := a.semantic.Delete(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Feedback ────────────────────────────────────────────────────────────────

type feedbackRequest struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	ResponseSpeed  int    `json:"response_speed,omitempty"`
	Personality    int    `json:"personality,omitempty"`
	MemoryAccuracy int    `json:"memory_accuracy,omitempty"`
	VoiceQuality   int    `json:"voice_quality,omitempty"`
	Comments       string `json:"comments,omitempty"`
}

func (a *API) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if a.feedback == nil {
		a.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("httpapi: feedback collection is not enabled"))
		return
	}
	var req feedbackRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: decode request: %w", err))
		return
	}
	if req.UserID == "" {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: user_id is required"))
		return
	}
	for name, rating := range map[string]int{
		"response_speed":  req.ResponseSpeed,
		"personality":     req.Personality,
		"memory_accuracy": req.MemoryAccuracy,
		"voice_quality":   req.VoiceQuality,
	} {
		if rating < 0 || rating > 5 {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("httpapi: %s must be between 1 and 5", name))
			return
		}
	}

	err := a.feedback.Save(feedback.Record{
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		ResponseSpeed:  req.ResponseSpeed,
		Personality:    req.Personality,
		MemoryAccuracy: req.MemoryAccuracy,
		VoiceQuality:   req.VoiceQuality,
		Comments:       req.Comments,
	})
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
