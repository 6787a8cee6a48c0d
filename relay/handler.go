// Package relay implements the HTTP surface of the tool-call relay: session
// creation, request/response enqueue, SSE streaming delivery and response
// retrieval. Handlers are request-scoped and stateless; all cross-request
// state lives in the kv store.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/viant/toolrelay"
	"github.com/viant/toolrelay/kv"
)

// maxBodySize bounds enqueue payloads.
const maxBodySize = 1 << 20

// collisionRetries bounds session code generation attempts. At ~40 bits of
// entropy collisions are negligible; retries exist for completeness.
const collisionRetries = 5

// Handler serves the relay endpoints.
type Handler struct {
	Options
	store   kv.Store
	limiter *Limiter
}

// New creates a relay Handler over the given store.
func New(store kv.Store, options ...Option) *Handler {
	opts := defaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	return &Handler{
		Options: opts,
		store:   store,
		limiter: NewLimiter(store, opts.RateWindow),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := h.allowedOrigin(r); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.URL.Path {
	case "/sessions":
		if r.Method != http.MethodPost {
			h.writeMethodNotAllowed(w, r)
			return
		}
		h.handleCreateSession(w, r)
	case "/request":
		switch r.Method {
		case http.MethodPost:
			h.handleEnqueueRequest(w, r)
		case http.MethodGet:
			h.handlePollRequests(w, r)
		default:
			h.writeMethodNotAllowed(w, r)
		}
	case "/response":
		switch r.Method {
		case http.MethodPost:
			h.handleEnqueueResponse(w, r)
		case http.MethodGet:
			h.handleFetchResponse(w, r)
		default:
			h.writeMethodNotAllowed(w, r)
		}
	case "/stream":
		if r.Method != http.MethodGet {
			h.writeMethodNotAllowed(w, r)
			return
		}
		h.handleStream(w, r)
	default:
		h.writeError(w, http.StatusNotFound, toolrelay.NewError("not_found", "unknown endpoint: "+r.URL.Path))
	}
}

type sessionCreated struct {
	Code      string    `json:"code"`
	TTL       int       `json:"ttl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type enqueueStatus struct {
	Id     string `json:"id"`
	Status string `json:"status"`
}

type pollResult struct {
	Requests []*toolrelay.Request `json:"requests"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	allowed, err := h.limiter.Allow(ctx, "sessions", clientIP(r), h.SessionRateLimit)
	if err != nil {
		h.writeInternal(w, err)
		return
	}
	if !allowed {
		h.writeRateLimited(w, toolrelay.CodeSessionRateLimit)
		return
	}

	now := h.now()
	for attempt := 0; attempt < collisionRetries; attempt++ {
		code, err := toolrelay.GenerateCode()
		if err != nil {
			h.writeInternal(w, err)
			return
		}
		session := &kv.Session{
			Code:         code,
			CreatedAt:    now,
			LastActivity: now,
			TTL:          int(h.SessionTTL.Seconds()),
		}
		switch err := h.store.PutSession(ctx, session); {
		case err == nil:
			if h.Metrics != nil {
				h.Metrics.SessionsCreated.Inc()
			}
			h.Logger.Debug().Str("code", code).Msg("session created")
			h.writeJSON(w, http.StatusCreated, &sessionCreated{
				Code:      code,
				TTL:       session.TTL,
				ExpiresAt: now.Add(h.SessionTTL),
			})
			return
		case errors.Is(err, kv.ErrExists):
			continue
		default:
			h.writeInternal(w, err)
			return
		}
	}
	h.writeError(w, http.StatusInternalServerError,
		toolrelay.NewError(toolrelay.ErrorInternal, "failed to allocate a session code"))
}

func (h *Handler) handleEnqueueRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	request := &toolrelay.Request{}
	if !h.readBody(w, r, request) {
		return
	}
	if err := request.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, toolrelay.NewError(toolrelay.ErrorValidation, err.Error()))
		return
	}
	if !toolrelay.IsValidCode(request.Code) {
		h.writeError(w, http.StatusBadRequest,
			toolrelay.NewError(toolrelay.ErrorInvalidSessionCode, "session code must match ^[A-Z2-7]{8}$"))
		return
	}
	if !h.checkSession(ctx, w, request.Code) {
		return
	}
	allowed, err := h.limiter.Allow(ctx, "request", clientIP(r)+":"+request.Code, h.RequestRateLimit)
	if err != nil {
		h.writeInternal(w, err)
		return
	}
	if !allowed {
		h.writeRateLimited(w, toolrelay.CodeRequestRateLimit)
		return
	}

	now := h.now()
	request.EnqueuedAt = now
	data, err := json.Marshal(request)
	if err != nil {
		h.writeInternal(w, err)
		return
	}
	if err := h.store.Push(ctx, kv.RequestKey(request.Code), data, h.QueueTTL); err != nil {
		h.writeInternal(w, err)
		return
	}
	_ = h.store.TouchSession(ctx, request.Code, now)
	if h.Metrics != nil {
		h.Metrics.RequestsQueued.Inc()
	}
	h.Logger.Debug().Str("code", request.Code).Str("id", request.Id).Str("tool", request.Tool).Msg("request queued")
	h.writeJSON(w, http.StatusAccepted, &enqueueStatus{Id: request.Id, Status: "queued"})
}

func (h *Handler) handleEnqueueResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	response := &toolrelay.Response{}
	if !h.readBody(w, r, response) {
		return
	}
	if err := response.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, toolrelay.NewError(toolrelay.ErrorValidation, err.Error()))
		return
	}
	if !toolrelay.IsValidCode(response.Code) {
		h.writeError(w, http.StatusBadRequest,
			toolrelay.NewError(toolrelay.ErrorInvalidSessionCode, "session code must match ^[A-Z2-7]{8}$"))
		return
	}
	if !h.checkSession(ctx, w, response.Code) {
		return
	}
	allowed, err := h.limiter.Allow(ctx, "response", clientIP(r)+":"+response.Code, h.ResponseRateLimit)
	if err != nil {
		h.writeInternal(w, err)
		return
	}
	if !allowed {
		h.writeRateLimited(w, toolrelay.CodeResponseRateLimit)
		return
	}

	now := h.now()
	response.PostedAt = now
	data, err := json.Marshal(response)
	if err != nil {
		h.writeInternal(w, err)
		return
	}
	if err := h.store.Push(ctx, kv.ResponseKey(response.Code), data, h.QueueTTL); err != nil {
		h.writeInternal(w, err)
		return
	}
	_ = h.store.TouchSession(ctx, response.Code, now)
	if h.Metrics != nil {
		h.Metrics.ResponsesStored.Inc()
	}
	h.Logger.Debug().Str("code", response.Code).Str("id", response.Id).Msg("response stored")
	h.writeJSON(w, http.StatusAccepted, &enqueueStatus{Id: response.Id, Status: "stored"})
}

// handlePollRequests is the polling drain used by workers when streaming is
// unavailable. It shares the atomic drain with the stream; the worker applies
// its own deduplication.
func (h *Handler) handlePollRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	if !h.checkCode(w, code) || !h.checkSession(ctx, w, code) {
		return
	}
	items, err := h.store.Drain(ctx, kv.RequestKey(code))
	if err != nil {
		h.writeInternal(w, err)
		return
	}
	requests := make([]*toolrelay.Request, 0, len(items))
	for _, item := range items {
		request, err := toolrelay.ParseRequest(item)
		if err != nil {
			h.Logger.Warn().Err(err).Str("code", code).Msg("skipping malformed request envelope")
			continue
		}
		requests = append(requests, request)
	}
	h.writeJSON(w, http.StatusOK, &pollResult{Requests: requests})
}

// handleFetchResponse serves producers that cannot subscribe: it scans the
// response list for a matching id, consumes the match and returns it.
func (h *Handler) handleFetchResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	code, id := query.Get("code"), query.Get("id")
	if !h.checkCode(w, code) || !h.checkSession(ctx, w, code) {
		return
	}
	if id == "" {
		h.writeError(w, http.StatusBadRequest, toolrelay.NewError(toolrelay.ErrorValidation, "id is required"))
		return
	}
	items, err := h.store.List(ctx, kv.ResponseKey(code))
	if err != nil {
		h.writeInternal(w, err)
		return
	}
	for _, item := range items {
		response, err := toolrelay.ParseResponse(item)
		if err != nil {
			h.Logger.Warn().Err(err).Str("code", code).Msg("skipping malformed response envelope")
			continue
		}
		if response.Id != id {
			continue
		}
		if err := h.store.RemoveItem(ctx, kv.ResponseKey(code), item); err != nil {
			h.writeInternal(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, response)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkCode validates the session code form; empty codes are a validation
// error, malformed ones an invalid_session_code.
func (h *Handler) checkCode(w http.ResponseWriter, code string) bool {
	if code == "" {
		h.writeError(w, http.StatusBadRequest, toolrelay.NewError(toolrelay.ErrorValidation, "code is required"))
		return false
	}
	if !toolrelay.IsValidCode(code) {
		h.writeError(w, http.StatusBadRequest,
			toolrelay.NewError(toolrelay.ErrorInvalidSessionCode, "session code must match ^[A-Z2-7]{8}$"))
		return false
	}
	return true
}

// checkSession verifies the session exists, writing a 404 otherwise. The code
// form must have been validated already.
func (h *Handler) checkSession(ctx context.Context, w http.ResponseWriter, code string) bool {
	_, err := h.store.Session(ctx, code)
	switch {
	case err == nil:
		return true
	case errors.Is(err, kv.ErrNotFound):
		h.writeError(w, http.StatusNotFound,
			toolrelay.NewError(toolrelay.ErrorSessionNotFound, "session '"+code+"' does not exist or expired"))
	default:
		h.writeInternal(w, err)
	}
	return false
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, toolrelay.NewError(toolrelay.ErrorInvalidJSON, "failed to read request body"))
		return false
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.writeError(w, http.StatusBadRequest, toolrelay.NewError(toolrelay.ErrorInvalidJSON, "request body is not valid JSON"))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.Logger.Error().Err(err).Msg("failed to write response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, wireErr *toolrelay.Error) {
	h.writeJSON(w, status, wireErr)
}

func (h *Handler) writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusMethodNotAllowed,
		toolrelay.NewError(toolrelay.ErrorMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path))
}

func (h *Handler) writeRateLimited(w http.ResponseWriter, code string) {
	if h.Metrics != nil {
		h.Metrics.RateLimited.WithLabelValues(code).Inc()
	}
	h.writeError(w, http.StatusTooManyRequests, toolrelay.NewRateLimitError(code))
}

func (h *Handler) writeInternal(w http.ResponseWriter, err error) {
	h.Logger.Error().Err(err).Msg("internal error")
	h.writeError(w, http.StatusInternalServerError,
		toolrelay.NewError(toolrelay.ErrorInternal, "unexpected server error"))
}
