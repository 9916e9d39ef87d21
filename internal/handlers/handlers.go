package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"dealflow/db"
	"dealflow/pkg/apperr"
)

// BlobStore stores uploaded file bytes under an opaque key. Document storage
// is external; only metadata lives in Postgres.
type BlobStore interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) error
}

// Notifier delivers recipient-facing events (enquiry sent, quote decision,
// drawdown outcome). Delivery transport is external.
type Notifier interface {
	Notify(ctx context.Context, recipientID int, event string, payload any)
}

// Handler wraps storage and collaborators for the HTTP layer.
type Handler struct {
	Store  StorageInterface
	Blobs  BlobStore
	Notify Notifier
	Log    *zap.Logger
}

func NewHandler(store StorageInterface, blobs BlobStore, notify Notifier, log *zap.Logger) *Handler {
	return &Handler{Store: store, Blobs: blobs, Notify: notify, Log: log}
}

func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams reads limit and offset from the query with defaults
// and caps.
func parsePaginationParams(r *http.Request) PaginationParams {
	params := PaginationParams{Limit: 5, Offset: 0}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 50 {
			params.Limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			params.Offset = o
		}
	}
	return params
}

func urlParamInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || v <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return v, nil
}

// readJSON decodes the request body into dst with a size cap.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return apperr.Validation("failed to read request body")
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Validation("invalid JSON format")
	}
	return nil
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondList wraps collection responses in a results envelope so empty
// lists serialize as {"results": []} rather than null.
func (h *Handler) respondList(w http.ResponseWriter, items any) {
	h.respondJSON(w, http.StatusOK, map[string]any{"results": items})
}

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	State   string      `json:"state,omitempty"`
}

// respondError maps the error taxonomy onto HTTP statuses. Unclassified
// errors are logged and return a bare 500.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	var status int
	switch code {
	case apperr.CodeValidation:
		status = http.StatusBadRequest
	case apperr.CodePermissionDenied:
		status = http.StatusForbidden
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeInvalidTransition, apperr.CodeInvariantViolation:
		status = http.StatusConflict
	default:
		h.Log.Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		h.respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error": errorBody{Code: "INTERNAL", Message: "internal server error"},
		})
		return
	}
	body := errorBody{Code: code, Message: err.Error()}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Message = ae.Message
		body.State = ae.State
	}
	h.respondJSON(w, status, map[string]any{"error": body})
}

// actorParty resolves the acting party from the X-Actor-ID header for the
// deal in scope. Roles are always resolved server-side from deal membership.
func (h *Handler) actorParty(r *http.Request, dealID int) (*db.Party, error) {
	actorStr := r.Header.Get("X-Actor-ID")
	if actorStr == "" {
		return nil, apperr.Validation("X-Actor-ID header is required")
	}
	userID, err := strconv.Atoi(actorStr)
	if err != nil || userID <= 0 {
		return nil, apperr.Validation("invalid X-Actor-ID header")
	}
	party, err := h.Store.GetPartyForUser(r.Context(), dealID, userID)
	if apperr.IsNotFound(err) {
		return nil, apperr.PermissionDenied("user %d is not a party to deal %d", userID, dealID)
	}
	if err != nil {
		return nil, err
	}
	return party, nil
}

// RequestLogger logs method, path, status and latency for every request.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
