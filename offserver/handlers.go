// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/entities"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/internal/auth"
	"github.com/ADORSYS-GIS/DGRV-digital-gap-tool-sub001/offsync"
)

const maxBodyBytes = 1 << 20

// HandlerConfig configures HTTPHandlers
type HandlerConfig struct {
	// Prefix is prepended to every entity route, e.g. "/api/v1"
	Prefix string
	// Auth, when set, guards every entity route; /healthz stays open
	Auth *JWTAuth
	// NewID assigns ids to created documents (default: random UUID)
	NewID func() string
	// LogRequests logs one line per request at Info level
	LogRequests bool
}

// HTTPHandlers serves one REST collection per entity kind
type HTTPHandlers struct {
	backend Backend
	config  HandlerConfig
	logger  *slog.Logger
}

// NewHTTPHandlers creates handlers storing documents in backend
func NewHTTPHandlers(backend Backend, config HandlerConfig, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if config.NewID == nil {
		config.NewID = func() string { return uuid.NewString() }
	}
	return &HTTPHandlers{backend: backend, config: config, logger: logger}
}

// Register adds /healthz (also under the prefix) and the entity routes to mux
func (h *HTTPHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	p := h.config.Prefix
	if p != "" {
		mux.HandleFunc("GET "+p+"/healthz", h.HandleHealth)
	}
	mux.Handle("POST "+p+"/{collection}", h.wrap(h.HandleCreate))
	mux.Handle("GET "+p+"/{collection}", h.wrap(h.HandleList))
	mux.Handle("GET "+p+"/{collection}/{id}", h.wrap(h.HandleGet))
	mux.Handle("PUT "+p+"/{collection}/{id}", h.wrap(h.HandleUpdate))
	mux.Handle("DELETE "+p+"/{collection}/{id}", h.wrap(h.HandleDelete))
}

// Handler returns a mux serving every route
func (h *HTTPHandlers) Handler() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func (h *HTTPHandlers) wrap(fn http.HandlerFunc) http.Handler {
	var next http.Handler = fn
	if h.config.LogRequests {
		next = captureCaller(next)
	}
	if h.config.Auth != nil {
		next = h.config.Auth.Middleware(next)
	}
	if h.config.LogRequests {
		next = loggingMiddleware(next, h.logger)
	}
	return next
}

// HandleHealth reports that the server is up
func (h *HTTPHandlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// HandleCreate stores a new document under a server-assigned id
func (h *HTTPHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	e, ok := h.decode(w, r, kind)
	if !ok {
		return
	}
	e.SetID(h.config.NewID())

	doc, err := h.document(kind, e)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	doc, err = h.backend.Insert(r.Context(), doc)
	switch {
	case errors.Is(err, ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", fmt.Sprintf("%s %q already exists", kind.Type, doc.ID))
		return
	case err != nil:
		h.logger.Error("Failed to insert document", "collection", kind.Collection, "error", err)
		h.writeError(w, http.StatusInternalServerError, "create_failed", "failed to store document")
		return
	}

	h.logger.Debug("Document created", "collection", kind.Collection, "id", doc.ID)
	writeRaw(w, http.StatusCreated, doc.Data)
}

// HandleUpdate replaces an existing document; the body id must match the path id
func (h *HTTPHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	e, ok := h.decode(w, r, kind)
	if !ok {
		return
	}
	if e.GetID() == "" {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_request", "id is required")
		return
	}
	if e.GetID() != id {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_request", "body id does not match path id")
		return
	}

	doc, err := h.document(kind, e)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	doc, err = h.backend.Replace(r.Context(), doc)
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %q not found", kind.Type, id))
		return
	case err != nil:
		h.logger.Error("Failed to replace document", "collection", kind.Collection, "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "update_failed", "failed to store document")
		return
	}
	writeRaw(w, http.StatusOK, doc.Data)
}

// HandleDelete removes a document
func (h *HTTPHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	err := h.backend.Delete(r.Context(), kind.Collection, id)
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %q not found", kind.Type, id))
		return
	case err != nil:
		h.logger.Error("Failed to delete document", "collection", kind.Collection, "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGet returns one document
func (h *HTTPHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	doc, err := h.backend.Get(r.Context(), kind.Collection, id)
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %q not found", kind.Type, id))
		return
	case err != nil:
		h.logger.Error("Failed to get document", "collection", kind.Collection, "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "get_failed", "failed to load document")
		return
	}
	writeRaw(w, http.StatusOK, doc.Data)
}

// HandleList returns every document of a collection, optionally narrowed by ?scope=
func (h *HTTPHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	docs, err := h.backend.List(r.Context(), kind.Collection, r.URL.Query().Get("scope"))
	if err != nil {
		h.logger.Error("Failed to list documents", "collection", kind.Collection, "error", err)
		h.writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents")
		return
	}
	items := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		items[i] = d.Data
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *HTTPHandlers) kind(w http.ResponseWriter, r *http.Request) (entities.Kind, bool) {
	collection := r.PathValue("collection")
	kind, ok := entities.KindByCollection(collection)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown_collection", fmt.Sprintf("collection %q does not exist", collection))
		return entities.Kind{}, false
	}
	return kind, true
}

func (h *HTTPHandlers) decode(w http.ResponseWriter, r *http.Request, kind entities.Kind) (offsync.Entity, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
		return nil, false
	}
	e := kind.New()
	if err := json.Unmarshal(body, e); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_json", err.Error())
		return nil, false
	}
	if err := e.Validate(); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return nil, false
	}
	return e, true
}

func (h *HTTPHandlers) document(kind entities.Kind, e offsync.Entity) (Document, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Document{}, fmt.Errorf("failed to encode %s: %w", kind.Type, err)
	}
	doc := Document{Collection: kind.Collection, ID: e.GetID(), Data: data}
	if kind.ScopeField != "" {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return Document{}, fmt.Errorf("failed to read %s scope: %w", kind.Type, err)
		}
		_ = json.Unmarshal(fields[kind.ScopeField], &doc.Scope)
	}
	return doc, nil
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeError(w, h.logger, statusCode, errorCode, message)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, offsync.ErrorResponse{Error: errorCode, Message: message})
	logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, statusCode int, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestLogKey struct{}

// requestLog collects what inner handlers learn about a request for its log line
type requestLog struct {
	caller auth.Identity
}

// captureCaller runs behind authentication and hands the caller to the request log
func captureCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl, ok := r.Context().Value(requestLogKey{}).(*requestLog); ok {
			if id, ok := auth.FromContext(r.Context()); ok {
				rl.caller = id
			}
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rl := &requestLog{}
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), requestLogKey{}, rl)))
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", wrapped.statusCode,
			"duration", time.Since(start).String(),
		}
		if rl.caller.UserID != "" {
			attrs = append(attrs, "user_id", rl.caller.UserID, "device_id", rl.caller.DeviceID)
		}
		logger.Info("HTTP request", attrs...)
	})
}
