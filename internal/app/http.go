package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"logbook/api/internal/attachments"
	"logbook/api/internal/directory"
	"logbook/api/internal/doctree"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware, middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)

	r.Route("/api/logs/{logID}/entries", func(r chi.Router) {
		r.Get("/", s.handleListEntries)
		r.Post("/", s.handleCreateEntry)
	})

	r.Route("/api/entries/{entryID}", func(r chi.Router) {
		r.Get("/", s.handleGetEntry)
		r.Put("/", s.handleUpdateEntry)
		r.Get("/render", s.handleRenderEntry)
		r.Get("/mentions", s.handleEntryMentions)
		r.Get("/history", s.handleEntryHistory)
		r.Get("/versions/{hash}", s.handleEntryVersion)
		r.Get("/export", s.handleExportEntry)
		r.Get("/attachments", s.handleListAttachments)
		r.Post("/attachments", s.handleUploadAttachment)
	})
	r.Get("/api/attachments/{attachmentID}", s.handleDownloadAttachment)

	r.Get("/api/backlinks/{type}/{id}", s.handleBacklinks)

	r.Get("/api/mentionables", s.handleMentionables)
	r.Put("/api/mentionables/{type}/{id}", s.handlePutMentionable)
	r.Delete("/api/mentionables/{type}/{id}", s.handleRemoveMentionable)
	r.Put("/api/users/{userID}", s.handlePutUser)
	r.Post("/api/trigger", s.handleTrigger)
	r.Get("/api/directory/search", s.handleDirectorySearch)
	r.Post("/api/directory/reindex", s.handleReindex)

	return r
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, checks := s.service.ReadyChecks(ctx)
	status, statusCode := "ready", http.StatusOK
	if !ready {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListEntries(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListEntries(r.Context(), chi.URLParam(r, "logID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list entries", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

func (s *HTTPServer) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var body SaveEntryInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.ID = ""
	body.LogID = chi.URLParam(r, "logID")
	entry, err := s.service.SaveEntry(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.GetEntry(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var body SaveEntryInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.ID = chi.URLParam(r, "entryID")
	entry, err := s.service.SaveEntry(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleRenderEntry(w http.ResponseWriter, r *http.Request) {
	rendered, err := s.service.RenderEntry(r.Context(), chi.URLParam(r, "entryID"), strings.TrimSpace(r.URL.Query().Get("format")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rendered)
}

func (s *HTTPServer) handleEntryMentions(w http.ResponseWriter, r *http.Request) {
	refs, err := s.service.EntryMentions(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mentions": refs})
}

func (s *HTTPServer) handleEntryHistory(w http.ResponseWriter, r *http.Request) {
	commits, err := s.service.EntryHistory(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *HTTPServer) handleEntryVersion(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.EntryAtVersion(r.Context(), chi.URLParam(r, "entryID"), chi.URLParam(r, "hash"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleExportEntry(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := s.service.Export(r.Context(), chi.URLParam(r, "entryID"),
		strings.TrimSpace(query.Get("version")),
		strings.TrimSpace(query.Get("format")),
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListAttachments(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": items})
}

func (s *HTTPServer) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form with a file field is required", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
		return
	}
	defer file.Close()

	item, err := s.service.UploadAttachment(r.Context(), attachments.Upload{
		EntryID:     chi.URLParam(r, "entryID"),
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	item, body, err := s.service.OpenAttachment(r.Context(), chi.URLParam(r, "attachmentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", item.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", item.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		log.Warn().Err(err).Str("attachment_id", item.ID).Msg("http: attachment stream interrupted")
	}
}

func (s *HTTPServer) handleBacklinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.service.Backlinks(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlinks": links})
}

func (s *HTTPServer) handleMentionables(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := s.service.Mentionables(r.Context(), MentionablesQuery{
		Session: strings.TrimSpace(query.Get("session")),
		LogID:   strings.TrimSpace(query.Get("logId")),
		Type:    strings.TrimSpace(query.Get("type")),
		Query:   query.Get("q"),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePutMentionable(w http.ResponseWriter, r *http.Request) {
	var body MentionableInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.PutMentionable(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleRemoveMentionable(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveMentionable(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var body UserInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.PutUser(r.Context(), chi.URLParam(r, "userID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
	})
}

func (s *HTTPServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Trigger(body.Text))
}

func (s *HTTPServer) handleDirectorySearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	records, err := s.service.SearchDirectory(r.Context(), directory.Query{
		Text:  strings.TrimSpace(query.Get("q")),
		Type:  doctree.EntityType(strings.TrimSpace(query.Get("type"))),
		LogID: strings.TrimSpace(query.Get("logId")),
		Limit: limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": records})
}

func (s *HTTPServer) handleReindex(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.Reindex(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "indexed": count})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("http: request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("http request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
