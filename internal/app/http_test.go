package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logbook/api/internal/directory"
	"logbook/api/internal/doctree"
)

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	return payload
}

func TestHealthAndReady(t *testing.T) {
	svc, deps := newTestService(t)
	h := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeResponse(t, rr)["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = doRequest(t, h, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", decodeResponse(t, rr)["status"])

	deps.store.pingErr = errors.New("connection refused")
	rr = doRequest(t, h, http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	payload := decodeResponse(t, rr)
	assert.Equal(t, "not_ready", payload["status"])
	checks := payload["checks"].(map[string]any)
	assert.Equal(t, "error", checks["database"].(map[string]any)["status"])
}

func TestEntryRoutes(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, h, http.MethodPost, "/api/logs/ward-3/entries", map[string]any{
		"title":   "Night shift",
		"author":  "Dana",
		"content": json.RawMessage(mentionDoc),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeResponse(t, rr)
	entryID := created["id"].(string)
	assert.Equal(t, "ward-3", created["logId"])

	rr = doRequest(t, h, http.MethodGet, "/api/logs/ward-3/entries", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeResponse(t, rr)["entries"], 1)

	rr = doRequest(t, h, http.MethodGet, "/api/entries/"+entryID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Night shift", decodeResponse(t, rr)["title"])

	rr = doRequest(t, h, http.MethodPut, "/api/entries/"+entryID, map[string]any{
		"title":   "Night shift",
		"content": fileDoc("file_gone"),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	payload := decodeResponse(t, rr)
	assert.Equal(t, "VALIDATION_ERROR", payload["code"])
	assert.Equal(t, map[string]any{"content": "One or more mentioned files are missing"}, payload["details"])

	rr = doRequest(t, h, http.MethodGet, "/api/entries/"+entryID+"/render?format=markdown", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decodeResponse(t, rr)["content"], "John Doe")

	rr = doRequest(t, h, http.MethodGet, "/api/entries/"+entryID+"/mentions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeResponse(t, rr)["mentions"], 1)

	rr = doRequest(t, h, http.MethodGet, "/api/entries/"+entryID+"/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	commits := decodeResponse(t, rr)["commits"].([]any)
	require.Len(t, commits, 1)
	hash := commits[0].(map[string]any)["hash"].(string)

	rr = doRequest(t, h, http.MethodGet, "/api/entries/"+entryID+"/versions/"+hash, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, hash, decodeResponse(t, rr)["version"])

	rr = doRequest(t, h, http.MethodGet, "/api/entries/"+entryID+"/export?format=html", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "Night-shift.html")
	assert.Contains(t, rr.Body.String(), "<h1>Night shift</h1>")

	rr = doRequest(t, h, http.MethodGet, "/api/entries/"+entryID+"/export?format=odt", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doRequest(t, h, http.MethodGet, "/api/backlinks/User/u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeResponse(t, rr)["backlinks"], 1)

	rr = doRequest(t, h, http.MethodGet, "/api/backlinks/Robot/u1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestEntryNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHTTPServer(svc, "*").Handler()

	for _, path := range []string{"/api/entries/ent_missing", "/api/entries/ent_missing/history", "/api/entries/ent_missing/attachments"} {
		rr := doRequest(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, "NOT_FOUND", decodeResponse(t, rr)["code"], path)
	}

	rr := doRequest(t, h, http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInvalidBody(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHTTPServer(svc, "*").Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/logs/ward-3/entries", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_BODY", decodeResponse(t, rr)["code"])
}

func TestAttachmentRoutes(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, h, http.MethodPost, "/api/logs/ward-3/entries", map[string]any{"title": "Scans"})
	require.Equal(t, http.StatusCreated, rr.Code)
	entryID := decodeResponse(t, rr)["id"].(string)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "scan.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.7"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/entries/"+entryID+"/attachments", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doRequest(t, h, http.MethodGet, "/api/entries/"+entryID+"/attachments", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeResponse(t, rr)["attachments"], 1)

	rr = doRequest(t, h, http.MethodGet, "/api/attachments/file_scan.pdf", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "%PDF-1.7", rr.Body.String())

	rr = doRequest(t, h, http.MethodPost, "/api/entries/"+entryID+"/attachments", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTypeaheadRoutes(t *testing.T) {
	svc, deps := newTestService(t)
	deps.directory.candidates = []doctree.Mentionable{
		{ID: "u1", Label: "John Doe", Type: doctree.EntityUser},
		{ID: "t1", Label: "Refill oxygen", Type: doctree.EntityTask},
	}
	deps.directory.records = []directory.Record{{Key: "User_dTE", ID: "u1", Type: doctree.EntityUser, Label: "John Doe"}}
	h := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, h, http.MethodGet, "/api/mentionables?session=s1&logId=ward-3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	categories := decodeResponse(t, rr)["categories"].([]any)
	require.Len(t, categories, 2)
	assert.Equal(t, "Users", categories[0].(map[string]any)["label"])

	rr = doRequest(t, h, http.MethodGet, "/api/mentionables?session=s1&type=Task&q=oxy", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	results := decodeResponse(t, rr)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].(map[string]any)["id"])

	rr = doRequest(t, h, http.MethodGet, "/api/mentionables?type=Robot", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/api/trigger", map[string]any{"text": "hello @jo"})
	require.Equal(t, http.StatusOK, rr.Code)
	payload := decodeResponse(t, rr)
	assert.Equal(t, "@jo", payload["mention"].(map[string]any)["replaceableSpan"])
	assert.Nil(t, payload["slash"])

	rr = doRequest(t, h, http.MethodGet, "/api/directory/search?q=john", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeResponse(t, rr)["results"], 1)

	rr = doRequest(t, h, http.MethodGet, "/api/directory/search?limit=many", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestDirectoryRoutes(t *testing.T) {
	svc, deps := newTestService(t)
	h := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, h, http.MethodPut, "/api/mentionables/Task/t1", map[string]any{"label": "Refill oxygen", "logId": "ward-3"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Task", decodeResponse(t, rr)["type"])

	rr = doRequest(t, h, http.MethodPut, "/api/mentionables/Task/t2", map[string]any{"label": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = doRequest(t, h, http.MethodDelete, "/api/mentionables/Task/t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{directory.RecordKey(doctree.EntityTask, "t1")}, deps.directory.removed)

	rr = doRequest(t, h, http.MethodPut, "/api/users/u1", map[string]any{"displayName": "John Doe", "email": "john@example.org"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "john@example.org", decodeResponse(t, rr)["email"])

	rr = doRequest(t, h, http.MethodPost, "/api/directory/reindex", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	deps.directory.reindexErr = directory.ErrIndexUnavailable
	rr = doRequest(t, h, http.MethodPost, "/api/directory/reindex", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "INDEX_UNAVAILABLE", decodeResponse(t, rr)["code"])
}
