package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhea-ai/rhea/pkg/config"
	"github.com/rhea-ai/rhea/pkg/objectstore"
)

func testServer(t *testing.T) (*Server, *objectstore.MemoryStore) {
	t.Helper()
	store := objectstore.NewMemoryStore()
	s := New(&config.Settings{Host: "localhost", Port: 0}, nil, store, NewMetrics(nil))
	return s, store
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s, _ := testServer(t)
	router := s.restRouter()

	contents := []byte("col1,col2\n1,2\n3,4\n")

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(contents))
	req.Header.Set("x-filename", "table.csv")
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(contents)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var uploaded UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	assert.NotEmpty(t, uploaded.Key)
	assert.Equal(t, "table.csv", uploaded.Filename)
	assert.Equal(t, int64(len(contents)), uploaded.Size)

	req = httptest.NewRequest(http.MethodGet, "/download?key="+uploaded.Key, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, contents, body)

	// The reported filename round-trips through Content-Disposition.
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="table.csv"`)
}

func TestUploadRequiresFilename(t *testing.T) {
	s, _ := testServer(t)
	router := s.restRouter()

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("data"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsLengthMismatch(t *testing.T) {
	s, _ := testServer(t)
	router := s.restRouter()

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("data"))
	req.Header.Set("x-filename", "f.txt")
	req.ContentLength = 999
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadMissingKey(t *testing.T) {
	s, _ := testServer(t)
	router := s.restRouter()

	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/download?key=unknown", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := testServer(t)
	s.metrics.RecordFind(0)
	s.metrics.RecordExecution(0, true)
	s.metrics.RecordExecution(0, false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.restRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	exposition := rec.Body.String()
	assert.Contains(t, exposition, "find_tools_requests_total 1")
	assert.Contains(t, exposition, "successful_tool_executions 1")
	assert.Contains(t, exposition, "failed_tool_executions 1")
	assert.Contains(t, exposition, "tool_execution_request_total 2")
	assert.Contains(t, exposition, "tool_execution_runtime_seconds")
	assert.Contains(t, exposition, "find_tools_request_latency_seconds")
}
