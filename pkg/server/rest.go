package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rhea-ai/rhea/pkg/artifact"
	"github.com/rhea-ai/rhea/pkg/objectstore"
)

// UploadResponse is the JSON body returned by POST /upload.
type UploadResponse struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Size     int64  `json:"size"`
}

// restRouter builds the REST sidecar: file upload/download against the
// object store plus the metrics exposition.
func (s *Server) restRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/upload", s.handleUpload)
	r.Get("/download", s.handleDownload)
	r.Handle("/metrics", s.metrics.Handler())

	return r
}

// handleUpload reads a chunked body, wraps it in a proxy envelope and
// returns the new handle.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := r.Header.Get("x-filename")
	if name == "" {
		http.Error(w, "x-filename header is required", http.StatusBadRequest)
		return
	}

	contents, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
		return
	}
	if r.ContentLength >= 0 && r.ContentLength != int64(len(contents)) {
		http.Error(w, "body length does not match Content-Length", http.StatusBadRequest)
		return
	}

	proxy := artifact.FromBuffer(name, contents)
	handle, err := proxy.ToStore(r.Context(), s.store)
	if err != nil {
		http.Error(w, fmt.Sprintf("store upload: %v", err), http.StatusBadGateway)
		return
	}

	slog.Info("uploaded file", "filename", name, "size", proxy.Size, "handle", handle)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadResponse{
		Key:      string(handle),
		Filename: proxy.Filename,
		Format:   proxy.Format,
		Size:     proxy.Size,
	})
}

// handleDownload streams the contents behind a handle with the original
// filename in Content-Disposition.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key query parameter is required", http.StatusBadRequest)
		return
	}

	proxy, err := artifact.FromHandle(r.Context(), s.store, objectstore.Handle(key))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("store download: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", proxy.Format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", proxy.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(proxy.Size, 10))
	w.Write(proxy.Contents)
}
