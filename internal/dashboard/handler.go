package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/orchestrator"
)

// API is the orchestrator surface the dashboard exposes.
type API interface {
	ListAll(ctx context.Context) ([]*document.Document, error)
	Stats(ctx context.Context) (*orchestrator.StorageStats, error)
	SyncNow(ctx context.Context) (orchestrator.DrainResult, error)
	Ingest(ctx context.Context, req orchestrator.IngestRequest) (orchestrator.IngestResult, error)
	IngestBatch(ctx context.Context, name string, reqs []orchestrator.IngestRequest) (*document.Session, []orchestrator.IngestResult, []error)
	Payload(ctx context.Context, id string) ([]byte, error)
	SetNetworkOnline(online bool)
}

// NetworkRequest is the body of POST /api/network.
type NetworkRequest struct {
	Online *bool `json:"online"`
}

// UploadResponse is the body returned by POST /api/documents.
type UploadResponse struct {
	Results []orchestrator.IngestResult `json:"results"`
	Errors  []string                    `json:"errors,omitempty"`
	Session *document.Session           `json:"session,omitempty"`
}

func (s *Server) routes(maxUpload int64) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("POST /api/documents", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpload(w, r, maxUpload)
	})
	mux.HandleFunc("GET /api/documents/{id}/payload", s.handlePayload)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/network", s.handleNetwork)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// handleListDocuments returns the merged listing, optionally filtered by
// ?status= and ?source=.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var status document.Status
	if v := r.URL.Query().Get("status"); v != "" {
		parsed, err := document.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}
	var source *document.Source
	if v := r.URL.Query().Get("source"); v != "" {
		parsed, err := document.ParseSource(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		source = &parsed
	}

	docs, err := s.api.ListAll(r.Context())
	if err != nil {
		s.logger.Printf("Failed to list documents: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	filtered := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		if status != "" && doc.Status != status {
			continue
		}
		if source != nil && doc.Source != *source {
			continue
		}
		filtered = append(filtered, doc)
	}

	writeJSON(w, http.StatusOK, filtered)
}

// handlePayload returns the stored bytes of one document.
func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.api.Payload(r.Context(), id)
	if errors.Is(err, document.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no payload for %s", id))
		return
	}
	if err != nil {
		s.logger.Printf("Failed to read payload %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to read payload")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleNetwork relays a platform connectivity signal. Going online
// schedules a drain after the settle delay.
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req NetworkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, `want {"online": true|false}`)
		return
	}
	s.api.SetNetworkOnline(*req.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"network_online": *req.Online})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.Stats(r.Context())
	if err != nil {
		s.logger.Printf("Failed to compute stats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.api.SyncNow(r.Context())
	if errors.Is(err, orchestrator.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.logger.Printf("Sync failed: %v", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUpload ingests every "file" part of a multipart form. An optional
// "text" field becomes the extracted text of each file, and an optional
// "session" field groups the files into a processing session.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, maxUpload int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no file parts in upload")
		return
	}

	var derived *document.Derived
	if text := r.FormValue("text"); text != "" {
		derived = &document.Derived{ExtractedText: text}
	}

	reqs := make([]orchestrator.IngestRequest, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to open %s: %v", fh.Filename, err))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s: %v", fh.Filename, err))
			return
		}

		fileType := fh.Header.Get("Content-Type")
		if fileType == "" || fileType == "application/octet-stream" {
			fileType = document.DetectType(fh.Filename, data)
		}
		reqs = append(reqs, orchestrator.IngestRequest{
			FileName: fh.Filename,
			FileType: fileType,
			Size:     -1,
			Payload:  data,
			Derived:  derived,
		})
	}

	resp := UploadResponse{}
	var errs []error
	if name := r.FormValue("session"); name != "" {
		resp.Session, resp.Results, errs = s.api.IngestBatch(r.Context(), name, reqs)
	} else {
		for _, req := range reqs {
			res, err := s.api.Ingest(r.Context(), req)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", req.FileName, err))
				continue
			}
			resp.Results = append(resp.Results, res)
		}
	}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, err.Error())
	}

	code := http.StatusCreated
	if len(resp.Results) == 0 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>docstage</title>
</head>
<body>
    <h1>docstage dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Documents: <a href="/api/documents">/api/documents</a></p>
    <p>Stats: <a href="/api/stats">/api/stats</a></p>
    <p>Payload: <code>/api/documents/{id}/payload</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
