package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"go-rag-pipeline/loader"
	"go-rag-pipeline/metrics"
	"go-rag-pipeline/rag"
)

type Server struct {
	pipeline  *rag.Pipeline
	metrics   *metrics.Collector
	logger    *zap.Logger
	persist   func() error
	maxUpload int64
	topK      int

	// serializes ingestion with the snapshot that follows it
	mu sync.Mutex
}

func newServer(a *App) *Server {
	return &Server{
		pipeline:  a.pipeline,
		metrics:   a.metrics,
		logger:    a.logger.Named("http"),
		persist:   a.persist,
		maxUpload: a.cfg.Server.MaxUploadSize,
		topK:      a.cfg.Retrieval.TopK,
	}
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.uploadHandler).Methods(http.MethodPost)
	r.HandleFunc("/upload-pdf", s.uploadPDFHandler).Methods(http.MethodPost)
	r.HandleFunc("/query", s.queryHandler).Methods(http.MethodPost)
	r.HandleFunc("/ask", s.askHandler).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, rec.status)
		}
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidArgument), errors.Is(err, rag.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrNoGenerator):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// bodyError reports an unreadable request body, 413 when it hit the upload
// limit.
func bodyError(w http.ResponseWriter, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, msg, http.StatusBadRequest)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

func (s *Server) ingest(ctx context.Context, doc rag.Document) (rag.IngestStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.pipeline.Ingest(ctx, []rag.Document{doc})
	if err != nil {
		return stats, err
	}
	if s.persist != nil {
		if err := s.persist(); err != nil {
			return stats, fmt.Errorf("failed to persist state: %w", err)
		}
	}
	return stats, nil
}

// POST /upload?source=name  (body: raw text)
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload-" + uuid.NewString()[:8] + ".txt"
	}

	doc, err := loader.ReadText(http.MaxBytesReader(w, r.Body, s.maxUpload), source)
	if err != nil {
		bodyError(w, err, "failed to read body")
		return
	}
	if len(doc.Pages) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	stats, err := s.ingest(r.Context(), doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunks_added": stats.Chunks,
		"source":       source,
	})
}

// POST /upload-pdf  (multipart form, field "file")
func (s *Server) uploadPDFHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		bodyError(w, err, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		bodyError(w, err, "failed to read upload")
		return
	}

	source := header.Filename
	doc, err := loader.ReadPDF(bytes.NewReader(data), int64(len(data)), source)
	if err != nil {
		http.Error(w, "no text extracted from pdf", http.StatusBadRequest)
		return
	}

	stats, err := s.ingest(r.Context(), doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunks_added": stats.Chunks,
		"filename":     source,
		"pages":        len(doc.Pages),
	})
}

type queryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// POST /query  { "query": "your question", "k": 3 }
func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.K == 0 {
		req.K = s.topK
	}

	results, err := s.pipeline.Search(r.Context(), req.Query, req.K)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type askRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// POST /ask  { "question": "..." }
func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	if req.K == 0 {
		req.K = s.topK
	}

	answer, err := s.pipeline.Ask(r.Context(), req.Question, req.K)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
