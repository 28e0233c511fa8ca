package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docqa/internal/apperr"
	"github.com/hyperjump/docqa/internal/extract"
	"github.com/hyperjump/docqa/internal/models"
)

const maxUploadBytes = 32 << 20

// queryBody mirrors models.QueryRequest with max_results optional.
type queryBody struct {
	Query               string            `json:"query"`
	MaxResults          *int              `json:"max_results"`
	SimilarityThreshold *float64          `json:"similarity_threshold"`
	Filters             map[string]string `json:"filters"`
}

type documentBody struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.reporter.Status(r.Context())
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.logger.Debug("sync request", zap.String("dir", s.dataDir))
	report, err := s.indexer.Sync(r.Context(), s.dataDir)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	report.ProcessingTime = time.Since(start).Seconds()
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondAppError(w, r, apperr.Wrap(apperr.ValidationFailure, err, "invalid request body"))
		return
	}
	req := &models.QueryRequest{
		Query:               body.Query,
		MaxResults:          s.engine.DefaultMaxResults(),
		SimilarityThreshold: body.SimilarityThreshold,
		Filters:             body.Filters,
	}
	if body.MaxResults != nil {
		req.MaxResults = *body.MaxResults
	}
	if err := req.Validate(); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("max_results", req.MaxResults))
	answer, err := s.engine.Answer(r.Context(), req)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.CheckConsistency(r.Context(), s.dataDir)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.reporter.Documents(r.Context())
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "total": len(docs)})
}

// handleUploadDocument accepts a multipart "file" field or a JSON
// {filename, content} body, writes it into the data directory and ingests it.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	var (
		filename string
		content  []byte
		err      error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body documentBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.respondAppError(w, r, apperr.Wrap(apperr.ValidationFailure, err, "invalid request body"))
			return
		}
		filename, content = body.Filename, []byte(body.Content)
	} else {
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			s.respondAppError(w, r, apperr.Wrap(apperr.ValidationFailure, ferr, "multipart field \"file\" is required"))
			return
		}
		defer file.Close()
		filename = header.Filename
		if content, err = io.ReadAll(file); err != nil {
			s.respondAppError(w, r, apperr.Wrap(apperr.ValidationFailure, err, "cannot read upload"))
			return
		}
	}
	if err := s.checkFilename(filename); err != nil {
		s.respondAppError(w, r, err)
		return
	}

	path := filepath.Join(s.dataDir, filename)
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		s.respondAppError(w, r, apperr.Wrap(apperr.SourceUnavailable, err, "cannot create data directory"))
		return
	}
	previous, readErr := os.ReadFile(path)
	existed := readErr == nil
	if err := os.WriteFile(path, content, 0644); err != nil {
		s.respondAppError(w, r, apperr.Wrap(apperr.SourceUnavailable, err, "cannot write %s", filename))
		return
	}
	s.logger.Debug("document uploaded", zap.String("path", path), zap.Int("bytes", len(content)))
	res, err := s.indexer.UpsertFile(r.Context(), path)
	if err != nil {
		// The index still holds the previous generation; put the disk back to match it.
		s.rollbackUpload(path, previous, existed)
		s.respondAppError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) rollbackUpload(path string, previous []byte, existed bool) {
	var err error
	if existed {
		err = os.WriteFile(path, previous, 0644)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("cannot roll back failed upload", zap.String("path", path), zap.Error(err))
	}
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filepath.Base(filename) != filename {
		s.respondAppError(w, r, apperr.New(apperr.ValidationFailure, "invalid filename %q", filename))
		return
	}
	s.logger.Debug("delete document request", zap.String("filename", filename))
	res, err := s.indexer.DeleteDocument(r.Context(), filename)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge_file"))
	fileRemoved := false
	if purge {
		err := os.Remove(filepath.Join(s.dataDir, filename))
		switch {
		case err == nil:
			fileRemoved = true
		case !errors.Is(err, os.ErrNotExist):
			s.respondAppError(w, r, apperr.Wrap(apperr.SourceUnavailable, err, "cannot remove %s", filename))
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"filename":       res.Filename,
		"found":          res.Found,
		"deleted_chunks": res.DeletedChunks,
		"file_removed":   fileRemoved,
	})
}

// checkFilename accepts plain base names with the eligible extension.
func (s *Server) checkFilename(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return apperr.New(apperr.ValidationFailure, "invalid filename %q", name)
	}
	if !extract.HasExtension(name, s.extension) {
		return apperr.New(apperr.ValidationFailure, "only %s files are accepted", extract.NormalizeExtension(s.extension))
	}
	return nil
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.ValidationFailure, apperr.SourceUnavailable, apperr.NoEligibleInput:
		return http.StatusBadRequest
	case apperr.NotInitialized:
		return http.StatusServiceUnavailable
	case apperr.ProviderTimeout:
		return http.StatusGatewayTimeout
	case apperr.ProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("kind", string(kind)), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.String("kind", string(kind)), zap.Error(err))
	}
	s.respondJSON(w, status, errorBody{Error: apperr.MessageOf(err), Kind: string(kind)})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
