package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(s.engine.Config().MaxResults); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.engine.Query(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleRecentPages(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	pages, err := s.storage.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent pages failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"pages": pages, "total": len(pages)})
}

func (s *Server) handleLookupPage(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		s.respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	page, err := s.storage.FindByURL(r.Context(), url)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleMatchPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.engine.Match(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error("match failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"pages": pages, "total": len(pages)})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pageID(w, r)
	if !ok {
		return
	}
	page, err := s.storage.Get(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pageID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete page request", zap.Int64("id", id))
	if err := s.storage.Delete(r.Context(), id); err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) pageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid page id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil || s.source == nil {
		s.respondError(w, http.StatusNotImplemented, "ingestion not enabled")
		return
	}
	if s.ingester.Running() {
		s.respondError(w, http.StatusConflict, ingest.ErrRunInProgress.Error())
		return
	}
	if s.embedder != nil && s.embedder.State() != embedding.StateReady {
		s.respondError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("%s: %s", ingest.ErrEmbedderNotReady, s.embedder.State()))
		return
	}
	go func() {
		if _, err := s.ingester.RunSource(s.baseCtx, s.source); err != nil {
			if errors.Is(err, ingest.ErrRunInProgress) {
				s.logger.Debug("ingestion already running")
				return
			}
			s.logger.Error("ingestion failed", zap.Error(err))
		}
	}()
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type ingestStatus struct {
	Running  bool              `json:"running"`
	State    string            `json:"state"`
	Progress models.Progress   `json:"progress"`
	Percent  int               `json:"percent"`
	LastRun  *ingest.RunReport `json:"last_run,omitempty"`
}

func (s *Server) ingestStatus() *ingestStatus {
	if s.ingester == nil {
		return nil
	}
	p := s.ingester.Progress()
	return &ingestStatus{
		Running:  s.ingester.Running(),
		State:    s.ingester.State().String(),
		Progress: p,
		Percent:  p.Percent(),
		LastRun:  s.ingester.LastReport(),
	}
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	status := s.ingestStatus()
	if status == nil {
		s.respondError(w, http.StatusNotImplemented, "ingestion not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pageCount, err := s.storage.Count(ctx)
	if err != nil {
		s.logger.Error("status: count pages failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	embedded, err := s.storage.CountEmbedded(ctx)
	if err != nil {
		s.logger.Error("status: count embedded pages failed", zap.Error(err))
		s.respondStorageError(w, err)
		return
	}
	resp := map[string]interface{}{
		"pages":          pageCount,
		"embedded_pages": embedded,
	}

	if s.embedder != nil {
		emb := map[string]interface{}{
			"state":      s.embedder.State().String(),
			"dimensions": s.embedder.Dimensions(),
		}
		if err := s.embedder.Err(); err != nil {
			emb["error"] = err.Error()
		}
		if s.config != nil {
			emb["provider"] = s.config.Embedding.Provider
		}
		resp["embedding"] = emb
	}
	if st := s.ingestStatus(); st != nil {
		resp["ingest"] = st
	}
	if sz, ok := s.storage.(sizer); ok {
		if diskBytes, err := sz.SizeBytes(); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}

	if s.config != nil {
		resp["database_path"] = s.config.Storage.DatabasePath
		resp["search"] = map[string]interface{}{
			"semantic_weight":    s.config.Search.SemanticWeight,
			"keyword_weight":     s.config.Search.KeywordWeight,
			"keyword_term_score": s.config.Search.KeywordTermScore,
			"max_results":        s.config.Search.MaxResults,
		}
		resp["source"] = map[string]interface{}{
			"type":  s.config.Source.Type,
			"path":  s.config.Source.Path,
			"watch": s.config.Source.Watch,
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondStorageError maps store errors: not found is 404, an unavailable
// store is 503, anything else is 500.
func (s *Server) respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "page not found")
	case errors.Is(err, storage.ErrStorageUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
