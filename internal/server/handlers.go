package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/extract"
	"github.com/hyperjump/nakama/internal/ingest"
	"github.com/hyperjump/nakama/internal/llm"
	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/internal/storage"
)

const internalErrorMessage = "internal server error"

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.Query
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil && !errors.Is(err, io.EOF) {
		s.respondSearchError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("hobby", query.Hobby), zap.String("birthplace", query.Birthplace))
	response, err := s.deps.Engine.Search(r.Context(), &query)
	switch {
	case errors.Is(err, models.ErrEmptyQuery):
		s.respondSearchError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("search failed", zap.Error(err))
		s.respondSearchError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) respondSearchError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, models.SearchResponse{
		Success: false,
		Users:   []models.MatchResult{},
		Error:   message,
	})
}

func (s *Server) handleGenerateBooklet(w http.ResponseWriter, r *http.Request) {
	var query models.Query
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	b := s.deps.Booklets.Generate(r.Context(), query.Hobby, query.Birthplace)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": b.FileName}))
	w.Header().Set("X-Booklet-Source", b.Source)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, b.Content)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Storage.CountProfiles(r.Context())
	if err != nil {
		s.logger.Error("status: count profiles failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	resp := map[string]any{
		"profiles":       count,
		"ingest_enabled": s.deps.Ingest != nil,
		"regions":        len(s.deps.Regions.Labels()),
	}
	if s.deps.Version != "" {
		resp["version"] = s.deps.Version
	}
	if cfg := s.deps.Config; cfg != nil {
		resp["config"] = map[string]any{
			"storage_driver":   cfg.Storage.Driver,
			"search_mode":      cfg.Search.Mode,
			"search_sources":   cfg.Search.Sources,
			"region_expansion": cfg.Search.RegionExpansionOrDefault(),
			"store_prefilter":  cfg.Search.StorePrefilter,
			"llm_provider":     cfg.LLM.Provider,
			"booklet_cache":    cfg.Cache.RedisAddr != "",
		}
		if cfg.Storage.Driver == "sqlite" {
			if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath); err == nil {
				resp["disk_usage_bytes"] = n
			}
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"regions": s.deps.Regions.Entries()})
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := models.ProfileFromDocument("", doc)
	p.ID = ""
	if strings.TrimSpace(p.Name) == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	p.WithDerivedKeywords()
	if err := s.deps.Storage.CreateProfile(r.Context(), p); err != nil {
		s.logger.Error("create profile failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Storage.GetProfile(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "profile not found")
		return
	case err != nil:
		s.logger.Error("get profile failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete profile request", zap.String("id", id))
	err := s.deps.Storage.DeleteProfile(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "profile not found")
		return
	case err != nil:
		s.logger.Error("delete profile failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type ingestResponse struct {
	Source   string            `json:"source"`
	FileName string            `json:"file_name"`
	Replaced int64             `json:"replaced"`
	Count    int               `json:"count"`
	Profiles []*models.Profile `json:"profiles"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingest == nil {
		s.respondError(w, http.StatusNotImplemented, "ingestion not enabled")
		return
	}
	limit := s.config.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	res, err := s.deps.Ingest.IngestBytes(r.Context(), r.FormValue("source"), header.Filename, content)
	if err != nil {
		status, message := ingestErrorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("ingest failed", zap.String("file", header.Filename), zap.Error(err))
		}
		s.respondError(w, status, message)
		return
	}
	s.respondJSON(w, http.StatusCreated, ingestResponse{
		Source:   res.Source,
		FileName: res.FileName,
		Replaced: res.Replaced,
		Count:    len(res.Profiles),
		Profiles: res.Profiles,
	})
}

func ingestErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrSkipped):
		return http.StatusUnprocessableEntity, "file name is not an ingestion target"
	case errors.Is(err, extract.ErrUnsupported):
		return http.StatusUnsupportedMediaType, "unsupported document format"
	case errors.Is(err, ingest.ErrEmptyDocument):
		return http.StatusUnprocessableEntity, ingest.ErrEmptyDocument.Error()
	case errors.Is(err, ingest.ErrNoProfiles):
		return http.StatusUnprocessableEntity, ingest.ErrNoProfiles.Error()
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "profile extraction is not configured"
	}
	return http.StatusInternalServerError, internalErrorMessage
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
