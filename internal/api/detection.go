package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"content-protection/internal/models"
)

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Analyses.ListAnalyses(r.Context(), userID(r))
	if err != nil {
		s.log.Error().Err(err).Msg("list analyses failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []models.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Analyses.GetAnalysis(r.Context(), chi.URLParam(r, "record_id"), userID(r))
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("get analysis failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Analyses.AnalysisStatistics(r.Context(), userID(r))
	if err != nil {
		s.log.Error().Err(err).Msg("analysis statistics failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if stats.Recent == nil {
		stats.Recent = []models.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, stats)
}
