package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/facre/internal/dispatch"
	"github.com/kalambet/facre/internal/storage"
)

// analysisView is an archived analysis as served over HTTP. Result is the
// stored result document, embedded rather than quoted.
type analysisView struct {
	JobID       string          `json:"job_id"`
	Filename    string          `json:"filename"`
	Mode        string          `json:"mode"`
	State       string          `json:"state"`
	Sender      string          `json:"sender,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	Confidence  *float64        `json:"confidence_score"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Result      json.RawMessage `json:"result,omitempty"`
}

func viewOf(a storage.Analysis, withResult bool) analysisView {
	v := analysisView{
		JobID:       a.JobID,
		Filename:    a.Filename,
		Mode:        a.Mode,
		State:       a.State,
		Sender:      a.Sender,
		Subject:     a.Subject,
		Confidence:  a.Confidence,
		Error:       a.Error,
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
	}
	if withResult && a.ResultJSON != "" {
		v.Result = renderable(a.JobID, json.RawMessage(a.ResultJSON))
	}
	return v
}

func handleListAnalyses(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		list, total, err := deps.Service.ListAnalyses(limit, offset)
		if errors.Is(err, dispatch.ErrNoArchive) {
			httpError(w, http.StatusNotFound, "not_found", "analysis history is disabled")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list analyses: %v", err)
			return
		}

		views := make([]analysisView, len(list))
		for i, a := range list {
			views[i] = viewOf(a, false)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"analyses": views,
			"total":    total,
			"limit":    limit,
			"offset":   offset,
		})
	}
}

func handleGetAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Service.GetAnalysis(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, dispatch.ErrNoArchive) {
			httpError(w, http.StatusNotFound, "not_found", "analysis not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get analysis: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(a, true))
	}
}

func handleDeleteAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Service.DeleteAnalysis(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, dispatch.ErrNoArchive) {
			httpError(w, http.StatusNotFound, "not_found", "analysis not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete analysis: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
