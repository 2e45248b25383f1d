// Package api exposes the analysis service over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/facre/internal/dispatch"
	"github.com/kalambet/facre/internal/jobs"
	"github.com/kalambet/facre/internal/wire"
)

const (
	serviceName           = "AI-Powered Facultative Reinsurance Decision Support System"
	defaultMaxUploadBytes = 25 << 20 // 25MB
)

// Deps holds what the HTTP surface needs.
type Deps struct {
	Service        *dispatch.Service
	Token          string  // protects /analyses when set
	SubmitRate     float64 // submissions per second; 0 disables limiting
	SubmitBurst    int
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// NewHandler returns the router for the analysis API.
func NewHandler(deps Deps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth(deps))
	r.With(RateLimit(deps.SubmitRate, deps.SubmitBurst)).Post("/submit-analysis", handleSubmit(deps))
	r.Get("/task-status/{id}", handleStatus(deps))
	r.Get("/task-result/{id}", handleResult(deps))

	r.Route("/analyses", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/", handleListAnalyses(deps))
		r.Get("/{id}", handleGetAnalysis(deps))
		r.Delete("/{id}", handleDeleteAnalysis(deps))
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": serviceName, "status": "running"})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"mode":      deps.Service.Mode().String(),
			"timestamp": time.Now().UTC(),
		})
	}
}

type submitResponse struct {
	JobID   string `json:"job_id"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		defer r.Body.Close()

		mr, err := r.MultipartReader()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		part, err := filePart(mr)
		if err != nil {
			uploadError(w, err)
			return
		}
		if part == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", dispatch.ErrMissingFile)
			return
		}
		defer part.Close()

		// The name is checked before any of the content is read.
		filename := part.FileName()
		err = dispatch.CheckFilename(filename)
		var sub dispatch.Submission
		if err == nil {
			sub, err = deps.Service.Submit(r.Context(), filename, part)
		}
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, dispatch.ErrInvalidFileType):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Only .msg files are supported")
			return
		case errors.Is(err, dispatch.ErrMissingFile):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", err)
			return
		case errors.As(err, &tooLarge):
			uploadError(w, err)
			return
		case err != nil:
			deps.Logger.Error("submission failed", "filename", filename, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "Error submitting analysis: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, submitResponse{
			JobID:   sub.JobID,
			TaskID:  sub.JobID,
			Message: sub.Message,
			Status:  sub.Status,
		})
	}
}

// filePart advances to the "file" form field. It returns nil when the body
// has none.
func filePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if p.FormName() == "file" {
			return p, nil
		}
		p.Close()
	}
}

func uploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds %d bytes", tooLarge.Limit)
		return
	}
	httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
}

type statusResponse struct {
	TaskID        string          `json:"task_id"`
	JobID         string          `json:"job_id"`
	Status        jobs.State      `json:"status"`
	Progress      *float64        `json:"progress"`
	CurrentStatus string          `json:"current_status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job := deps.Service.Status(r.Context(), id)

		resp := statusResponse{
			TaskID:        id,
			JobID:         id,
			Status:        job.State,
			CurrentStatus: job.Message,
			Error:         job.Error,
		}
		if job.State == jobs.StateProgress || job.State == jobs.StateSuccess {
			p := job.Progress
			resp.Progress = &p
		}
		if job.State == jobs.StateSuccess {
			resp.Result = renderable(id, job.Result)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		out := deps.Service.Result(r.Context(), id)

		switch out.Kind {
		case dispatch.ResultReady:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(renderable(id, out.Result))
		case dispatch.ResultFailed:
			httpError(w, http.StatusBadRequest, "task_failed", "Task failed: %s", out.Error)
		default:
			writeJSON(w, http.StatusAccepted, map[string]string{
				"detail": fmt.Sprintf("Task not completed. Status: %s", out.State),
			})
		}
	}
}

// renderable returns stored result bytes, or the serialization-error
// payload when they are not valid JSON.
func renderable(id string, raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return wire.SerializationError(id, errors.New("stored result is not valid JSON"))
	}
	return raw
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(wire.SafeMarshal(v))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
		"detail": msg,
	})
}
