package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/sublate/sublate/internal/config"
	"github.com/sublate/sublate/internal/pipeline"
	"github.com/sublate/sublate/internal/storage/sqlite"
	"github.com/sublate/sublate/internal/subtitle"
	"github.com/sublate/sublate/internal/websocket"
	"github.com/sublate/sublate/pkg/logger"
)

// Handler contains the API request handlers
type Handler struct {
	service   *pipeline.Service
	jobs      *sqlite.JobStorage
	subtitles *sqlite.SubtitleStorage
	wsServer  *websocket.Server
	config    *config.Config
	logger    *logger.Logger

	mu      sync.Mutex
	running map[string]struct{} // job IDs currently being processed
}

// NewHandler creates a new API handler
func NewHandler(
	service *pipeline.Service,
	jobs *sqlite.JobStorage,
	subtitles *sqlite.SubtitleStorage,
	wsServer *websocket.Server,
	config *config.Config,
	logger *logger.Logger,
) *Handler {
	return &Handler{
		service:   service,
		jobs:      jobs,
		subtitles: subtitles,
		wsServer:  wsServer,
		config:    config,
		logger:    logger.Named("api-handler"),
		running:   make(map[string]struct{}),
	}
}

// createJobRequest is the body of POST /jobs
type createJobRequest struct {
	InputPath      string `json:"input_path"`
	TargetLanguage string `json:"target_language,omitempty"`
	Process        *bool  `json:"process,omitempty"` // default true
}

// CreateJob creates a job for one audio file and, by default, starts
// processing it in the background
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InputPath == "" {
		h.respondError(w, http.StatusBadRequest, "input_path is required")
		return
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("input file not accessible: %v", err))
		return
	}

	targetLanguage := req.TargetLanguage
	if targetLanguage == "" {
		targetLanguage = h.config.Translation.TargetLanguage
	}

	job, err := h.jobs.CreateJob(req.InputPath, targetLanguage)
	if err != nil {
		h.logger.Error("Failed to create job", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if req.Process == nil || *req.Process {
		h.startProcessing(job.ID)
	}
	h.respondJSON(w, http.StatusCreated, job)
}

// ListJobs returns the most recent jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(100)
	if err != nil {
		h.logger.Error("Failed to list jobs", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*sqlite.JobRecord{}
	}
	h.respondJSON(w, http.StatusOK, jobs)
}

// GetJob returns one job by ID
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job := h.lookupJob(w, r)
	if job == nil {
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

// ProcessJob starts or resumes processing of a job in the background
func (h *Handler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	job := h.lookupJob(w, r)
	if job == nil {
		return
	}
	if job.Status == sqlite.JobStatusCompleted {
		h.respondError(w, http.StatusConflict, "job already completed")
		return
	}
	if !h.startProcessing(job.ID) {
		h.respondError(w, http.StatusConflict, "job is already being processed")
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": "processing",
	})
}

// GetSubtitles returns a job's subtitle entries
func (h *Handler) GetSubtitles(w http.ResponseWriter, r *http.Request) {
	job := h.lookupJob(w, r)
	if job == nil {
		return
	}
	entries, err := h.subtitles.GetEntries(job.ID)
	if err != nil {
		h.logger.Error("Failed to load subtitles", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load subtitles")
		return
	}
	if entries == nil {
		entries = []*subtitle.Entry{}
	}
	h.respondJSON(w, http.StatusOK, entries)
}

// ExportSRT streams a job's subtitles as an SRT file. The mode query
// parameter selects original, translated, or bilingual text.
func (h *Handler) ExportSRT(w http.ResponseWriter, r *http.Request) {
	job := h.lookupJob(w, r)
	if job == nil {
		return
	}

	mode := subtitle.ExportMode(r.URL.Query().Get("mode"))
	switch mode {
	case "":
		mode = subtitle.ExportTranslated
	case subtitle.ExportOriginal, subtitle.ExportTranslated, subtitle.ExportBilingual:
	default:
		h.respondError(w, http.StatusBadRequest, "mode must be original, translated, or bilingual")
		return
	}

	entries, err := h.subtitles.GetEntries(job.ID)
	if err != nil {
		h.logger.Error("Failed to load subtitles", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load subtitles")
		return
	}
	if len(entries) == 0 {
		h.respondError(w, http.StatusNotFound, "job has no subtitles yet")
		return
	}

	var buf bytes.Buffer
	if err := subtitle.WriteSRT(&buf, entries, mode); err != nil {
		h.logger.Error("Failed to render SRT", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to render SRT")
		return
	}

	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s.srt"`, job.ID, mode))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// HandleWebSocket upgrades the connection for progress events
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleWS(w, r)
}

// GetHealth returns the service health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"ws_clients": h.wsServer.ClientCount(),
	})
}

// GetConfig returns the non-sensitive configuration
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	// Never expose API keys or base URLs with embedded credentials
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"asr_model":       h.config.ASR.Model,
		"llm_model":       h.config.LLM.Model,
		"target_language": h.config.Translation.TargetLanguage,
		"chunk_seconds":   h.config.Audio.ChunkSeconds,
		"batch_size":      h.config.Segment.BatchSize,
	})
}

// lookupJob loads the job named in the URL, writing the error response when
// it cannot be served
func (h *Handler) lookupJob(w http.ResponseWriter, r *http.Request) *sqlite.JobRecord {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.GetJob(id)
	if err != nil {
		h.logger.Error("Failed to load job", logger.String("job_id", id), logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load job")
		return nil
	}
	if job == nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return nil
	}
	return job
}

// startProcessing launches background processing unless the job is already
// in flight
func (h *Handler) startProcessing(jobID string) bool {
	h.mu.Lock()
	if _, busy := h.running[jobID]; busy {
		h.mu.Unlock()
		return false
	}
	h.running[jobID] = struct{}{}
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.running, jobID)
			h.mu.Unlock()
		}()
		if err := h.service.ProcessJob(context.Background(), jobID); err != nil {
			h.logger.Error("Background processing failed",
				logger.String("job_id", jobID),
				logger.Error(err))
		}
	}()
	return true
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
