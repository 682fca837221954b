package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sublate/sublate/internal/asr"
	"github.com/sublate/sublate/internal/audio"
	"github.com/sublate/sublate/internal/batch"
	"github.com/sublate/sublate/internal/config"
	"github.com/sublate/sublate/internal/llm"
	"github.com/sublate/sublate/internal/segment"
	"github.com/sublate/sublate/internal/storage/sqlite"
	"github.com/sublate/sublate/internal/subtitle"
	"github.com/sublate/sublate/internal/translate"
	"github.com/sublate/sublate/internal/websocket"
	"github.com/sublate/sublate/pkg/logger"
)

// Completer is the chat completion capability shared by the segmentation and
// translation stages
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (*llm.Response, error)
}

// Service drives one audio file through transcription, sentence
// reconstruction, and translation, persisting after every stage so an
// interrupted job can resume
type Service struct {
	config      *config.Config
	transcriber asr.Transcriber
	detector    *audio.SilenceDetector
	planner     *audio.ChunkPlanner
	merger      *asr.Merger
	segmenter   *segment.Segmenter
	completer   Completer
	jobs        *sqlite.JobStorage
	subtitles   *sqlite.SubtitleStorage
	wsServer    *websocket.Server
	logger      *logger.Logger
}

// NewService creates a new processing service
func NewService(
	cfg *config.Config,
	transcriber asr.Transcriber,
	completer Completer,
	jobs *sqlite.JobStorage,
	subtitles *sqlite.SubtitleStorage,
	wsServer *websocket.Server,
	log *logger.Logger,
) *Service {
	detector := audio.NewSilenceDetector(audio.SilenceConfig{
		AnalysisWindowMs: cfg.Audio.AnalysisWindowMs,
		MinSilenceMs:     cfg.Audio.MinSilenceMs,
		ThresholdRatio:   cfg.Audio.SilenceThresholdRatio,
	}, log)
	planner := audio.NewChunkPlanner(audio.PlannerConfig{
		ChunkSeconds:        cfg.Audio.ChunkSeconds,
		SearchWindowSeconds: cfg.Audio.SearchWindowSeconds,
	}, log)
	segmenter := segment.NewSegmenter(segment.SegmenterConfig{
		Splitter: segment.SplitterConfig{
			BatchSize:           cfg.Segment.BatchSize,
			PauseThresholdMs:    int64(cfg.Segment.PauseThresholdMs),
			SkipTinyWords:       cfg.Segment.SkipTinyWords,
			SkipPunctuatedWords: cfg.Segment.SkipPunctuatedWords,
			SkipFlankedMinWords: cfg.Segment.SkipFlankedMinWords,
			SkipFlankedMaxWords: cfg.Segment.SkipFlankedMaxWords,
		},
		ThreadCount: cfg.Segment.ThreadCount,
	}, completer, log)
	return &Service{
		config:      cfg,
		transcriber: transcriber,
		detector:    detector,
		planner:     planner,
		merger:      asr.NewMerger(log),
		segmenter:   segmenter,
		completer:   completer,
		jobs:        jobs,
		subtitles:   subtitles,
		wsServer:    wsServer,
		logger:      log.Named("pipeline"),
	}
}

// ProcessJobs runs the given jobs one after another. Files are serialized;
// only batches within a file run concurrently. A failed job does not stop the
// remaining ones.
func (s *Service) ProcessJobs(ctx context.Context, jobIDs []string) error {
	delay := time.Duration(s.config.Translation.InterFileDelaySeconds) * time.Second

	var failed int
	for i, jobID := range jobIDs {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := s.ProcessJob(ctx, jobID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			s.logger.Error("Job failed",
				logger.String("job_id", jobID),
				logger.Error(err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobIDs))
	}
	return nil
}

// ProcessJob runs one job to completion. A job that already has subtitle
// entries stored skips transcription and segmentation and resumes with its
// pending translations.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	log := s.logger.WithJob(jobID)

	entries, err := s.subtitles.GetEntries(jobID)
	if err != nil {
		return s.fail(jobID, err)
	}
	if len(entries) == 0 {
		entries, err = s.transcribeAndSegment(ctx, job, log)
		if err != nil {
			return s.fail(jobID, err)
		}
		if len(entries) == 0 {
			log.Info("No speech found in input")
			return s.complete(jobID, entries)
		}
	} else {
		log.Info("Resuming job with stored entries",
			logger.Int("entries", len(entries)),
			logger.Int("pending", len(subtitle.Pending(entries))))
	}

	if err := s.translateEntries(ctx, job, entries, log); err != nil {
		return s.fail(jobID, err)
	}
	return s.complete(jobID, entries)
}

// transcribeAndSegment produces and persists the initial subtitle entries
// for a job
func (s *Service) transcribeAndSegment(ctx context.Context, job *sqlite.JobRecord, log *logger.Logger) ([]*subtitle.Entry, error) {
	s.setStatus(job.ID, sqlite.JobStatusTranscribing, "")

	pcm, err := audio.DecodeWAVFile(job.InputPath)
	if err != nil {
		return nil, err
	}
	log.Info("Audio decoded",
		logger.Int64("duration_ms", pcm.DurationMs()),
		logger.Int("sample_rate", pcm.SampleRate))

	silencePoints := s.detector.Detect(pcm)
	chunks := s.planner.Plan(len(pcm.Samples), pcm.SampleRate, silencePoints)
	log.Info("Audio chunked",
		logger.Int("silence_points", len(silencePoints)),
		logger.Int("chunks", len(chunks)))

	opts := asr.Options{
		ReturnTimestamps:  true,
		ReturnConfidences: true,
		Language:          s.config.ASR.Language,
	}
	// Each chunk is transcribed with a short tail into its successor so a
	// word straddling the boundary is heard whole; the merger drops the
	// duplicate copy from the later chunk.
	overlapSamples := pcm.SampleRate * s.config.Audio.ChunkOverlapMs / 1000
	chunkResults := make([]asr.ChunkResult, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := chunk.EndSample + overlapSamples
		if end > len(pcm.Samples) {
			end = len(pcm.Samples)
		}
		result, err := s.transcriber.Transcribe(ctx, pcm.Samples[chunk.StartSample:end], chunk.SampleRate, opts)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunkResults = append(chunkResults, asr.ChunkResult{
			OffsetMs: int64(chunk.StartSeconds() * 1000),
			Words:    result.Words,
		})
		s.broadcast(job.ID, "transcription_progress", batch.Progress{
			Completed: i + 1,
			Total:     len(chunks),
		})
	}

	words := s.merger.Merge(chunkResults)
	log.Info("Transcription merged", logger.Int("words", len(words)))

	s.setStatus(job.ID, sqlite.JobStatusSegmenting, "")
	entries, err := s.segmenter.Run(ctx, words, func(p batch.Progress) {
		s.progress(job.ID, "segmentation_progress", p, 0)
	})
	if err != nil {
		return nil, err
	}

	if err := s.subtitles.ReplaceEntries(job.ID, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// translateEntries runs the translation stage and persists the result even
// when the run fails partway
func (s *Service) translateEntries(ctx context.Context, job *sqlite.JobRecord, entries []*subtitle.Entry, log *logger.Logger) error {
	s.setStatus(job.ID, sqlite.JobStatusTranslating, "")

	// Re-read the job: segmentation has updated the cumulative token count
	// since the record was loaded
	baseTokens := job.Tokens
	if current, err := s.jobs.GetJob(job.ID); err == nil && current != nil {
		baseTokens = current.Tokens
	}

	translator := translate.NewOrchestrator(s.translationConfig(job), s.completer, log)
	runErr := translator.Run(ctx, entries, func(p batch.Progress) {
		s.progress(job.ID, "translation_progress", p, baseTokens)
	})

	// Completed batches survive a failed run
	if err := s.subtitles.UpdateTranslations(job.ID, entries); err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	if runErr != nil {
		return runErr
	}

	log.Info("Translation persisted", logger.Int("entries", len(entries)))
	return nil
}

// translationConfig derives the translation parameters for one job. A job
// carries its own target language; the config value is the fallback.
func (s *Service) translationConfig(job *sqlite.JobRecord) translate.Config {
	cfg := translate.Config{
		TargetLanguage:  s.config.Translation.TargetLanguage,
		BatchSize:       s.config.Translation.BatchSize,
		ThreadCount:     s.config.Translation.ThreadCount,
		ContextBefore:   s.config.Translation.ContextBefore,
		ContextAfter:    s.config.Translation.ContextAfter,
		MaxBatchRetries: s.config.Translation.MaxBatchRetries,
		Terminology:     s.config.Translation.Terminology,
	}
	if job.TargetLanguage != "" {
		cfg.TargetLanguage = job.TargetLanguage
	}
	return cfg
}

// fail records a failed job and reports its error
func (s *Service) fail(jobID string, err error) error {
	s.setStatus(jobID, sqlite.JobStatusFailed, err.Error())
	s.broadcastStatus(jobID, sqlite.JobStatusFailed, err.Error())
	return err
}

// complete marks a job finished
func (s *Service) complete(jobID string, entries []*subtitle.Entry) error {
	s.setStatus(jobID, sqlite.JobStatusCompleted, "")
	s.broadcastStatus(jobID, sqlite.JobStatusCompleted, "")
	s.logger.Info("Job completed",
		logger.String("job_id", jobID),
		logger.Int("entries", len(entries)))
	return nil
}

// setStatus persists a job status change
func (s *Service) setStatus(jobID, status, errorText string) {
	if err := s.jobs.UpdateJobStatus(jobID, status, errorText); err != nil {
		s.logger.Error("Failed to update job status",
			logger.String("job_id", jobID),
			logger.Error(err))
	}
}

// progress persists and broadcasts stage progress. Tokens are offset by the
// job's total from earlier stages so the stored count stays cumulative.
func (s *Service) progress(jobID, event string, p batch.Progress, baseTokens int64) {
	if err := s.jobs.UpdateJobProgress(jobID, p.Completed, p.Total, baseTokens+p.Tokens); err != nil {
		s.logger.Error("Failed to update job progress",
			logger.String("job_id", jobID),
			logger.Error(err))
	}
	s.broadcast(jobID, event, batch.Progress{
		Completed: p.Completed,
		Total:     p.Total,
		Tokens:    baseTokens + p.Tokens,
	})
}

// broadcast pushes one progress event to WebSocket clients
func (s *Service) broadcast(jobID, event string, p batch.Progress) {
	if s.wsServer == nil {
		return
	}
	s.wsServer.Broadcast(&websocket.Message{
		Type: event,
		Data: map[string]interface{}{
			"job_id":    jobID,
			"completed": p.Completed,
			"total":     p.Total,
			"tokens":    p.Tokens,
		},
	})
}

// broadcastStatus pushes a job status change to WebSocket clients
func (s *Service) broadcastStatus(jobID, status, errorText string) {
	if s.wsServer == nil {
		return
	}
	data := map[string]interface{}{
		"job_id": jobID,
		"status": status,
	}
	if errorText != "" {
		data["error"] = errorText
	}
	s.wsServer.Broadcast(&websocket.Message{
		Type: "job_status",
		Data: data,
	})
}
