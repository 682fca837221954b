package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sublate/sublate/internal/asr"
	"github.com/sublate/sublate/internal/audio"
	"github.com/sublate/sublate/internal/config"
	"github.com/sublate/sublate/internal/llm"
	"github.com/sublate/sublate/internal/storage/sqlite"
	"github.com/sublate/sublate/internal/subtitle"
	"github.com/sublate/sublate/pkg/logger"
)

// fakeTranscriber returns a scripted word list for every chunk and records
// the sample count it was handed
type fakeTranscriber struct {
	mu         sync.Mutex
	calls      int
	sampleLens []int
	words      []asr.Word
	err        error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []float64, sampleRate int, opts asr.Options) (*asr.Result, error) {
	f.mu.Lock()
	f.calls++
	f.sampleLens = append(f.sampleLens, len(pcm))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &asr.Result{Words: f.words}, nil
}

// fakeCompleter answers translation prompts by echoing each numbered line
type fakeCompleter struct {
	mu      sync.Mutex
	calls   int
	systems []string
	err     error
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (*llm.Response, error) {
	f.mu.Lock()
	f.calls++
	f.systems = append(f.systems, systemPrompt)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	lines := map[string]map[string]string{}
	for _, raw := range strings.Split(userPrompt, "\n") {
		parts := strings.SplitN(raw, ". ", 2)
		if len(parts) != 2 {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(parts[0], "%d", &num); err != nil {
			continue
		}
		lines[fmt.Sprint(num)] = map[string]string{"origin": parts[1], "direct": parts[1] + "-translated"}
	}
	data, _ := json.Marshal(lines)
	return &llm.Response{Content: string(data), TokensUsed: 10}, nil
}

func testService(t *testing.T, transcriber asr.Transcriber, completer Completer) (*Service, *sqlite.JobStorage, *sqlite.SubtitleStorage) {
	t.Helper()
	cfg := config.Default()
	cfg.Translation.InterFileDelaySeconds = 0
	return testServiceWith(t, cfg, transcriber, completer)
}

func testServiceWith(t *testing.T, cfg *config.Config, transcriber asr.Transcriber, completer Completer) (*Service, *sqlite.JobStorage, *sqlite.SubtitleStorage) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobs, err := sqlite.NewJobStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("NewJobStorage: %v", err)
	}
	subs, err := sqlite.NewSubtitleStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("NewSubtitleStorage: %v", err)
	}

	service := NewService(cfg, transcriber, completer, jobs, subs, nil, logger.NewNop())
	return service, jobs, subs
}

// writeTestWAV writes the given number of seconds of quiet noise as a PCM16
// WAV file at 8kHz
func writeTestWAV(t *testing.T, seconds int) string {
	t.Helper()
	samples := make([]float64, seconds*8000)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.25
		} else {
			samples[i] = -0.25
		}
	}
	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(samples, 8000), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestProcessJobEndToEnd(t *testing.T) {
	// Three punctuated words: the single batch skips LLM segmentation, so
	// the completer only sees translation prompts
	transcriber := &fakeTranscriber{words: []asr.Word{
		{Text: "Hello", StartMs: 0, EndMs: 300, Confidence: 0.9},
		{Text: "world", StartMs: 400, EndMs: 700, Confidence: 0.9},
		{Text: ".", StartMs: 700, EndMs: 750, Confidence: 0.9},
	}}
	completer := &fakeCompleter{}
	service, jobs, subs := testService(t, transcriber, completer)

	job, err := jobs.CreateJob(writeTestWAV(t, 1), "zh-CN")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := service.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	got, err := jobs.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != sqlite.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", got.Status)
	}
	if got.Tokens == 0 {
		t.Errorf("job tokens = 0, want translation tokens recorded")
	}

	entries, err := subs.GetEntries(job.ID)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Text != "Hello world ." {
		t.Errorf("entry text = %q", entries[0].Text)
	}
	if entries[0].TranslatedText != "Hello world .-translated" {
		t.Errorf("translated = %q", entries[0].TranslatedText)
	}
	if entries[0].TranslationStatus != subtitle.StatusCompleted {
		t.Errorf("status = %s", entries[0].TranslationStatus)
	}
	if transcriber.calls == 0 {
		t.Error("transcriber was never called")
	}
}

func TestProcessJobTranslatesIntoJobLanguage(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("should not be called")}
	completer := &fakeCompleter{}
	service, jobs, subs := testService(t, transcriber, completer)

	// The job's own language wins over the configured default
	job, err := jobs.CreateJob("missing.wav", "fr-FR")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := subs.ReplaceEntries(job.ID, []*subtitle.Entry{
		{ID: 1, StartMs: 0, EndMs: 500, Text: "line", TranslationStatus: subtitle.StatusPending},
	}); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}
	if err := service.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	completer.mu.Lock()
	systems := append([]string(nil), completer.systems...)
	completer.systems = nil
	completer.mu.Unlock()
	if len(systems) == 0 {
		t.Fatal("completer never received a translation prompt")
	}
	for _, system := range systems {
		if !strings.Contains(system, "fr-FR") {
			t.Errorf("system prompt does not name the job language:\n%s", system)
		}
	}

	// A job without its own language falls back to the configured default
	fallback, err := jobs.CreateJob("missing.wav", "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := subs.ReplaceEntries(fallback.ID, []*subtitle.Entry{
		{ID: 1, StartMs: 0, EndMs: 500, Text: "line", TranslationStatus: subtitle.StatusPending},
	}); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}
	if err := service.ProcessJob(context.Background(), fallback.ID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	completer.mu.Lock()
	systems = append([]string(nil), completer.systems...)
	completer.mu.Unlock()
	if len(systems) == 0 {
		t.Fatal("completer never received a translation prompt")
	}
	for _, system := range systems {
		if !strings.Contains(system, "zh-CN") {
			t.Errorf("system prompt does not fall back to the configured language:\n%s", system)
		}
	}
}

func TestProcessJobTranscribesChunksWithOverlap(t *testing.T) {
	// Silence-free input cuts exactly at the 1s ideal boundary; each chunk's
	// transcription window then extends 250ms into its successor, clamped at
	// the end of the file
	transcriber := &fakeTranscriber{}
	completer := &fakeCompleter{}

	cfg := config.Default()
	cfg.Translation.InterFileDelaySeconds = 0
	cfg.Audio.ChunkSeconds = 1
	cfg.Audio.SearchWindowSeconds = 0
	cfg.Audio.ChunkOverlapMs = 250
	service, jobs, _ := testServiceWith(t, cfg, transcriber, completer)

	job, err := jobs.CreateJob(writeTestWAV(t, 2), "zh-CN")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := service.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	transcriber.mu.Lock()
	lens := append([]int(nil), transcriber.sampleLens...)
	transcriber.mu.Unlock()
	if len(lens) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(lens))
	}
	if lens[0] != 10000 {
		t.Errorf("first chunk = %d samples, want 10000 (8000 + 250ms overlap)", lens[0])
	}
	if lens[1] != 8000 {
		t.Errorf("last chunk = %d samples, want 8000 (overlap clamped at file end)", lens[1])
	}
}

func TestProcessJobResumesWithoutTranscription(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("should not be called")}
	completer := &fakeCompleter{}
	service, jobs, subs := testService(t, transcriber, completer)

	job, err := jobs.CreateJob("missing.wav", "zh-CN")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	stored := []*subtitle.Entry{
		{ID: 1, StartMs: 0, EndMs: 900, Text: "already done", TranslatedText: "fertig", TranslationStatus: subtitle.StatusCompleted},
		{ID: 2, StartMs: 1000, EndMs: 1900, Text: "still waiting", TranslationStatus: subtitle.StatusPending},
	}
	if err := subs.ReplaceEntries(job.ID, stored); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}

	if err := service.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	if transcriber.calls != 0 {
		t.Errorf("transcriber called %d times on resume", transcriber.calls)
	}
	entries, err := subs.GetEntries(job.ID)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if entries[0].TranslatedText != "fertig" {
		t.Errorf("completed entry was re-translated: %q", entries[0].TranslatedText)
	}
	if entries[1].TranslatedText != "still waiting-translated" ||
		entries[1].TranslationStatus != subtitle.StatusCompleted {
		t.Errorf("pending entry = %+v", entries[1])
	}
}

func TestProcessJobFailureMarksJobAndKeepsEntries(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("should not be called")}
	completer := &fakeCompleter{err: errors.New("provider down")}
	service, jobs, subs := testService(t, transcriber, completer)

	job, err := jobs.CreateJob("missing.wav", "zh-CN")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	stored := []*subtitle.Entry{
		{ID: 1, StartMs: 0, EndMs: 900, Text: "one", TranslationStatus: subtitle.StatusPending},
	}
	if err := subs.ReplaceEntries(job.ID, stored); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}

	if err := service.ProcessJob(context.Background(), job.ID); err == nil {
		t.Fatal("expected ProcessJob to fail")
	}

	got, err := jobs.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != sqlite.JobStatusFailed {
		t.Errorf("job status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("job error text is empty")
	}

	entries, err := subs.GetEntries(job.ID)
	if err != nil {
		t.Fatalf("GetEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].TranslationStatus != subtitle.StatusPending {
		t.Errorf("entries after failure = %+v", entries)
	}
}

func TestProcessJobsContinuesAfterFailure(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("should not be called")}
	completer := &fakeCompleter{}
	service, jobs, subs := testService(t, transcriber, completer)

	bad, err := jobs.CreateJob("does-not-exist.wav", "zh-CN")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	good, err := jobs.CreateJob("resume.wav", "zh-CN")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := subs.ReplaceEntries(good.ID, []*subtitle.Entry{
		{ID: 1, StartMs: 0, EndMs: 500, Text: "line", TranslationStatus: subtitle.StatusPending},
	}); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}

	err = service.ProcessJobs(context.Background(), []string{bad.ID, good.ID})
	if err == nil {
		t.Fatal("expected aggregate error")
	}

	badJob, _ := jobs.GetJob(bad.ID)
	goodJob, _ := jobs.GetJob(good.ID)
	if badJob.Status != sqlite.JobStatusFailed {
		t.Errorf("bad job status = %s", badJob.Status)
	}
	if goodJob.Status != sqlite.JobStatusCompleted {
		t.Errorf("good job status = %s", goodJob.Status)
	}
}

func TestProcessJobUnknownID(t *testing.T) {
	service, _, _ := testService(t, &fakeTranscriber{}, &fakeCompleter{})
	if err := service.ProcessJob(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
