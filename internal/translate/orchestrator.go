package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sublate/sublate/internal/batch"
	"github.com/sublate/sublate/internal/config"
	"github.com/sublate/sublate/internal/llm"
	"github.com/sublate/sublate/internal/subtitle"
	"github.com/sublate/sublate/pkg/logger"
)

// Completer is the slice of the LLM client the translator depends on
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (*llm.Response, error)
}

// Config represents translation parameters
type Config struct {
	TargetLanguage  string
	BatchSize       int
	ThreadCount     int
	ContextBefore   int
	ContextAfter    int
	MaxBatchRetries int
	Terminology     []config.TermPair
}

// Orchestrator translates subtitle entries in concurrent fixed-size batches.
// Entries already marked completed are never re-sent, which is what makes an
// interrupted run resumable.
type Orchestrator struct {
	config Config
	client Completer
	logger *logger.Logger
}

// NewOrchestrator creates a new translation orchestrator
func NewOrchestrator(config Config, client Completer, logger *logger.Logger) *Orchestrator {
	return &Orchestrator{
		config: config,
		client: client,
		logger: logger.Named("translator"),
	}
}

// job groups one batch of pending entries with its surrounding context lines
// drawn from the full entry list
type job struct {
	entries []*subtitle.Entry
	before  []*subtitle.Entry
	after   []*subtitle.Entry
}

// Run translates every pending entry in place. Completed batches keep their
// results even when a later batch fails, so a re-run picks up where this one
// stopped.
func (o *Orchestrator) Run(ctx context.Context, entries []*subtitle.Entry, onProgress batch.ProgressFunc) error {
	pending := subtitle.Pending(entries)
	if len(pending) == 0 {
		o.logger.Info("All entries already translated", logger.Int("entries", len(entries)))
		return nil
	}

	jobs := o.buildJobs(entries, pending)
	o.logger.Info("Translation started",
		logger.Int("entries", len(entries)),
		logger.Int("pending", len(pending)),
		logger.Int("batches", len(jobs)),
		logger.String("target_language", o.config.TargetLanguage))

	_, err := batch.Run(ctx, jobs, o.config.ThreadCount,
		func(ctx context.Context, index int, j job) (struct{}, int64, error) {
			tokens, err := o.translateBatch(ctx, index, j)
			return struct{}{}, tokens, err
		}, onProgress)
	if err != nil {
		return fmt.Errorf("translation run failed: %w", err)
	}

	o.logger.Info("Translation complete", logger.Int("entries", len(entries)))
	return nil
}

// buildJobs slices the pending entries into fixed-size batches and attaches
// context windows. Context comes from the full list, so completed neighbours
// from a previous run still inform the prompt.
func (o *Orchestrator) buildJobs(entries, pending []*subtitle.Entry) []job {
	position := make(map[*subtitle.Entry]int, len(entries))
	for i, entry := range entries {
		position[entry] = i
	}

	size := o.config.BatchSize
	if size <= 0 {
		size = 1
	}

	var jobs []job
	for start := 0; start < len(pending); start += size {
		end := start + size
		if end > len(pending) {
			end = len(pending)
		}
		group := pending[start:end]

		first := position[group[0]]
		last := position[group[len(group)-1]]

		beforeStart := first - o.config.ContextBefore
		if beforeStart < 0 {
			beforeStart = 0
		}
		afterEnd := last + 1 + o.config.ContextAfter
		if afterEnd > len(entries) {
			afterEnd = len(entries)
		}

		jobs = append(jobs, job{
			entries: group,
			before:  entries[beforeStart:first],
			after:   entries[last+1 : afterEnd],
		})
	}
	return jobs
}

// translationLine mirrors one line of the translation prompt's output contract
type translationLine struct {
	Origin string `json:"origin"`
	Direct string `json:"direct"`
}

// ValidationError represents a translation response that parsed as JSON but
// broke the line contract. Retried at the batch level, unlike transport
// errors.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("translation response rejected: %s", e.Reason)
}

// translateBatch sends one batch and applies the result. Malformed or
// incomplete responses are retried up to MaxBatchRetries times before the
// batch fails; tokens spent on failed attempts still count.
func (o *Orchestrator) translateBatch(ctx context.Context, index int, j job) (int64, error) {
	terms := relevantTerms(o.config.Terminology, j)
	systemPrompt := translationSystemPrompt(o.config.TargetLanguage, terms)
	userPrompt := translationUserPrompt(j)

	var tokens int64
	var lastErr error
	for attempt := 0; attempt <= o.config.MaxBatchRetries; attempt++ {
		resp, err := o.client.CompleteJSON(ctx, systemPrompt, userPrompt)
		if err != nil {
			return tokens, err
		}
		tokens += resp.TokensUsed

		lines, err := parseBatchResponse(resp.Content, len(j.entries))
		if err != nil {
			lastErr = err
			o.logger.Warn("Translation batch failed validation",
				logger.Int("batch", index),
				logger.Int("attempt", attempt+1),
				logger.Error(err))
			continue
		}

		for i, entry := range j.entries {
			entry.TranslatedText = lines[i]
			entry.TranslationStatus = subtitle.StatusCompleted
		}
		return tokens, nil
	}
	return tokens, fmt.Errorf("batch rejected after %d attempts: %w", o.config.MaxBatchRetries+1, lastErr)
}

// parseBatchResponse validates the keyed response object and returns the
// translations in line order. Every key "1"..N must be present; a translation
// may be empty when the model merged the line into a neighbour.
func parseBatchResponse(content string, n int) ([]string, error) {
	var parsed map[string]translationLine
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("not a keyed object: %v", err)}
	}
	if len(parsed) != n {
		return nil, &ValidationError{Reason: fmt.Sprintf("expected %d lines, got %d", n, len(parsed))}
	}

	lines := make([]string, n)
	for i := 1; i <= n; i++ {
		line, ok := parsed[strconv.Itoa(i)]
		if !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("missing line %d", i)}
		}
		lines[i-1] = strings.TrimSpace(line.Direct)
	}
	return lines, nil
}

// relevantTerms filters the terminology to pairs whose source form actually
// occurs in the batch or its context windows, keeping prompts short
func relevantTerms(terminology []config.TermPair, j job) []config.TermPair {
	if len(terminology) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, group := range [][]*subtitle.Entry{j.before, j.entries, j.after} {
		for _, entry := range group {
			sb.WriteString(strings.ToLower(entry.Text))
			sb.WriteByte('\n')
		}
	}
	text := sb.String()

	var terms []config.TermPair
	for _, term := range terminology {
		if term.Original == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(term.Original)) {
			terms = append(terms, term)
		}
	}
	return terms
}
