package segment

import (
	"context"
	"encoding/json"

	"github.com/sublate/sublate/internal/asr"
	"github.com/sublate/sublate/internal/batch"
	"github.com/sublate/sublate/internal/llm"
	"github.com/sublate/sublate/internal/subtitle"
	"github.com/sublate/sublate/pkg/logger"
)

// Completer is the slice of the LLM client the segmenter depends on
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (*llm.Response, error)
}

// SegmenterConfig represents segmentation service parameters
type SegmenterConfig struct {
	Splitter    SplitterConfig
	ThreadCount int
}

// Segmenter reconstructs natural-language sentences from the merged word
// stream, calling the LLM only for batches that need it
type Segmenter struct {
	config   SegmenterConfig
	splitter *Splitter
	client   Completer
	logger   *logger.Logger
}

// NewSegmenter creates a new segmenter
func NewSegmenter(config SegmenterConfig, client Completer, logger *logger.Logger) *Segmenter {
	return &Segmenter{
		config:   config,
		splitter: NewSplitter(config.Splitter, logger),
		client:   client,
		logger:   logger.Named("segmenter"),
	}
}

// segmentationResult mirrors the segmentation prompt's output contract
type segmentationResult struct {
	Sentences []string `json:"sentences"`
	Analysis  string   `json:"analysis"`
}

// Run batches the words, segments each batch concurrently, and returns
// subtitle entries in temporal order. Batch results are stored by batch
// position and flattened only after every batch has completed, so the
// entry order is independent of completion order.
func (s *Segmenter) Run(ctx context.Context, words []asr.Word, onProgress batch.ProgressFunc) ([]*subtitle.Entry, error) {
	batches := s.splitter.Split(words)
	if len(batches) == 0 {
		return nil, nil
	}

	results, err := batch.Run(ctx, batches, s.config.ThreadCount,
		func(ctx context.Context, index int, b Batch) ([]SentenceMapping, int64, error) {
			return s.segmentBatch(ctx, index, b)
		}, onProgress)
	if err != nil {
		return nil, err
	}

	var flattened []SentenceMapping
	for _, mappings := range results {
		flattened = append(flattened, mappings...)
	}

	entries := BuildEntries(words, flattened)
	s.logger.Info("Sentence reconstruction complete",
		logger.Int("words", len(words)),
		logger.Int("batches", len(batches)),
		logger.Int("entries", len(entries)))
	return entries, nil
}

// segmentBatch produces the sentence mappings for one batch
func (s *Segmenter) segmentBatch(ctx context.Context, index int, b Batch) ([]SentenceMapping, int64, error) {
	if len(b.Words) == 0 {
		return nil, 0, nil
	}
	if b.SkipLLM {
		return WholeBatchMapping(b), 0, nil
	}

	resp, err := s.client.CompleteJSON(ctx, segmentationSystemPrompt, segmentationUserPrompt(b))
	if err != nil {
		return nil, 0, err
	}

	var parsed segmentationResult
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		// Valid JSON of the wrong shape degrades like a failed alignment
		s.logger.Warn("Segmentation response had unexpected shape, using whole batch",
			logger.Int("batch", index),
			logger.Error(err))
		return WholeBatchMapping(b), resp.TokensUsed, nil
	}

	splits, err := AlignSentences(b.Words, parsed.Sentences)
	if err != nil {
		// Alignment failure is non-fatal for the run
		s.logger.Warn("Falling back to single sentence for batch",
			logger.Int("batch", index),
			logger.Int("words", len(b.Words)),
			logger.Error(err))
		return WholeBatchMapping(b), resp.TokensUsed, nil
	}

	return BuildMappings(b, splits), resp.TokensUsed, nil
}
