package segment

import (
	"strings"

	"github.com/sublate/sublate/internal/asr"
	"github.com/sublate/sublate/pkg/logger"
)

// SplitReason records why a batch boundary was placed
type SplitReason string

const (
	// ReasonPause marks a boundary at an inter-word silence gap
	ReasonPause SplitReason = "pause"
	// ReasonPunctuation marks a boundary after terminal punctuation
	ReasonPunctuation SplitReason = "punctuation"
	// ReasonLimit marks a hard cut at the batch size cap
	ReasonLimit SplitReason = "limit"
)

// Batch represents a contiguous run of words grouped for one segmentation
// call. Batches partition the global word array with no gaps or overlaps.
type Batch struct {
	Words      []asr.Word
	StartIdx   int // global index of Words[0]
	SkipLLM    bool
	Reason     SplitReason
	PauseGapMs int64 // gap at the boundary when Reason is pause
}

// SplitterConfig represents batching parameters. The skip thresholds are
// empirical and configurable rather than hard-coded.
type SplitterConfig struct {
	BatchSize           int
	PauseThresholdMs    int64
	SkipTinyWords       int // max words for the pause-flanked tiny rule
	SkipPunctuatedWords int // max words for the punctuated-plus-pause rule
	SkipFlankedMinWords int
	SkipFlankedMaxWords int
}

// Splitter groups the merged word stream into segmentation batches
type Splitter struct {
	config SplitterConfig
	logger *logger.Logger
}

// NewSplitter creates a new batch splitter
func NewSplitter(config SplitterConfig, logger *logger.Logger) *Splitter {
	return &Splitter{
		config: config,
		logger: logger.Named("batch-splitter"),
	}
}

// Split partitions the word list into batches. Within each window of up to
// BatchSize words the first pause gap wins, then the last terminal
// punctuation scanning backward, then a hard cut. Batches that are trivially
// one sentence are flagged to skip the LLM entirely.
func (s *Splitter) Split(words []asr.Word) []Batch {
	if len(words) == 0 {
		return nil
	}

	var batches []Batch
	start := 0
	for start < len(words) {
		end := start + s.config.BatchSize
		if end > len(words) {
			end = len(words)
		}

		cut, reason, gap := s.findCut(words, start, end)
		batch := Batch{
			Words:      words[start:cut],
			StartIdx:   start,
			Reason:     reason,
			PauseGapMs: gap,
		}
		batch.SkipLLM = s.shouldSkip(words, start, cut)
		batches = append(batches, batch)
		start = cut
	}

	skipped := 0
	for _, b := range batches {
		if b.SkipLLM {
			skipped++
		}
	}
	s.logger.Debug("Word stream batched",
		logger.Int("words", len(words)),
		logger.Int("batches", len(batches)),
		logger.Int("skip_llm", skipped))

	return batches
}

// findCut returns the exclusive cut index for the window [start, end)
func (s *Splitter) findCut(words []asr.Word, start, end int) (int, SplitReason, int64) {
	// (1) first inter-word pause inside the window
	for i := start; i < end-1; i++ {
		gap := words[i+1].StartMs - words[i].EndMs
		if gap > s.config.PauseThresholdMs {
			return i + 1, ReasonPause, gap
		}
	}

	// Terminal remainder: take everything that is left
	if end == len(words) {
		if hasTerminalPunctuation(words[end-1].Text) {
			return end, ReasonPunctuation, 0
		}
		return end, ReasonLimit, 0
	}

	// (2) last terminal punctuation scanning backward from the window end
	for i := end - 1; i > start; i-- {
		if hasTerminalPunctuation(words[i].Text) {
			return i + 1, ReasonPunctuation, 0
		}
	}

	// (3) hard cut at the cap
	return end, ReasonLimit, 0
}

// shouldSkip decides whether the batch [start, cut) can bypass LLM
// segmentation. File boundaries count as pauses.
func (s *Splitter) shouldSkip(words []asr.Word, start, cut int) bool {
	n := cut - start

	pausedBefore := start == 0 ||
		words[start].StartMs-words[start-1].EndMs > s.config.PauseThresholdMs
	pausedAfter := cut == len(words) ||
		words[cut].StartMs-words[cut-1].EndMs > s.config.PauseThresholdMs
	endsPunctuated := hasTerminalPunctuation(words[cut-1].Text)

	switch {
	case n <= s.config.SkipTinyWords && pausedBefore && pausedAfter:
		return true
	case endsPunctuated && pausedAfter && n <= s.config.SkipPunctuatedWords:
		return true
	case n >= s.config.SkipFlankedMinWords && n <= s.config.SkipFlankedMaxWords &&
		pausedBefore && pausedAfter:
		return true
	}
	return false
}

// terminalPunctuation covers both Latin and CJK sentence enders
const terminalPunctuation = ".!?…。！？"

// hasTerminalPunctuation reports whether the word ends a sentence
func hasTerminalPunctuation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	runes := []rune(trimmed)
	return strings.ContainsRune(terminalPunctuation, runes[len(runes)-1])
}
