package asr

import (
	"sort"

	"github.com/sublate/sublate/pkg/logger"
)

// Merger combines per-chunk transcription results into one global word list
type Merger struct {
	logger *logger.Logger
}

// NewMerger creates a new merger
func NewMerger(logger *logger.Logger) *Merger {
	return &Merger{logger: logger.Named("asr-merger")}
}

// ChunkResult pairs one chunk's words with the chunk's start offset
type ChunkResult struct {
	OffsetMs int64
	Words    []Word
}

// Merge shifts every chunk's word times by the chunk offset, concatenates
// all chunks in order, re-sorts by start time, and removes words whose time
// interval overlaps an already-retained word. The earlier chunk's word wins,
// which prevents duplicated text where chunks were transcribed with overlap.
func (m *Merger) Merge(results []ChunkResult) []Word {
	var all []Word
	for _, res := range results {
		for _, w := range res.Words {
			w.StartMs += res.OffsetMs
			w.EndMs += res.OffsetMs
			all = append(all, w)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartMs < all[j].StartMs
	})

	// Drop temporal overlaps, preferring the earlier occurrence
	merged := all[:0:len(all)]
	var lastEnd int64 = -1
	dropped := 0
	for _, w := range all {
		if w.StartMs < lastEnd {
			dropped++
			continue
		}
		merged = append(merged, w)
		if w.EndMs > lastEnd {
			lastEnd = w.EndMs
		}
	}

	if dropped > 0 {
		m.logger.Debug("Removed overlapping words at chunk boundaries",
			logger.Int("dropped", dropped),
			logger.Int("retained", len(merged)))
	}

	return merged
}
