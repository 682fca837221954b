package segment

import (
	"strings"

	"github.com/sublate/sublate/internal/asr"
	"github.com/sublate/sublate/internal/subtitle"
)

// SentenceMapping represents one reconstructed sentence over the global
// word array. EndIdx is exclusive; across a file the ranges are strictly
// increasing and non-overlapping.
type SentenceMapping struct {
	Sentence string
	StartIdx int
	EndIdx   int
}

// JoinWords reconstructs sentence text from the ORIGINAL word text joined
// by single spaces. The LLM's re-normalized text is never used here.
func JoinWords(words []asr.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// BuildMappings turns a batch's local split indices into sentence mappings
// with global word indices. Splits are exclusive end positions within the
// batch and must end with the batch length, as produced by AlignSentences.
func BuildMappings(batch Batch, splits []int) []SentenceMapping {
	var mappings []SentenceMapping
	prev := 0
	for _, split := range splits {
		if split <= prev || split > len(batch.Words) {
			continue
		}
		mappings = append(mappings, SentenceMapping{
			Sentence: JoinWords(batch.Words[prev:split]),
			StartIdx: batch.StartIdx + prev,
			EndIdx:   batch.StartIdx + split,
		})
		prev = split
	}
	return mappings
}

// WholeBatchMapping treats the entire batch as one sentence. Used for
// skip-LLM batches and as the degraded result when alignment fails.
func WholeBatchMapping(batch Batch) []SentenceMapping {
	if len(batch.Words) == 0 {
		return nil
	}
	return []SentenceMapping{{
		Sentence: JoinWords(batch.Words),
		StartIdx: batch.StartIdx,
		EndIdx:   batch.StartIdx + len(batch.Words),
	}}
}

// BuildEntries converts flattened, time-ordered sentence mappings into
// subtitle entries. IDs are a strictly increasing counter starting at 1;
// timing comes from the first and last word of each mapped range.
func BuildEntries(words []asr.Word, mappings []SentenceMapping) []*subtitle.Entry {
	entries := make([]*subtitle.Entry, 0, len(mappings))
	for _, m := range mappings {
		if m.StartIdx < 0 || m.EndIdx > len(words) || m.StartIdx >= m.EndIdx {
			continue
		}
		entries = append(entries, &subtitle.Entry{
			ID:                len(entries) + 1,
			StartMs:           words[m.StartIdx].StartMs,
			EndMs:             words[m.EndIdx-1].EndMs,
			Text:              m.Sentence,
			TranslationStatus: subtitle.StatusPending,
		})
	}
	return entries
}
