package segment

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sublate/sublate/internal/asr"
)

// AlignmentError represents a batch whose LLM output could not be mapped
// back onto the original words. Non-fatal: the caller degrades to treating
// the whole batch as one sentence.
type AlignmentError struct {
	Reason string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("sentence alignment failed: %s", e.Reason)
}

// token pairs a normalized form with the index of the word it came from
type token struct {
	norm    string
	wordIdx int
}

// AlignSentences maps the LLM's sentence split back onto the original word
// list and returns exclusive split indices in word space. The model may have
// changed casing, punctuation, or minor spellings, so both sides are
// normalized and aligned with a tolerant longest-common-subsequence pass.
// The returned indices are strictly increasing and always end with
// len(words), so they partition the batch exactly.
func AlignSentences(words []asr.Word, sentences []string) ([]int, error) {
	if len(words) == 0 {
		return nil, &AlignmentError{Reason: "no words to align"}
	}

	origTokens := tokenizeWords(words)
	llmTokens, boundaries := tokenizeSentences(sentences)
	if len(llmTokens) == 0 {
		return nil, &AlignmentError{Reason: "llm output contained no usable tokens"}
	}
	if len(origTokens) == 0 {
		return nil, &AlignmentError{Reason: "original words contained no usable tokens"}
	}

	pairs := matchTokens(origTokens, llmTokens)
	if len(pairs) == 0 {
		return nil, &AlignmentError{Reason: "no token correspondence found"}
	}

	var splits []int
	prev := 0
	// boundaries[k] is the LLM token offset where sentence k begins; the
	// first sentence starts at 0 and is not a split point.
	for _, b := range boundaries[1:] {
		wordIdx := splitForBoundary(pairs, origTokens, b)
		if wordIdx <= prev || wordIdx >= len(words) {
			continue
		}
		splits = append(splits, wordIdx)
		prev = wordIdx
	}
	splits = append(splits, len(words))
	return splits, nil
}

// tokenizeWords normalizes each word, dropping pure-punctuation entries
func tokenizeWords(words []asr.Word) []token {
	var tokens []token
	for i, w := range words {
		if norm := normalizeToken(w.Text); norm != "" {
			tokens = append(tokens, token{norm: norm, wordIdx: i})
		}
	}
	return tokens
}

// tokenizeSentences flattens the sentences into one token stream and records
// the token offset where each sentence begins
func tokenizeSentences(sentences []string) ([]token, []int) {
	var tokens []token
	boundaries := make([]int, 0, len(sentences))
	for _, sentence := range sentences {
		boundaries = append(boundaries, len(tokens))
		for _, field := range strings.Fields(sentence) {
			if norm := normalizeToken(field); norm != "" {
				tokens = append(tokens, token{norm: norm})
			}
		}
	}
	return tokens, boundaries
}

// normalizeToken lowercases and strips everything that is not a letter or
// digit, making the two sides comparable despite punctuation and casing
// differences
func normalizeToken(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// tolerantEqual accepts exact matches plus prefix relations on longer
// tokens, absorbing minor spelling normalization by the model. Length is
// counted in runes so CJK tokens are held to the same bar as Latin ones.
func tolerantEqual(a, b string) bool {
	if a == b {
		return true
	}
	if utf8.RuneCountInString(a) >= 3 && utf8.RuneCountInString(b) >= 3 {
		return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
	}
	return false
}

// pair records that original token i corresponds to LLM token j
type pair struct {
	i, j int
}

// matchTokens runs a longest-common-subsequence alignment and returns the
// matched index pairs in ascending order
func matchTokens(orig, llm []token) []pair {
	n, m := len(orig), len(llm)
	// dp[i][j] = LCS length of orig[i:], llm[j:]
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if tolerantEqual(orig[i].norm, llm[j].norm) {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var pairs []pair
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case tolerantEqual(orig[i].norm, llm[j].norm):
			pairs = append(pairs, pair{i: i, j: j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return pairs
}

// splitForBoundary translates one LLM split offset into an original word
// index: the word of the first matched original token at or past the
// boundary, falling back to just after the last match before it
func splitForBoundary(pairs []pair, orig []token, boundary int) int {
	for _, p := range pairs {
		if p.j >= boundary {
			return orig[p.i].wordIdx
		}
	}
	last := pairs[len(pairs)-1]
	return orig[last.i].wordIdx + 1
}
