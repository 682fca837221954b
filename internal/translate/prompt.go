package translate

import (
	"fmt"
	"strings"

	"github.com/sublate/sublate/internal/config"
)

// translationSystemPrompt builds the translator instructions, including any
// terminology the batch actually uses
func translationSystemPrompt(targetLanguage string, terms []config.TermPair) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `You are a professional subtitle translator. Translate each numbered line into %s.

Rules:
- Translate line by line. Keep the numbering of the input.
- Context lines are for understanding only; never translate or include them.
- Keep translations concise and natural for subtitles.
- If a line is a fragment that only makes sense merged with a neighbour, translate the full meaning on the neighbour's line and leave this line's translation empty.
`, targetLanguage)

	if len(terms) > 0 {
		sb.WriteString("\nUse this terminology exactly:\n")
		for _, term := range terms {
			fmt.Fprintf(&sb, "- %s => %s\n", term.Original, term.Translated)
		}
	}

	sb.WriteString(`
Respond with JSON only, one key per input line, in this exact shape:
{"1": {"origin": "<original line 1>", "direct": "<translation of line 1>"}, "2": {...}}`)
	return sb.String()
}

// translationUserPrompt renders the batch with its context windows
func translationUserPrompt(j job) string {
	var sb strings.Builder

	if len(j.before) > 0 {
		sb.WriteString("Preceding context (do not translate):\n")
		for _, entry := range j.before {
			sb.WriteString(entry.Text)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("Translate these lines:\n")
	for i, entry := range j.entries {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, entry.Text)
	}

	if len(j.after) > 0 {
		sb.WriteString("\nFollowing context (do not translate):\n")
		for _, entry := range j.after {
			sb.WriteString(entry.Text)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
