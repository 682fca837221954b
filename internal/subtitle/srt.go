package subtitle

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ExportMode selects which text an SRT export carries
type ExportMode string

const (
	// ExportOriginal writes the transcribed text only
	ExportOriginal ExportMode = "original"
	// ExportTranslated writes the translated text only
	ExportTranslated ExportMode = "translated"
	// ExportBilingual writes the translated text above the original
	ExportBilingual ExportMode = "bilingual"
)

// WriteSRT renders entries as SRT. Cue numbering restarts at 1 so that
// exports of partially translated files remain valid; entries with no text
// for the selected mode are skipped.
func WriteSRT(w io.Writer, entries []*Entry, mode ExportMode) error {
	cue := 0
	for _, entry := range entries {
		text := cueText(entry, mode)
		if text == "" {
			continue
		}
		cue++
		if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			cue,
			FormatTimestamp(entry.StartMs),
			FormatTimestamp(entry.EndMs),
			text,
		); err != nil {
			return fmt.Errorf("failed to write srt cue %d: %w", cue, err)
		}
	}
	return nil
}

func cueText(entry *Entry, mode ExportMode) string {
	switch mode {
	case ExportTranslated:
		return strings.TrimSpace(entry.TranslatedText)
	case ExportBilingual:
		translated := strings.TrimSpace(entry.TranslatedText)
		original := strings.TrimSpace(entry.Text)
		if translated == "" {
			return original
		}
		if original == "" {
			return translated
		}
		return translated + "\n" + original
	default:
		return strings.TrimSpace(entry.Text)
	}
}

// FormatTimestamp converts milliseconds to SRT timestamp text (HH:MM:SS,mmm)
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3600000
	minutes := (ms % 3600000) / 60000
	seconds := (ms % 60000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// ParseTimestamp converts SRT timestamp text to milliseconds. A period is
// accepted in place of the standard comma.
func ParseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return int64(hours)*3600000 + int64(minutes)*60000 + int64(seconds)*1000 + int64(millis), nil
}

// ParseSRT reads SRT content into entries. Cue numbers are re-assigned
// sequentially; malformed blocks are skipped.
func ParseSRT(content string) ([]*Entry, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	blocks := strings.Split(strings.TrimSpace(content), "\n\n")

	var entries []*Entry
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}
		// First line is the cue number, second the timing line; tolerate
		// blocks that omit the number.
		timingIdx := 1
		if strings.Contains(lines[0], "-->") {
			timingIdx = 0
		}
		if timingIdx >= len(lines) || !strings.Contains(lines[timingIdx], "-->") {
			continue
		}
		parts := strings.SplitN(lines[timingIdx], "-->", 2)
		startMs, err := ParseTimestamp(parts[0])
		if err != nil {
			continue
		}
		endMs, err := ParseTimestamp(parts[1])
		if err != nil {
			continue
		}
		text := strings.TrimSpace(strings.Join(lines[timingIdx+1:], "\n"))
		entries = append(entries, &Entry{
			ID:                len(entries) + 1,
			StartMs:           startMs,
			EndMs:             endMs,
			Text:              text,
			TranslationStatus: StatusPending,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no valid cues found")
	}
	return entries, nil
}
