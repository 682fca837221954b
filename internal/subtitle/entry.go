package subtitle

// TranslationStatus represents the translation state of one entry
type TranslationStatus string

const (
	// StatusPending marks an entry that has not been translated yet
	StatusPending TranslationStatus = "pending"
	// StatusCompleted marks an entry whose batch finished translation.
	// Completion is tracked at the batch level: a completed entry may carry
	// empty translated text when the model merged it into a neighbour line.
	StatusCompleted TranslationStatus = "completed"
)

// Entry represents one subtitle line with timing in integer milliseconds.
// Milliseconds are the canonical unit everywhere inside the pipeline;
// conversion to SRT timestamp text happens only at export.
type Entry struct {
	ID                int               `json:"id"`
	StartMs           int64             `json:"start_ms"`
	EndMs             int64             `json:"end_ms"`
	Text              string            `json:"text"`
	TranslatedText    string            `json:"translated_text,omitempty"`
	TranslationStatus TranslationStatus `json:"translation_status"`
}

// Progress represents aggregate progress for one processing run.
// Tokens only ever grows for the lifetime of a run.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Tokens    int64  `json:"tokens"`
	Status    string `json:"status"`
}

// Pending returns the entries still awaiting translation. Filtering is done
// on translation status, never on translated-text emptiness: a model may
// legitimately merge adjacent lines and leave one line's text empty while the
// batch is done.
func Pending(entries []*Entry) []*Entry {
	var pending []*Entry
	for _, entry := range entries {
		if entry.TranslationStatus != StatusCompleted {
			pending = append(pending, entry)
		}
	}
	return pending
}
