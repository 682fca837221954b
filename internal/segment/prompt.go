package segment

import (
	"fmt"
)

// segmentationSystemPrompt instructs the model to regroup transcribed words
// into natural sentences without rewriting them
const segmentationSystemPrompt = `You are a subtitle segmentation assistant. You receive raw speech-recognition text: a stream of words with unreliable or missing punctuation. Split the text into natural, complete sentences.

Rules:
- Preserve every word in order. Do not add, remove, reorder, or translate words.
- You may adjust casing and punctuation, nothing else.
- Prefer sentence lengths suitable for subtitles (roughly 5 to 20 words).

Respond with JSON only, in this exact shape:
{"sentences": ["first sentence", "second sentence"], "analysis": "one short remark about how you segmented"}`

// segmentationUserPrompt renders the batch text for the model
func segmentationUserPrompt(b Batch) string {
	return fmt.Sprintf("Segment this transcript excerpt into sentences:\n\n%s", JoinWords(b.Words))
}
