package llm

import (
	"errors"
	"testing"
)

func TestDecodeJSONStrict(t *testing.T) {
	var out struct {
		Sentences []string `json:"sentences"`
	}
	payload := `{"sentences": ["a", "b"]}`
	if err := DecodeJSON(payload, &out); err != nil {
		t.Fatalf("strict parse failed: %v", err)
	}
	if len(out.Sentences) != 2 {
		t.Errorf("parsed %d sentences", len(out.Sentences))
	}
}

func TestDecodeJSONRepair(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"code fence", "```json\n{\"ok\": true}\n```"},
		{"bare fence", "```\n{\"ok\": true}\n```"},
		{"leading prose", "Here is the result:\n{\"ok\": true}"},
		{"trailing prose", "{\"ok\": true}\nHope that helps!"},
		{"array in prose", "The sentences are: [\"a\", \"b\"] as requested."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out any
			if err := DecodeJSON(tt.payload, &out); err != nil {
				t.Errorf("repair failed for %q: %v", tt.payload, err)
			}
		})
	}
}

func TestDecodeJSONMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"whitespace", "   \n  "},
		{"prose only", "I could not produce any output."},
		{"broken object", `{"sentences": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out any
			err := DecodeJSON(tt.payload, &out)
			if err == nil {
				t.Fatal("expected error")
			}
			var malformed *MalformedResponseError
			if !errors.As(err, &malformed) {
				t.Errorf("expected MalformedResponseError, got %T: %v", err, err)
			}
		})
	}
}

func TestKeyRingRotation(t *testing.T) {
	ring := NewKeyRing("key-a, key-b ,key-c", ",")
	if ring.Len() != 3 {
		t.Fatalf("expected 3 keys, got %d", ring.Len())
	}
	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		key, idx := ring.Next()
		if idx < 0 || idx > 2 {
			t.Fatalf("bad index %d", idx)
		}
		seen[key]++
	}
	for _, key := range []string{"key-a", "key-b", "key-c"} {
		if seen[key] != 3 {
			t.Errorf("key %s used %d times, want 3", key, seen[key])
		}
	}
}

func TestKeyRingEmpty(t *testing.T) {
	ring := NewKeyRing("  ,  ,", ",")
	if ring.Len() != 0 {
		t.Fatalf("expected 0 keys, got %d", ring.Len())
	}
	if key, idx := ring.Next(); key != "" || idx != -1 {
		t.Errorf("empty ring Next() = (%q, %d)", key, idx)
	}
}

func TestKeyRingCustomDelimiter(t *testing.T) {
	ring := NewKeyRing("one|two", "|")
	if ring.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", ring.Len())
	}
}
