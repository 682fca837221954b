package llm

import (
	"strings"
	"sync/atomic"
)

// KeyRing rotates through a set of API keys with a shared round-robin
// counter. The counter is an atomic owned by this instance; nothing in the
// package keeps ambient rotation state.
type KeyRing struct {
	keys []string
	next atomic.Uint64
}

// NewKeyRing parses a delimiter-separated key list. Blank entries are
// dropped; an empty delimiter defaults to comma.
func NewKeyRing(keyList, delimiter string) *KeyRing {
	if delimiter == "" {
		delimiter = ","
	}
	var keys []string
	for _, key := range strings.Split(keyList, delimiter) {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return &KeyRing{keys: keys}
}

// Len returns the number of usable keys
func (k *KeyRing) Len() int {
	return len(k.keys)
}

// Next returns the next key in rotation along with its index
func (k *KeyRing) Next() (string, int) {
	if len(k.keys) == 0 {
		return "", -1
	}
	idx := int((k.next.Add(1) - 1) % uint64(len(k.keys)))
	return k.keys[idx], idx
}
