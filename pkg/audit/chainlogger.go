// Package audit keeps a tamper-evident trail of ledger mutations. Each
// entry's hash covers the previous entry's hash, so rewriting history
// breaks every link after the edit.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is a single link in the audit chain.
type Entry struct {
	Seq          uint64 `json:"seq"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Trail is an append-only hash chain of audit entries.
type Trail struct {
	mu       sync.Mutex
	lastHash string
	nextSeq  uint64
	entries  []*Entry
}

// NewTrail creates an empty trail anchored on a zero hash.
func NewTrail() *Trail {
	return &Trail{lastHash: strings.Repeat("0", 64)}
}

// Append links a new payload onto the chain and returns the entry.
func (t *Trail) Append(payload string) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &Entry{
		Seq:          t.nextSeq,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		PreviousHash: t.lastHash,
		Payload:      payload,
	}
	e.Hash = entryHash(e)

	t.lastHash = e.Hash
	t.nextSeq++
	t.entries = append(t.entries, e)
	return e
}

// Appendf is Append with fmt-style formatting.
func (t *Trail) Appendf(format string, args ...interface{}) *Entry {
	return t.Append(fmt.Sprintf(format, args...))
}

// Entries returns a snapshot of the chain.
func (t *Trail) Entries() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Entry, len(t.entries))
	for i, e := range t.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Verify reports whether entries form an unbroken, untampered chain.
func Verify(entries []*Entry) bool {
	for i, e := range entries {
		if i > 0 && e.PreviousHash != entries[i-1].Hash {
			return false
		}
		if entryHash(e) != e.Hash {
			return false
		}
	}
	return true
}

func entryHash(e *Entry) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", e.Seq, e.PreviousHash, e.Timestamp, e.Payload)))
	return hex.EncodeToString(h[:])
}
