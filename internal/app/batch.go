package app

import (
	"maps"
	"sync"

	"github.com/dkeye/mediarelay/internal/domain"
)

// Batch aggregates per-recipient payloads produced during one reconciliation
// pass. Stage is safe to call from fan-out goroutines; last write wins.
type Batch[T any] struct {
	mu      sync.Mutex
	entries map[domain.UserID]T
}

func NewBatch[T any]() *Batch[T] {
	return &Batch[T]{entries: make(map[domain.UserID]T)}
}

func (b *Batch[T]) Stage(recipient domain.UserID, payload T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[recipient] = payload
}

func (b *Batch[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Entries returns a copy of the staged payloads.
func (b *Batch[T]) Entries() map[domain.UserID]T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.entries)
}

// FlushIfAny hands the entries to send only when something was staged.
func (b *Batch[T]) FlushIfAny(send func(map[domain.UserID]T) error) (bool, error) {
	entries := b.Entries()
	if len(entries) == 0 {
		return false, nil
	}
	return true, send(entries)
}

// Flush always hands the entries to send, even when empty.
func (b *Batch[T]) Flush(send func(map[domain.UserID]T) error) error {
	return send(b.Entries())
}
