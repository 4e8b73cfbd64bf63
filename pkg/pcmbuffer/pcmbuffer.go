// Package pcmbuffer accumulates inbound PCM audio for a single call turn.
// It mirrors the buffer-then-flush discipline used by subprocess-driven ASR
// pipelines: audio arrives as small chunks over time and must be handed off
// as one contiguous blob on commit, then reset for the next turn.
package pcmbuffer

import "sync"

// Buffer is a concurrency-safe accumulator of little-endian PCM16 bytes.
// The zero value is ready to use.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	chunks int
}

// Append adds a chunk of PCM bytes to the buffer. Empty chunks still count
// toward the chunk counter so callers can distinguish "never appended" from
// "appended nothing but empty frames".
func (b *Buffer) Append(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, pcm...)
	b.chunks++
}

// TakeAll atomically returns the accumulated bytes and resets the buffer to
// empty. The returned slice is owned by the caller.
func (b *Buffer) TakeAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = nil
	b.chunks = 0
	return out
}

// Len reports the current byte count without consuming the buffer.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Chunks reports the number of Append calls since the last TakeAll.
func (b *Buffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks
}
