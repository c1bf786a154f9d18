package gateway

import (
	"errors"
	"sync"
	"time"
)

// ErrReplayGap means the requested sequence precedes the oldest buffered
// entry: the client cannot recover the missing events from the gateway and
// must re-sync via the REST collaborator.
var ErrReplayGap = errors.New("requested sequence no longer buffered")

// BufferEntry is one dispatched frame retained for replay.
type BufferEntry struct {
	Seq   int64
	At    time.Time
	Frame []byte
}

// ResumeBuffer is a bounded per-session FIFO of recently dispatched frames.
// Insertion evicts the oldest entry once capacity is reached; entries older
// than the TTL are evicted lazily. Evicting an entry permanently widens the
// replay gap, so eviction is tracked rather than forgotten.
type ResumeBuffer struct {
	mu             sync.Mutex
	entries        []BufferEntry
	capacity       int
	ttl            time.Duration
	evictedThrough int64 // highest sequence ever evicted, -1 initially
}

// NewResumeBuffer creates a buffer holding up to capacity entries for at
// most ttl each.
func NewResumeBuffer(capacity int, ttl time.Duration) *ResumeBuffer {
	return &ResumeBuffer{
		entries:        make([]BufferEntry, 0, capacity),
		capacity:       capacity,
		ttl:            ttl,
		evictedThrough: -1,
	}
}

// Append records a dispatched frame under its sequence number.
func (b *ResumeBuffer) Append(seq int64, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked(time.Now())

	if len(b.entries) >= b.capacity {
		b.evictedThrough = b.entries[0].Seq
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, BufferEntry{Seq: seq, At: time.Now(), Frame: frame})
}

// ReplaySince returns the entries with sequence > lastSeq in ascending
// order, or ErrReplayGap if lastSeq precedes the oldest retained entry.
// A gap always fails outright; partial replays are never returned.
func (b *ResumeBuffer) ReplaySince(lastSeq int64) ([]BufferEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked(time.Now())

	if lastSeq < b.evictedThrough {
		return nil, ErrReplayGap
	}

	var out []BufferEntry
	for _, e := range b.entries {
		if e.Seq > lastSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len returns the number of retained entries.
func (b *ResumeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Discard drops all entries. Called when the owning session expires.
func (b *ResumeBuffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// expireLocked evicts entries older than the TTL. Caller holds b.mu.
func (b *ResumeBuffer) expireLocked(now time.Time) {
	if b.ttl <= 0 {
		return
	}
	cutoff := now.Add(-b.ttl)
	for len(b.entries) > 0 && b.entries[0].At.Before(cutoff) {
		b.evictedThrough = b.entries[0].Seq
		b.entries = b.entries[1:]
	}
}
