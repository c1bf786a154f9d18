package gateway

import (
	"fmt"
	"testing"
	"time"
)

func fillBuffer(b *ResumeBuffer, from, to int64) {
	for seq := from; seq <= to; seq++ {
		b.Append(seq, []byte(fmt.Sprintf("frame-%d", seq)))
	}
}

func TestResumeBufferReplaySince(t *testing.T) {
	b := NewResumeBuffer(10, time.Minute)
	fillBuffer(b, 1, 5)

	entries, err := b.ReplaySince(2)
	if err != nil {
		t.Fatalf("ReplaySince failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, want := range []int64{3, 4, 5} {
		if entries[i].Seq != want {
			t.Errorf("Entry %d: expected seq %d, got %d", i, want, entries[i].Seq)
		}
		if string(entries[i].Frame) != fmt.Sprintf("frame-%d", want) {
			t.Errorf("Entry %d: frame content mismatch", i)
		}
	}
}

func TestResumeBufferReplayAll(t *testing.T) {
	b := NewResumeBuffer(10, time.Minute)
	fillBuffer(b, 1, 3)

	entries, err := b.ReplaySince(0)
	if err != nil {
		t.Fatalf("ReplaySince failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
}

func TestResumeBufferCaughtUp(t *testing.T) {
	b := NewResumeBuffer(10, time.Minute)
	fillBuffer(b, 1, 3)

	entries, err := b.ReplaySince(3)
	if err != nil {
		t.Fatalf("ReplaySince failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Expected no entries, got %d", len(entries))
	}
}

func TestResumeBufferEmptyNoGap(t *testing.T) {
	b := NewResumeBuffer(10, time.Minute)

	entries, err := b.ReplaySince(0)
	if err != nil {
		t.Fatalf("Empty buffer should not report a gap: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Expected no entries, got %d", len(entries))
	}
}

func TestResumeBufferCapacityEviction(t *testing.T) {
	b := NewResumeBuffer(3, time.Minute)
	fillBuffer(b, 1, 5) // 1 and 2 evicted

	if b.Len() != 3 {
		t.Fatalf("Expected 3 retained entries, got %d", b.Len())
	}

	// Asking for a sequence covered by evicted entries must fail outright,
	// never return a partial replay
	if _, err := b.ReplaySince(1); err != ErrReplayGap {
		t.Fatalf("Expected ErrReplayGap, got %v", err)
	}

	// The oldest retained entry is 3, so lastSeq 2 is still recoverable
	entries, err := b.ReplaySince(2)
	if err != nil {
		t.Fatalf("ReplaySince(2) failed: %v", err)
	}
	if len(entries) != 3 || entries[0].Seq != 3 {
		t.Fatalf("Expected entries 3..5, got %d entries starting at %d", len(entries), entries[0].Seq)
	}
}

func TestResumeBufferTTLEviction(t *testing.T) {
	b := NewResumeBuffer(10, 30*time.Millisecond)
	fillBuffer(b, 1, 3)

	time.Sleep(60 * time.Millisecond)
	b.Append(4, []byte("frame-4"))

	if _, err := b.ReplaySince(1); err != ErrReplayGap {
		t.Fatalf("Expected ErrReplayGap after TTL eviction, got %v", err)
	}

	entries, err := b.ReplaySince(3)
	if err != nil {
		t.Fatalf("ReplaySince(3) failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Seq != 4 {
		t.Fatalf("Expected only entry 4, got %d entries", len(entries))
	}
}

func TestResumeBufferDiscard(t *testing.T) {
	b := NewResumeBuffer(10, time.Minute)
	fillBuffer(b, 1, 5)

	b.Discard()
	if b.Len() != 0 {
		t.Fatalf("Expected empty buffer after discard, got %d entries", b.Len())
	}
}
