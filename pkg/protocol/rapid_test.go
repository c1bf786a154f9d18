package protocol

import (
	"encoding/json"
	"testing"

	"pgregory.net/rapid"
)

// TestDispatchRoundTrip tests that any dispatch frame survives the wire
func TestDispatchRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		eventType := rapid.StringMatching(`[A-Z_]{1,32}`).Draw(t, "eventType")
		seq := rapid.Int64Range(0, 1<<40).Draw(t, "seq")
		content := rapid.String().Draw(t, "content")

		payload, err := json.Marshal(map[string]string{"content": content})
		if err != nil {
			t.Fatalf("marshal payload failed: %v", err)
		}

		data, err := EncodeDispatch(eventType, seq, payload)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if f.Op != OpDispatch {
			t.Fatalf("op mismatch: got %d, want %d", f.Op, OpDispatch)
		}
		if f.T == nil || *f.T != eventType {
			t.Fatalf("event type mismatch: got %v, want %q", f.T, eventType)
		}
		if f.S == nil || *f.S != seq {
			t.Fatalf("sequence mismatch: got %v, want %d", f.S, seq)
		}

		var decoded map[string]string
		if err := json.Unmarshal(f.D, &decoded); err != nil {
			t.Fatalf("decode payload failed: %v", err)
		}
		if decoded["content"] != content {
			t.Fatalf("payload mismatch: got %q, want %q", decoded["content"], content)
		}
	})
}

// TestEnvelopeRoundTrip tests that any valid envelope survives the stream
func TestEnvelopeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := &Envelope{
			Type:   rapid.StringMatching(`[A-Z_]{1,32}`).Draw(t, "type"),
			Scopes: rapid.SliceOfN(rapid.StringMatching(`(server|channel|user):[a-z0-9]{1,8}`), 1, 5).Draw(t, "scopes"),
		}

		data, err := original.Encode()
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Type != original.Type {
			t.Fatalf("type mismatch: got %q, want %q", decoded.Type, original.Type)
		}
		if len(decoded.Scopes) != len(original.Scopes) {
			t.Fatalf("scope count mismatch: got %d, want %d", len(decoded.Scopes), len(original.Scopes))
		}
		for i := range original.Scopes {
			if decoded.Scopes[i] != original.Scopes[i] {
				t.Fatalf("scope %d mismatch: got %q, want %q", i, decoded.Scopes[i], original.Scopes[i])
			}
		}
	})
}
