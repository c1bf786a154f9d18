package protocol

import (
	"encoding/json"
	"errors"
)

// MembershipChange is the out-of-band event the publisher emits when a
// user's scope membership changes. The gateway re-resolves that user's
// scopes from the directory before forwarding it.
const MembershipChange = "MEMBERSHIP_CHANGE"

var (
	ErrEnvelopeType  = errors.New("envelope missing type")
	ErrEnvelopeScope = errors.New("envelope requires at least one scope")
)

// Envelope is one event from the publisher stream. The payload is opaque
// to the gateway; the scopes drive routing and nothing else.
type Envelope struct {
	Type    string          `json:"type"`
	Scopes  []string        `json:"scopes"`
	UserID  string          `json:"userId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses an envelope from the stream. A malformed envelope
// is the publisher's bug, not the gateway's: callers log and drop, never
// crash fan-out.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, ErrEnvelopeType
	}
	if len(env.Scopes) == 0 {
		return nil, ErrEnvelopeScope
	}
	return &env, nil
}

// Encode marshals an envelope for the stream. Used by tooling that
// publishes test traffic; the gateway itself is a pure consumer.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
