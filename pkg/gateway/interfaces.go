package gateway

import (
	"context"

	"github.com/aeolun/surge/pkg/protocol"
)

// IdentityService validates access tokens issued by the identity
// collaborator. Any returned error is treated as an auth rejection; the
// gateway never inspects token internals itself.
type IdentityService interface {
	ValidateToken(token string) (userID string, err error)
}

// DirectoryService resolves the set of scopes (servers, channels, DMs) a
// user may currently see. Computed once at handshake and re-resolved only
// when the publisher signals a membership change.
type DirectoryService interface {
	ScopesFor(ctx context.Context, userID string) ([]string, error)
}

// EventSource delivers publisher envelopes in receipt order. The channel
// closes when the source shuts down for good; transient outages are the
// source's problem to retry, during which no events arrive but sessions
// stay connected.
type EventSource interface {
	Events() <-chan *protocol.Envelope
	Close() error
}
