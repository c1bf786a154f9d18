package gateway

import (
	"context"
	"time"

	"github.com/aeolun/surge/pkg/protocol"
)

// Dispatcher consumes the shared event stream and fans each envelope out
// to the sessions whose scopes intersect it. It runs as a single
// sequential consumer: that is what gives per-scope ordering its
// guarantee, so it must never be parallelized across shards that can
// reorder events for the same scope. It never talks to a socket directly;
// delivery goes through each session's outbound queue.
type Dispatcher struct {
	registry  *Registry
	directory DirectoryService
	metrics   *Metrics
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, directory DirectoryService, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		directory: directory,
		metrics:   metrics,
	}
}

// Run consumes envelopes until the context is cancelled or the source
// channel closes. Nothing in the per-event path is fatal: a bad envelope
// is logged and dropped, never allowed to crash fan-out for other events.
func (d *Dispatcher) Run(ctx context.Context, events <-chan *protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			d.Dispatch(ctx, env)
		}
	}
}

// Dispatch routes one envelope to every interested session. Ready
// sessions get the event sequenced, buffered and enqueued; sessions in
// the resume window get it buffered only. A session whose outbound queue
// is full is dropped as non-responsive rather than blocking the stream.
func (d *Dispatcher) Dispatch(ctx context.Context, env *protocol.Envelope) {
	start := time.Now()

	if env.Type == protocol.MembershipChange {
		d.refreshScopes(ctx, env)
	}

	targets := d.registry.SessionsForScopes(env.Scopes)

	var slow []*Session
	delivered := 0
	for _, sess := range targets {
		enqueued, dropped := sess.Deliver(env.Type, env.Payload)
		if enqueued {
			delivered++
		}
		if dropped {
			slow = append(slow, sess)
		}
	}

	// Close slow clients after the fan-out loop; their sessions stay
	// resumable and already buffered the event.
	for _, sess := range slow {
		debugLog.Printf("Session %s: outbound queue full, dropping connection", sess.ID)
		if d.metrics != nil {
			d.metrics.RecordSlowClientClosed()
		}
		sess.CloseConn()
	}

	if d.metrics != nil {
		d.metrics.RecordDispatch(env.Type, delivered, time.Since(start).Seconds())
	}
}

// refreshScopes re-resolves scope membership for every session of the
// user a MEMBERSHIP_CHANGE envelope names. The envelope still fans out
// afterwards so clients learn about the change too.
func (d *Dispatcher) refreshScopes(ctx context.Context, env *protocol.Envelope) {
	if env.UserID == "" || d.directory == nil {
		return
	}
	scopes, err := d.directory.ScopesFor(ctx, env.UserID)
	if err != nil {
		errorLog.Printf("Scope refresh for user %s failed: %v", env.UserID, err)
		return
	}
	for _, sess := range d.registry.SessionsForScopes([]string{UserScope(env.UserID)}) {
		if sess.UserID != env.UserID {
			continue
		}
		d.registry.UpdateScopes(sess.ID, withUserScope(env.UserID, scopes))
	}
}
