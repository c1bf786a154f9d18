// Package stream consumes the shared event stream the REST API publishes
// to. The gateway is a pure consumer: it never writes back.
package stream

import (
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aeolun/surge/pkg/protocol"
)

// Config holds stream connection settings
type Config struct {
	URL           string
	Subject       string
	Name          string
	ReconnectWait time.Duration
}

// Source subscribes to the event subject and hands decoded envelopes to
// the dispatcher in receipt order. A NATS outage is a documented
// delivery-gap window, not a fatal condition: the client library retries
// with backoff forever, sessions stay connected, and clients close the
// gap with a REST re-sync, not through resume.
type Source struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	events chan *protocol.Envelope

	closeOnce sync.Once
	done      chan struct{}

	// Dropped counts malformed envelopes discarded since startup.
	dropped func()
}

// Connect dials NATS and subscribes to the configured subject.
func Connect(cfg Config, onDropped func()) (*Source, error) {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("Event stream disconnected (delivery gap window open): %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("Event stream reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	s := &Source{
		nc:      nc,
		events:  make(chan *protocol.Envelope, 256),
		done:    make(chan struct{}),
		dropped: onDropped,
	}

	// A plain subscription delivers messages to the callback one at a
	// time in arrival order, which is exactly the single-consumer
	// ordering the dispatcher depends on.
	sub, err := nc.Subscribe(cfg.Subject, s.handle)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.sub = sub

	return s, nil
}

func (s *Source) handle(msg *nats.Msg) {
	env, err := protocol.DecodeEnvelope(msg.Data)
	if err != nil {
		log.Printf("Dropping malformed envelope on %s: %v", msg.Subject, err)
		if s.dropped != nil {
			s.dropped()
		}
		return
	}

	select {
	case s.events <- env:
	case <-s.done:
	}
}

// Events returns the ordered envelope channel.
func (s *Source) Events() <-chan *protocol.Envelope {
	return s.events
}

// Close stops consuming and releases the connection.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.sub != nil {
			err = s.sub.Unsubscribe()
		}
		s.nc.Close()
	})
	return err
}
