package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aeolun/surge/pkg/protocol"
)

// Gateway is the explicit context owning the session registry, the
// dispatcher and the collaborator handles. There are no process-wide
// singletons: startup binds the listener and begins consuming the stream,
// shutdown drains and closes.
type Gateway struct {
	config     Config
	registry   *Registry
	dispatcher *Dispatcher
	identity   IdentityService
	directory  DirectoryService
	source     EventSource
	metrics    *Metrics

	listener   net.Listener
	httpServer *http.Server

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	wg       sync.WaitGroup

	startTime time.Time
}

// New creates a gateway wired to its collaborators.
func New(config Config, identity IdentityService, directory DirectoryService, source EventSource) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		config:    config,
		registry:  NewRegistry(),
		identity:  identity,
		directory: directory,
		source:    source,
		ctx:       ctx,
		cancel:    cancel,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
	}
	g.dispatcher = NewDispatcher(g.registry, directory, nil)
	return g
}

// SetMetrics attaches metrics to the gateway and its components.
func (g *Gateway) SetMetrics(metrics *Metrics) {
	g.metrics = metrics
	g.registry.SetMetrics(metrics)
	g.dispatcher.metrics = metrics
}

// Registry exposes the session registry, mainly for tests and handlers.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Handler returns the HTTP mux serving the socket endpoint, health and
// metrics.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.HandleWS)
	mux.HandleFunc("/health", g.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the listener and starts the dispatcher and reaper.
func (g *Gateway) Start() error {
	listener, err := net.Listen("tcp", g.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.config.ListenAddr, err)
	}
	g.listener = listener
	g.httpServer = &http.Server{Handler: g.Handler()}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.dispatcher.Run(g.ctx, g.source.Events())
	}()

	g.wg.Add(1)
	go g.reaperLoop()

	return nil
}

// Addr returns the bound listener address.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop drains in-flight outbound queues within the configured grace
// period, then terminates sockets and stops consuming the stream.
func (g *Gateway) Stop() error {
	close(g.shutdown)

	g.drain()

	g.cancel()
	if g.source != nil {
		g.source.Close()
	}
	if g.httpServer != nil {
		g.httpServer.Close()
	}

	g.wg.Wait()
	return nil
}

// drain asks every connected client to reconnect, then closes each
// session's outbound queue so its writer flushes everything buffered and
// says goodbye only after the last frame is on the wire. The queue length
// alone cannot signal completion: it drops to zero while the final frame
// is still mid-write. Writers that do not finish within the grace period
// get their sockets closed under them.
func (g *Gateway) drain() {
	sessions := g.registry.All()

	reconnect, err := protocol.EncodeReconnect()
	if err == nil {
		for _, sess := range sessions {
			sess.Enqueue(reconnect)
		}
	}

	for _, sess := range sessions {
		sess.CloseOutbound()
	}

	// A connection leaving Ready means its writer flushed and shut the
	// socket down (the exit path detaches the session).
	deadline := time.Now().Add(g.config.DrainGrace)
	for time.Now().Before(deadline) {
		flushed := true
		for _, sess := range sessions {
			if sess.State() == StateReady {
				flushed = false
				break
			}
		}
		if flushed {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	for _, sess := range sessions {
		sess.CloseConn()
	}
}

// reaperLoop periodically expires sessions whose resume window elapsed.
func (g *Gateway) reaperLoop() {
	defer g.wg.Done()

	interval := g.config.ResumeWindow / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.shutdown:
			return
		case <-ticker.C:
			g.reapExpiredSessions()
		}
	}
}

// reapExpiredSessions transitions sessions past the resume window to
// Expired and purges them from the registry along with their buffers.
func (g *Gateway) reapExpiredSessions() {
	for _, sess := range g.registry.All() {
		if sess.State() != StateDisconnectedResumable {
			continue
		}
		if time.Since(sess.DisconnectedAt()) <= g.config.ResumeWindow {
			continue
		}
		debugLog.Printf("Session %s: resume window elapsed, expiring", sess.ID)
		sess.Expire()
		g.registry.Unregister(sess.ID)
		if g.metrics != nil {
			g.metrics.RecordSessionExpired()
		}
	}
}
