package gateway

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aeolun/surge/pkg/protocol"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Browser origin checks belong to the fronting proxy; the gateway
		// authenticates every connection via Identify anyway.
		return true
	},
}

// conn is the per-socket control loop state. One goroutine runs the read
// loop, one drains the session's outbound queue, one watches the
// heartbeat deadline. They communicate with other connections only
// through the Registry and the Session's queue.
type conn struct {
	g    *Gateway
	ws   *websocket.Conn
	sess *Session
	out  <-chan []byte // outbound queue this connection owns, set at attach

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// HandleWS upgrades an HTTP request and runs the connection state machine
// until the socket closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &conn{g: g, ws: ws, done: make(chan struct{})}
	c.run()
}

func (c *conn) run() {
	defer func() {
		c.shutdown(websocket.CloseNormalClosure, "")
		// Socket loss parks the session for the resume window; it does
		// not delete it. The reaper expires it if no resume arrives. The
		// detach carries the queue this connection owns so a completed
		// takeover by a newer socket is left alone.
		if c.sess != nil {
			c.sess.Detach(c.out)
			debugLog.Printf("Session %s: socket detached", c.sess.ID)
		}
	}()

	hello, err := protocol.EncodeHello(c.g.config.HeartbeatInterval.Milliseconds())
	if err != nil {
		return
	}
	if err := c.writeFrame(hello); err != nil {
		return
	}

	if !c.handshake() {
		return
	}

	c.g.wg.Add(1)
	go c.heartbeatWatchdog()

	c.readLoop()
}

// handshake waits for Identify or Resume within the identify deadline.
// Heartbeats are acknowledged while waiting; a failed Resume leaves the
// socket open so the client can fall back to a fresh Identify.
func (c *conn) handshake() bool {
	deadline := time.Now().Add(c.g.config.IdentifyDeadline)
	c.ws.SetReadDeadline(deadline)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.shutdown(protocol.CloseAuthTimeout, "identify deadline exceeded")
			}
			return false
		}

		msg, err := protocol.DecodeClientFrame(data)
		if err != nil {
			c.shutdown(protocol.CloseProtocolError, err.Error())
			return false
		}
		c.countFrame(msg.Op)

		switch msg.Op {
		case protocol.OpHeartbeat:
			if !c.ackHeartbeat() {
				return false
			}

		case protocol.OpIdentify:
			if !c.identify(msg.Identify) {
				return false
			}
			c.ws.SetReadDeadline(time.Time{})
			return true

		case protocol.OpResume:
			resumed, fatal := c.resume(msg.Resume)
			if fatal {
				return false
			}
			if resumed {
				c.ws.SetReadDeadline(time.Time{})
				return true
			}
			// InvalidSession was sent; keep waiting for Identify.
		}
	}
}

// identify runs the Identify path: token via the identity collaborator,
// scopes via the directory, fresh session, READY.
func (c *conn) identify(p *protocol.IdentifyPayload) bool {
	userID, err := c.g.identity.ValidateToken(p.Token)
	if err != nil {
		debugLog.Printf("Identify rejected: %v", err)
		if c.g.metrics != nil {
			c.g.metrics.RecordAuthRejection()
		}
		c.shutdown(protocol.CloseAuthRejected, "authentication failed")
		return false
	}

	scopes, err := c.g.directory.ScopesFor(c.g.ctx, userID)
	if err != nil {
		errorLog.Printf("Scope resolution for user %s failed: %v", userID, err)
		c.shutdown(websocket.CloseInternalServerErr, "directory unavailable")
		return false
	}

	sess := NewSession(
		uuid.NewString(),
		userID,
		withUserScope(userID, scopes),
		c.g.config.QueueSize,
		NewResumeBuffer(c.g.config.BufferCapacity, c.g.config.BufferTTL),
	)
	c.g.registry.Register(sess)

	ready, out, err := sess.Ready(c.closeSocket)
	if err != nil {
		c.g.registry.Unregister(sess.ID)
		return false
	}
	c.sess = sess
	c.out = out

	if err := c.writeFrame(ready); err != nil {
		return false
	}

	debugLog.Printf("Session %s: ready for user %s (%d scopes)", sess.ID, userID, len(scopes))

	c.g.wg.Add(1)
	go c.writeLoop(out)
	return true
}

// resume runs the Resume path. Returns resumed=true when the session was
// taken over, fatal=true when the socket is unusable. A gap, an unknown
// session or an expired one all answer InvalidSession{resumable:false}.
func (c *conn) resume(p *protocol.ResumePayload) (resumed, fatal bool) {
	sess, ok := c.g.registry.Find(p.SessionID)
	if !ok || sess.State() == StateExpired {
		return false, !c.sendInvalidSession()
	}

	frames, out, err := sess.Resume(p.Seq, c.closeSocket)
	if err != nil {
		debugLog.Printf("Session %s: resume at seq %d refused: %v", p.SessionID, p.Seq, err)
		return false, !c.sendInvalidSession()
	}
	c.sess = sess
	c.out = out

	for _, frame := range frames {
		if err := c.writeFrame(frame); err != nil {
			return false, true
		}
	}

	debugLog.Printf("Session %s: resumed, replayed %d frames", sess.ID, len(frames)-1)
	if c.g.metrics != nil {
		c.g.metrics.RecordSessionResumed()
	}

	c.g.wg.Add(1)
	go c.writeLoop(out)
	return true, false
}

func (c *conn) sendInvalidSession() bool {
	frame, err := protocol.EncodeInvalidSession(false)
	if err != nil {
		return false
	}
	return c.writeFrame(frame) == nil
}

// readLoop handles client frames while the session is live.
func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.DecodeClientFrame(data)
		if err != nil {
			// Malformed frames end the session outright; the client has
			// to re-sync over REST and Identify fresh.
			c.terminate(protocol.CloseProtocolError, err.Error())
			return
		}
		c.countFrame(msg.Op)

		switch msg.Op {
		case protocol.OpHeartbeat:
			c.sess.Heartbeat(time.Now())
			if !c.ackHeartbeat() {
				return
			}

		case protocol.OpIdentify, protocol.OpResume:
			c.terminate(protocol.CloseProtocolError, "already identified")
			return
		}
	}
}

func (c *conn) ackHeartbeat() bool {
	ack, err := protocol.EncodeHeartbeatAck()
	if err != nil {
		return false
	}
	return c.writeFrame(ack) == nil
}

// heartbeatWatchdog closes the socket when no heartbeat arrives within
// 1.5x the advertised interval. The session survives as resumable.
func (c *conn) heartbeatWatchdog() {
	defer c.g.wg.Done()

	limit := c.g.config.HeartbeatInterval + c.g.config.HeartbeatInterval/2
	ticker := time.NewTicker(c.g.config.HeartbeatInterval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.g.shutdown:
			return
		case <-ticker.C:
			if time.Since(c.sess.LastHeartbeat()) > limit {
				debugLog.Printf("Session %s: heartbeat timeout", c.sess.ID)
				if c.g.metrics != nil {
					c.g.metrics.RecordHeartbeatTimeout()
				}
				c.shutdown(protocol.CloseSessionTimeout, "heartbeat timeout")
				return
			}
		}
	}
}

// writeLoop drains the session's outbound queue onto the socket. The
// queue decouples the dispatcher from slow sockets; only this goroutine
// and direct control writes touch the wire, serialized by writeMu.
func (c *conn) writeLoop(out <-chan []byte) {
	defer c.g.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-out:
			if !ok {
				// Queue closed by the shutdown drain: everything buffered
				// has been written, so the goodbye goes out after the
				// final frames, not instead of them.
				c.shutdown(websocket.CloseGoingAway, "server shutting down")
				return
			}
			if err := c.writeFrame(frame); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (c *conn) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// closeSocket is handed to the session as the capability to drop this
// connection (slow client, duplicate handshake). The session itself
// stays resumable.
func (c *conn) closeSocket() {
	c.shutdown(protocol.CloseSessionTimeout, "connection not responsive")
}

// terminate ends both the socket and the session: non-resumable errors
// (protocol violations) must not leave a session behind that a client
// could resume into.
func (c *conn) terminate(code int, reason string) {
	c.shutdown(code, reason)
	if c.sess != nil {
		c.sess.Expire()
		c.g.registry.Unregister(c.sess.ID)
	}
}

// shutdown sends a close frame with the given code and closes the socket.
// Safe to call from any goroutine, once wins.
func (c *conn) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
		close(c.done)
	})
}

func (c *conn) countFrame(op int) {
	if c.g.metrics != nil {
		c.g.metrics.RecordFrameReceived(opName(op))
	}
}

func opName(op int) string {
	switch op {
	case protocol.OpDispatch:
		return "DISPATCH"
	case protocol.OpHeartbeat:
		return "HEARTBEAT"
	case protocol.OpIdentify:
		return "IDENTIFY"
	case protocol.OpHeartbeatAck:
		return "HEARTBEAT_ACK"
	case protocol.OpResume:
		return "RESUME"
	case protocol.OpReconnect:
		return "RECONNECT"
	case protocol.OpInvalidSession:
		return "INVALID_SESSION"
	case protocol.OpHello:
		return "HELLO"
	default:
		return strconv.Itoa(op)
	}
}
