package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/aeolun/surge/pkg/protocol"
)

// SessionState tracks where a session is in its lifecycle.
type SessionState int

const (
	// StateHandshaking: session created at Identify, READY not yet sent
	StateHandshaking SessionState = iota
	// StateReady: live socket attached, events flowing
	StateReady
	// StateDisconnectedResumable: socket lost, retained for the resume window
	StateDisconnectedResumable
	// StateExpired: resume window elapsed, pending purge
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDisconnectedResumable:
		return "disconnected-resumable"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

var (
	ErrSessionState = errors.New("session not in a resumable state")
	ErrQueueFull    = errors.New("outbound queue full during replay")
)

// Session is the per-connection record: identity, sequence counter,
// subscribed scopes, heartbeat bookkeeping, outbound delivery queue and
// the resume buffer. The Registry owns every Session exclusively; the
// connection handler holds a non-owning reference plus the capability to
// push frames while a socket is attached.
type Session struct {
	ID     string
	UserID string

	mu             sync.RWMutex
	state          SessionState
	seq            int64 // last assigned sequence, -1 before READY
	scopes         map[string]struct{}
	lastHeartbeat  time.Time
	disconnectedAt time.Time
	outbound       chan []byte
	queueSize      int
	buffer         *ResumeBuffer
	closeConn      func() // closes the attached socket, nil while detached
}

// NewSession creates a session in Handshaking state. The sequence counter
// starts before zero so the READY dispatch itself is stamped 0.
func NewSession(id, userID string, scopes []string, queueSize int, buffer *ResumeBuffer) *Session {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, sc := range scopes {
		scopeSet[sc] = struct{}{}
	}
	return &Session{
		ID:            id,
		UserID:        userID,
		state:         StateHandshaking,
		seq:           -1,
		scopes:        scopeSet,
		lastHeartbeat: time.Now(),
		queueSize:     queueSize,
		buffer:        buffer,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Seq returns the last assigned sequence number.
func (s *Session) Seq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// ScopeList returns a snapshot of the session's scopes.
func (s *Session) ScopeList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scopes))
	for sc := range s.scopes {
		out = append(out, sc)
	}
	return out
}

// setScopes replaces the scope set. Only the Registry calls this, so its
// reverse indices stay consistent with the session.
func (s *Session) setScopes(scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = make(map[string]struct{}, len(scopes))
	for _, sc := range scopes {
		s.scopes[sc] = struct{}{}
	}
}

// Heartbeat refreshes the heartbeat deadline.
func (s *Session) Heartbeat(now time.Time) {
	s.mu.Lock()
	s.lastHeartbeat = now
	s.mu.Unlock()
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

// DisconnectedAt returns when the session lost its socket. Zero while a
// socket is attached.
func (s *Session) DisconnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disconnectedAt
}

// assignLocked stamps the next sequence number on a dispatch frame and
// records it in the resume buffer. Caller holds s.mu.
func (s *Session) assignLocked(eventType string, payload json.RawMessage) ([]byte, error) {
	frame, err := protocol.EncodeDispatch(eventType, s.seq+1, payload)
	if err != nil {
		return nil, err
	}
	s.seq++
	s.buffer.Append(s.seq, frame)
	return frame, nil
}

// Ready attaches the first socket, stamps the READY dispatch (sequence 0)
// and transitions to Ready. It returns the READY frame to write and the
// outbound queue the socket's writer must drain.
func (s *Session) Ready(closeFn func()) ([]byte, <-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateHandshaking {
		return nil, nil, ErrSessionState
	}

	payload, err := json.Marshal(protocol.ReadyPayload{SessionID: s.ID})
	if err != nil {
		return nil, nil, err
	}
	frame, err := s.assignLocked(protocol.EventReady, payload)
	if err != nil {
		return nil, nil, err
	}

	s.outbound = make(chan []byte, s.queueSize)
	s.closeConn = closeFn
	s.state = StateReady
	return frame, s.outbound, nil
}

// Resume attaches a new socket to a disconnected session. It returns the
// buffered frames with sequence > lastSeq in their original order,
// followed by a freshly stamped RESUMED dispatch, plus the new outbound
// queue. ErrReplayGap means the gap exceeds the buffer and the client must
// Identify fresh after a REST re-sync.
func (s *Session) Resume(lastSeq int64, closeFn func()) ([][]byte, <-chan []byte, error) {
	s.mu.Lock()

	if s.state != StateDisconnectedResumable && s.state != StateReady {
		s.mu.Unlock()
		return nil, nil, ErrSessionState
	}
	if lastSeq > s.seq {
		// Client claims a sequence this session never assigned.
		s.mu.Unlock()
		return nil, nil, ErrReplayGap
	}

	entries, err := s.buffer.ReplaySince(lastSeq)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}

	frames := make([][]byte, 0, len(entries)+1)
	for _, e := range entries {
		frames = append(frames, e.Frame)
	}
	resumed, err := s.assignLocked(protocol.EventResumed, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	frames = append(frames, resumed)

	// A duplicate handshake may race an existing socket; the new one wins.
	oldClose := s.closeConn
	s.outbound = make(chan []byte, s.queueSize)
	s.closeConn = closeFn
	s.disconnectedAt = time.Time{}
	s.lastHeartbeat = time.Now()
	s.state = StateReady
	out := s.outbound
	s.mu.Unlock()

	if oldClose != nil {
		oldClose()
	}
	return frames, out, nil
}

// Deliver routes one event to this session: assign the next sequence,
// record the frame for replay, and enqueue it when a live socket is
// attached. A Disconnected-Resumable session still buffers so a later
// resume can replay. dropped reports a Ready session whose queue is full;
// the caller must drop the connection rather than block the dispatcher.
func (s *Session) Deliver(eventType string, payload json.RawMessage) (enqueued, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady && s.state != StateDisconnectedResumable {
		return false, false
	}

	frame, err := s.assignLocked(eventType, payload)
	if err != nil {
		errorLog.Printf("Session %s: encode dispatch failed: %v", s.ID, err)
		return false, false
	}

	if s.state != StateReady || s.outbound == nil {
		return false, false
	}

	select {
	case s.outbound <- frame:
		return true, false
	default:
		return false, true
	}
}

// Enqueue pushes a pre-encoded frame onto the live outbound queue. Used
// for control frames (Reconnect during drain); returns false when no
// socket is attached or the queue is full.
func (s *Session) Enqueue(frame []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateReady || s.outbound == nil {
		return false
	}
	select {
	case s.outbound <- frame:
		return true
	default:
		return false
	}
}

// QueueLen returns the number of frames waiting on the outbound queue.
func (s *Session) QueueLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outbound == nil {
		return 0
	}
	return len(s.outbound)
}

// Detach releases the socket and parks the session for the resume window.
// owner is the outbound queue the detaching connection received at attach:
// a resume takeover swaps the queue out, so a stale owner means a newer
// socket already holds the session and the detach is a no-op. Idempotent;
// a session that already expired stays expired.
func (s *Session) Detach(owner <-chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady && s.state != StateHandshaking {
		return
	}
	if s.outbound != nil && s.outbound != owner {
		return
	}
	s.state = StateDisconnectedResumable
	s.disconnectedAt = time.Now()
	s.closeConn = nil
	s.outbound = nil
}

// CloseOutbound closes the live outbound queue so the attached writer can
// flush what is buffered and close the socket after the last frame is on
// the wire. Delivery afterwards buffers only. Used during shutdown drain.
func (s *Session) CloseOutbound() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outbound != nil {
		close(s.outbound)
		s.outbound = nil
	}
}

// Expire ends the session's life and discards its resume buffer.
func (s *Session) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateExpired
	s.closeConn = nil
	s.buffer.Discard()
}

// CloseConn closes the attached socket, if any. Safe to call from the
// dispatcher; the close runs outside the session lock.
func (s *Session) CloseConn() {
	s.mu.RLock()
	fn := s.closeConn
	s.mu.RUnlock()

	if fn != nil {
		fn()
	}
}
