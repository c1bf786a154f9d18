package gateway

import "sync"

// Registry owns all live and recently-disconnected-but-resumable sessions.
// It maintains a reverse index from scope to interested sessions so that
// fan-out resolves in O(interested sessions), never by scanning every
// session. All mutations go through Register/Unregister/UpdateScopes,
// which serialize conflicting writes; dispatch reads see either the pre-
// or post-update index, never a torn one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byScope  map[string]map[string]*Session // scope -> sessionID -> session
	metrics  *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byScope:  make(map[string]map[string]*Session),
	}
}

// SetMetrics attaches metrics to the registry.
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Register adds a session and indexes it under its scopes. Idempotent on
// repeated calls with the same id (guards against duplicate handshake
// races).
func (r *Registry) Register(sess *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[sess.ID]; ok {
		r.mu.Unlock()
		return
	}
	r.sessions[sess.ID] = sess
	for _, scope := range sess.ScopeList() {
		r.indexLocked(scope, sess)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
		r.metrics.RecordSessionCreated()
	}
}

// Unregister removes a session and purges its index entries. Idempotent.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	for _, scope := range sess.ScopeList() {
		r.unindexLocked(scope, sessionID)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
	}
}

// Find returns a session by id.
func (r *Registry) Find(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// SessionsForScopes returns the union of sessions interested in any of the
// given scopes, deduplicated.
func (r *Registry) SessionsForScopes(scopes []string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*Session
	for _, scope := range scopes {
		for id, sess := range r.byScope[scope] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, sess)
		}
	}
	return out
}

// UpdateScopes replaces a session's scope set and rebuilds its index
// entries incrementally. No-op for unknown sessions.
func (r *Registry) UpdateScopes(sessionID string, scopes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for _, scope := range sess.ScopeList() {
		r.unindexLocked(scope, sessionID)
	}
	sess.setScopes(scopes)
	for _, scope := range scopes {
		r.indexLocked(scope, sess)
	}
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) indexLocked(scope string, sess *Session) {
	set, ok := r.byScope[scope]
	if !ok {
		set = make(map[string]*Session)
		r.byScope[scope] = set
	}
	set[sess.ID] = sess
}

func (r *Registry) unindexLocked(scope, sessionID string) {
	set, ok := r.byScope[scope]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byScope, scope)
	}
}
