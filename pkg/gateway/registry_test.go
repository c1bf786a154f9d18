package gateway

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestSession(id, userID string, scopes ...string) *Session {
	return NewSession(id, userID, scopes, 16, NewResumeBuffer(16, time.Minute))
}

func TestRegistryRegisterAndFind(t *testing.T) {
	r := NewRegistry()
	sess := newTestSession("sess-1", "u1", "channel:C")

	r.Register(sess)

	found, ok := r.Find("sess-1")
	if !ok {
		t.Fatal("Expected to find registered session")
	}
	if found.ID != "sess-1" {
		t.Errorf("Expected sess-1, got %s", found.ID)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Len())
	}
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	sess := newTestSession("sess-1", "u1", "channel:C")

	r.Register(sess)
	r.Register(sess)
	r.Register(sess)

	if r.Len() != 1 {
		t.Errorf("Expected 1 session after duplicate registers, got %d", r.Len())
	}
	if got := len(r.SessionsForScopes([]string{"channel:C"})); got != 1 {
		t.Errorf("Expected 1 session for scope, got %d", got)
	}
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	sess := newTestSession("sess-1", "u1", "channel:C")

	r.Register(sess)
	r.Unregister("sess-1")
	r.Unregister("sess-1")
	r.Unregister("never-existed")

	if r.Len() != 0 {
		t.Errorf("Expected 0 sessions, got %d", r.Len())
	}
	if got := len(r.SessionsForScopes([]string{"channel:C"})); got != 0 {
		t.Errorf("Expected scope index purged, got %d sessions", got)
	}
}

func TestRegistrySessionsForScopesUnion(t *testing.T) {
	r := NewRegistry()
	a := newTestSession("sess-a", "u1", "channel:C", "server:S")
	b := newTestSession("sess-b", "u2", "channel:C")
	c := newTestSession("sess-c", "u3", "channel:other")
	r.Register(a)
	r.Register(b)
	r.Register(c)

	// Union over both scopes; sess-a matches both but appears once
	got := r.SessionsForScopes([]string{"channel:C", "server:S"})
	if len(got) != 2 {
		t.Fatalf("Expected 2 sessions in union, got %d", len(got))
	}
	ids := map[string]bool{}
	for _, s := range got {
		ids[s.ID] = true
	}
	if !ids["sess-a"] || !ids["sess-b"] {
		t.Errorf("Expected sess-a and sess-b, got %v", ids)
	}
}

func TestRegistryUpdateScopes(t *testing.T) {
	r := NewRegistry()
	sess := newTestSession("sess-1", "u1", "channel:old")
	r.Register(sess)

	r.UpdateScopes("sess-1", []string{"channel:new"})

	if got := len(r.SessionsForScopes([]string{"channel:old"})); got != 0 {
		t.Errorf("Expected old scope index cleared, got %d", got)
	}
	if got := len(r.SessionsForScopes([]string{"channel:new"})); got != 1 {
		t.Errorf("Expected session under new scope, got %d", got)
	}

	// Unknown session is a no-op
	r.UpdateScopes("missing", []string{"channel:x"})
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sess-%d", i)
			sess := newTestSession(id, fmt.Sprintf("u%d", i), "channel:C")
			r.Register(sess)
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
		go func() {
			defer wg.Done()
			// Dispatch-style reads proceed concurrently with writes
			r.SessionsForScopes([]string{"channel:C"})
		}()
	}
	wg.Wait()

	if r.Len() != 25 {
		t.Errorf("Expected 25 sessions to remain, got %d", r.Len())
	}
}
