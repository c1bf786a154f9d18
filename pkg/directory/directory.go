// Package directory implements the directory-service collaborator: the
// set of scopes (servers, channels, DMs) a user may currently see. The
// REST API maintains per-user membership sets in Redis; the gateway only
// reads them.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis resolves scope membership from the sets the REST API maintains.
// Key layout: <prefix><userID> is a set of scope identifiers, e.g.
// "channel:42" or "server:7".
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects a directory client.
func NewRedis(addr string, db int, prefix string) *Redis {
	return &Redis{
		rdb:    redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix: prefix,
	}
}

// ScopesFor returns the user's current scope set.
func (d *Redis) ScopesFor(ctx context.Context, userID string) ([]string, error) {
	scopes, err := d.rdb.SMembers(ctx, d.prefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("directory lookup for %s: %w", userID, err)
	}
	return scopes, nil
}

// Close releases the Redis connection.
func (d *Redis) Close() error {
	return d.rdb.Close()
}

// Static is an in-memory directory for tests and single-node setups.
type Static struct {
	mu     sync.RWMutex
	scopes map[string][]string
}

// NewStatic creates an empty in-memory directory.
func NewStatic() *Static {
	return &Static{scopes: make(map[string][]string)}
}

// Grant replaces a user's scope set.
func (s *Static) Grant(userID string, scopes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[userID] = append([]string(nil), scopes...)
}

// ScopesFor returns the user's scope set; unknown users have none.
func (s *Static) ScopesFor(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.scopes[userID]...), nil
}
