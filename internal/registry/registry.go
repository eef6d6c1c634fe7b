package registry

import (
	"hash/fnv"
	"sync"
)

// Conn is a live connection as the registry sees it. *ws.Client implements
// it; the registry never touches transport details.
type Conn interface {
	User() string
	TrySend(b []byte) bool
	Close() error
}

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]struct{}
}

// Registry is the process-wide table of live connections, sharded by user id
// so concurrent lifecycles on different users never contend on one lock.
// A user may hold several concurrent connections (multiple tabs).
type Registry struct {
	shards [shardCount]*shard
}

func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string]map[Conn]struct{})}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

func (r *Registry) Register(c Conn) {
	s := r.shardFor(c.User())
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.conns[c.User()]
	if !ok {
		set = make(map[Conn]struct{})
		s.conns[c.User()] = set
	}
	set[c] = struct{}{}
}

// Unregister removes the connection. Idempotent: a double close is a no-op.
func (r *Registry) Unregister(c Conn) {
	s := r.shardFor(c.User())
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.conns[c.User()]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.conns, c.User())
	}
}

// Lookup returns the user's live connections. An unknown user yields an
// empty slice, meaning "receiver offline", never an error.
func (r *Registry) Lookup(userID string) []Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.conns[userID]
	out := make([]Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
