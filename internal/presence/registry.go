// Package presence tracks which identities are reachable over live connections.
package presence

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

const shardCount = 16

// Event describes an identity crossing the online/offline boundary.
type Event struct {
	IdentityID string
	Online     bool
	At         time.Time
}

// Registry is the process-local source of truth for "is X online". It maps
// each identity to its set of live connection ids, sharded so that
// bookkeeping for one identity never contends with unrelated traffic.
//
// Presence state is process-local: a multi-instance deployment needs an
// external presence store behind this same surface.
type Registry struct {
	shards   [shardCount]*shard
	mu       sync.RWMutex
	onChange []func(Event)
	logger   *slog.Logger
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	conns    map[string]struct{}
	lastSeen time.Time
}

// NewRegistry creates an empty presence registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		logger: log.With(slog.String("component", "presence")),
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: map[string]*entry{}}
	}
	return r
}

// OnChange registers an observer for online/offline transitions. Observers
// run outside the shard lock, on the goroutine that caused the transition.
func (r *Registry) OnChange(fn func(Event)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Register adds a connection to the identity's set. The first connection for
// an identity emits a presence online event.
func (r *Registry) Register(identityID, connID string) {
	now := time.Now()
	s := r.shardFor(identityID)

	s.mu.Lock()
	e, ok := s.entries[identityID]
	if !ok {
		e = &entry{conns: map[string]struct{}{}}
		s.entries[identityID] = e
	}
	wasEmpty := len(e.conns) == 0
	e.conns[connID] = struct{}{}
	e.lastSeen = now
	s.mu.Unlock()

	if wasEmpty {
		r.logger.Debug("identity online", slog.String("user_id", identityID))
		r.emit(Event{IdentityID: identityID, Online: true, At: now})
	}
}

// Unregister removes a connection from the identity's set. Removing a
// connection that is not present is a no-op: the disconnect and
// heartbeat-timeout paths can race to clean up the same connection. The last
// connection leaving emits a presence offline event and stamps last-seen.
func (r *Registry) Unregister(identityID, connID string) {
	now := time.Now()
	s := r.shardFor(identityID)

	s.mu.Lock()
	e, ok := s.entries[identityID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, present := e.conns[connID]; !present {
		s.mu.Unlock()
		return
	}
	delete(e.conns, connID)
	e.lastSeen = now
	becameOffline := len(e.conns) == 0
	s.mu.Unlock()

	if becameOffline {
		r.logger.Debug("identity offline", slog.String("user_id", identityID))
		r.emit(Event{IdentityID: identityID, Online: false, At: now})
	}
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(identityID string) bool {
	s := r.shardFor(identityID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[identityID]
	return ok && len(e.conns) > 0
}

// LastSeen returns the identity's last presence transition time. The zero
// time means the identity has never connected.
func (r *Registry) LastSeen(identityID string) time.Time {
	s := r.shardFor(identityID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[identityID]; ok {
		return e.lastSeen
	}
	return time.Time{}
}

// OnlineCount returns the number of identities with live connections.
func (r *Registry) OnlineCount() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			if len(e.conns) > 0 {
				total++
			}
		}
		s.mu.RUnlock()
	}
	return total
}

func (r *Registry) emit(ev Event) {
	r.mu.RLock()
	observers := r.onChange
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (r *Registry) shardFor(identityID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identityID))
	return r.shards[h.Sum32()%shardCount]
}
