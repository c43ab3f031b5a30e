package callproc

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/nexsip/nexsip/sip"
)

// shardCount must stay a power of two -- Registry uses a bitwise AND instead
// of a modulo to pick a shard.
const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	procs map[string]*Proc
}

// Registry is the sharded, Call-ID-keyed lookup table of live Proc actors,
// sharded by fnv32a(call-id) to bound per-shard lock contention on the
// read-mostly dispatch path.
type Registry struct {
	shards  [shardCount]*shard
	handler Handler
	linger  time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLinger overrides the default 5s linger duration used for spawned Procs.
func WithLinger(d time.Duration) Option {
	return func(r *Registry) { r.linger = d }
}

// NewRegistry creates a Registry that dispatches inbound messages to handler.
func NewRegistry(handler Handler, opts ...Option) *Registry {
	r := &Registry{handler: handler, linger: DefaultLinger}
	for i := range r.shards {
		r.shards[i] = &shard{procs: make(map[string]*Proc)}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func hashKey(callID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return h.Sum32()
}

func (r *Registry) shardFor(callID string) *shard {
	return r.shards[hashKey(callID)&(shardCount-1)]
}

// Get returns the live Proc for callID, if one exists.
func (r *Registry) Get(callID string) (*Proc, bool) {
	s := r.shardFor(callID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procs[callID]
	return p, ok
}

// Dispatch routes msg to the Proc owning its Call-ID, spawning a new Proc on
// first sight of a request carrying an unseen Call-ID. A response bearing a
// Call-ID with no live Proc is dropped -- callproc only spawns to receive a
// request, per the spawn-on-unseen-request contract.
func (r *Registry) Dispatch(msg sip.Message) (*Proc, bool) {
	callID := msg.CallID()
	if callID == nil {
		return nil, false
	}
	key := string(*callID)

	s := r.shardFor(key)
	s.mu.Lock()
	p, ok := s.procs[key]
	if !ok {
		if _, isReq := msg.(*sip.Request); !isReq {
			s.mu.Unlock()
			return nil, false
		}
		p = newProc(key, r, r.handler, r.linger)
		s.procs[key] = p
	}
	s.mu.Unlock()

	p.Post(msg)
	return p, true
}

func (r *Registry) evict(callID string, p *Proc) {
	s := r.shardFor(callID)
	s.mu.Lock()
	if cur, ok := s.procs[callID]; ok && cur == p {
		delete(s.procs, callID)
	}
	s.mu.Unlock()
}

// Count returns the number of live Procs across all shards.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.procs)
		s.mu.RUnlock()
	}
	return n
}
