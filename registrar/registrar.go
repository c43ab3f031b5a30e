// Package registrar implements an AOR-to-contact binding store per RFC 3261
// section 10, with RFC 5627 GRUU minting. Bindings live in a sharded
// in-memory map keyed by fnv32a(aor), matching the sharding used by
// callproc.Registry; a Backend port can be given to persist bindings.
package registrar

import (
	"crypto/sha1"
	"encoding/hex"
	"hash/fnv"
	"sync"
	"time"

	"github.com/nexsip/nexsip/metrics"
	"github.com/nexsip/nexsip/sip"
)

const (
	// DefaultExpires is used when neither the Contact nor the request carry
	// an Expires value.
	DefaultExpires = 3600 * time.Second
	// SweepInterval is how often the periodic expiry sweep runs.
	SweepInterval = 30 * time.Second

	shardCount = 32
)

// Contact is one bound URI under an AOR.
type Contact struct {
	AOR        string
	URI        sip.Uri
	CallID     string
	CSeq       uint32
	InstanceID string
	RegID      string
	ExpiresAt  time.Time

	PubGRUU  sip.Uri
	TempGRUU sip.Uri
}

func (c *Contact) expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

type binding struct {
	instanceID string
	regID      string
	contact    *Contact
}

type shard struct {
	mu    sync.RWMutex
	aors  map[string][]*binding
	gruus map[string]*Contact
}

// Backend is the persistence port an operator may plug in (e.g.
// registrar/sqlitebackend). The in-memory store is authoritative; a Backend
// is only ever consulted to survive a process restart.
type Backend interface {
	Save(c *Contact) error
	Delete(aor, instanceID, regID string) error
	Load() ([]*Contact, error)
}

// Registrar is a sharded AOR -> []Contact store with GRUU support.
type Registrar struct {
	shards  [shardCount]*shard
	backend Backend
	realm   string

	stop chan struct{}
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithBackend attaches a persistence Backend, loaded once at construction.
func WithBackend(b Backend) Option {
	return func(r *Registrar) { r.backend = b }
}

// WithRealm sets the domain used to mint GRUU URIs when a contact's AOR
// itself carries no host (defensive default only; AOR host is normally
// used).
func WithRealm(realm string) Option {
	return func(r *Registrar) { r.realm = realm }
}

// New creates a Registrar and starts its periodic expiry sweep.
func New(opts ...Option) *Registrar {
	r := &Registrar{stop: make(chan struct{})}
	for i := range r.shards {
		r.shards[i] = &shard{aors: make(map[string][]*binding), gruus: make(map[string]*Contact)}
	}
	for _, o := range opts {
		o(r)
	}

	if r.backend != nil {
		if contacts, err := r.backend.Load(); err == nil {
			for _, c := range contacts {
				r.insert(c, c.InstanceID, c.RegID)
			}
		}
	}

	go r.sweepLoop()
	return r
}

// Close stops the periodic sweep.
func (r *Registrar) Close() { close(r.stop) }

func (r *Registrar) sweepLoop() {
	t := time.NewTicker(SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Registrar) sweep() {
	now := time.Now()
	for _, s := range r.shards {
		s.mu.Lock()
		for aor, bindings := range s.aors {
			kept := bindings[:0]
			for _, b := range bindings {
				if b.contact.expired(now) {
					delete(s.gruus, b.contact.PubGRUU.String())
					delete(s.gruus, b.contact.TempGRUU.String())
					if r.backend != nil {
						r.backend.Delete(aor, b.instanceID, b.regID)
					}
					continue
				}
				kept = append(kept, b)
			}
			if len(kept) == 0 {
				delete(s.aors, aor)
			} else {
				s.aors[aor] = kept
			}
		}
		s.mu.Unlock()
	}
}

func shardFor(shards *[shardCount]*shard, key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return shards[h.Sum32()&(shardCount-1)]
}

func instanceKey(instanceParam string) string {
	if instanceParam == "" {
		return ""
	}
	sum := sha1.Sum([]byte(instanceParam))
	return hex.EncodeToString(sum[:])
}

func pubGRUU(aorUser, aorDomain, instanceKey string) sip.Uri {
	sum := sha1.Sum([]byte(aorUser + "@" + aorDomain + ":" + instanceKey))
	params := sip.NewParams()
	params.Add("gr", hex.EncodeToString(sum[:]))
	return sip.Uri{
		Scheme:    sip.SCHEME_SIP,
		User:      aorUser,
		Host:      aorDomain,
		UriParams: params,
	}
}

func tempGRUU(aorDomain string) sip.Uri {
	params := sip.NewParams()
	params.Add("gr", "")
	return sip.Uri{
		Scheme:    sip.SCHEME_SIP,
		User:      sip.RandString(20),
		Host:      aorDomain,
		UriParams: params,
	}
}

// Find returns every live contact for aor, most recently registered first.
// Expired bindings are pruned as a side effect of the read.
func (r *Registrar) Find(aor string) []*Contact {
	s := shardFor(&r.shards, aor)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	bindings := s.aors[aor]
	live := make([]*Contact, 0, len(bindings))
	kept := bindings[:0]
	for _, b := range bindings {
		if b.contact.expired(now) {
			delete(s.gruus, b.contact.PubGRUU.String())
			delete(s.gruus, b.contact.TempGRUU.String())
			continue
		}
		kept = append(kept, b)
	}
	s.aors[aor] = kept
	for i := len(kept) - 1; i >= 0; i-- {
		live = append(live, kept[i].contact)
	}
	return live
}

// FindGRUU returns the contact currently bound to gruu, if any.
func (r *Registrar) FindGRUU(gruu string) (*Contact, bool) {
	for _, s := range r.shards {
		s.mu.RLock()
		c, ok := s.gruus[gruu]
		s.mu.RUnlock()
		if ok {
			return c, true
		}
	}
	return nil, false
}

// isGRUU reports whether uri matches a currently-bound GRUU anywhere in the
// registrar -- used to reject a REGISTER that tries to bind a GRUU as if it
// were an ordinary contact URI.
func (r *Registrar) isGRUU(uri sip.Uri) bool {
	_, ok := r.FindGRUU(uri.String())
	return ok
}

func (r *Registrar) insert(c *Contact, instanceID, regID string) {
	s := shardFor(&r.shards, c.AOR)
	s.mu.Lock()
	defer s.mu.Unlock()

	bindings := s.aors[c.AOR]
	replaced := false
	for i, b := range bindings {
		if b.instanceID == instanceID && b.regID == regID {
			delete(s.gruus, b.contact.PubGRUU.String())
			delete(s.gruus, b.contact.TempGRUU.String())
			bindings[i] = &binding{instanceID: instanceID, regID: regID, contact: c}
			replaced = true
			break
		}
	}
	if !replaced {
		bindings = append(bindings, &binding{instanceID: instanceID, regID: regID, contact: c})
	}
	s.aors[c.AOR] = bindings

	if c.PubGRUU.User != "" {
		s.gruus[c.PubGRUU.String()] = c
	}
	if c.TempGRUU.User != "" {
		s.gruus[c.TempGRUU.String()] = c
	}

	if r.backend != nil {
		r.backend.Save(c)
	}
}

func (r *Registrar) remove(aor, instanceID, regID string) {
	s := shardFor(&r.shards, aor)
	s.mu.Lock()
	defer s.mu.Unlock()

	bindings := s.aors[aor]
	kept := bindings[:0]
	for _, b := range bindings {
		if b.instanceID == instanceID && b.regID == regID {
			delete(s.gruus, b.contact.PubGRUU.String())
			delete(s.gruus, b.contact.TempGRUU.String())
			if r.backend != nil {
				r.backend.Delete(aor, instanceID, regID)
			}
			continue
		}
		kept = append(kept, b)
	}
	if len(kept) == 0 {
		delete(s.aors, aor)
	} else {
		s.aors[aor] = kept
	}
}

func (r *Registrar) recordOutcome(outcome string) {
	metrics.RegistrarBindingsTotal.WithLabelValues(outcome).Inc()
}
