// Package callproc implements the per-Call-ID actor that serializes all
// state transitions -- transactions, dialogs, pending proxy forks -- for a
// single SIP Call-ID onto one goroutine.
package callproc

import (
	"sync"
	"time"

	"github.com/nexsip/nexsip/sip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLinger is how long an idle Proc waits with no pinned work before
// evicting itself from the Registry.
const DefaultLinger = 5 * time.Second

// Handler processes one inbound message on a Proc's own goroutine. It runs
// serialized with every other message dispatched to the same Call-ID.
type Handler func(p *Proc, msg sip.Message)

// Proc is the actor owning one Call-ID's worth of state. Inbound messages
// for that Call-ID are routed here and handled one at a time, in arrival
// order. Exec runs arbitrary work -- routing decisions, proxy forking,
// dialog mutation -- on the same goroutine, so a Call-ID's transactions,
// dialogs and pending forks are only ever touched from one place at a time.
type Proc struct {
	callID  string
	inbox   chan sip.Message
	exec    chan func()
	done    chan struct{}
	closeMu sync.Once

	handler Handler
	linger  time.Duration

	mu       sync.Mutex
	refs     int
	lastSeen time.Time
	pending  map[sip.ServerTransaction]*sip.Request

	registry *Registry
	log      zerolog.Logger
}

func newProc(callID string, registry *Registry, handler Handler, linger time.Duration) *Proc {
	if linger <= 0 {
		linger = DefaultLinger
	}
	p := &Proc{
		callID:   callID,
		inbox:    make(chan sip.Message, 64),
		exec:     make(chan func()),
		done:     make(chan struct{}),
		handler:  handler,
		linger:   linger,
		registry: registry,
		lastSeen: time.Now(),
		log:      log.Logger.With().Str("caller", "callproc").Str("call_id", callID).Logger(),
	}
	go p.run()
	return p
}

// CallID returns the Call-ID this actor owns.
func (p *Proc) CallID() string { return p.callID }

// Pin marks a live transaction, dialog, or fork context against this actor,
// preventing linger eviction until the matching Unpin.
func (p *Proc) Pin() {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
}

// Unpin releases a reference previously acquired with Pin.
func (p *Proc) Unpin() {
	p.mu.Lock()
	if p.refs > 0 {
		p.refs--
	}
	p.mu.Unlock()
}

func (p *Proc) refCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// Post delivers msg to the actor's inbox. It is a no-op once the actor has
// terminated.
func (p *Proc) Post(msg sip.Message) {
	select {
	case p.inbox <- msg:
	case <-p.done:
	}
}

// Done is closed once the actor has evicted itself from the Registry.
func (p *Proc) Done() <-chan struct{} { return p.done }

// Exec runs fn on the actor's own goroutine, serialized with every message
// delivered through Post and every other Exec call for this Call-ID, and
// blocks until fn returns. Callers use this for routing decisions and proxy
// forking so that a Call-ID's transactions, dialogs and pending branches are
// only ever mutated from one goroutine. It returns false if the actor has
// already terminated and fn did not run.
func (p *Proc) Exec(fn func()) bool {
	result := make(chan struct{})
	job := func() {
		defer close(result)
		fn()
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.exec <- job:
	case <-p.done:
		return false
	}
	select {
	case <-result:
		return true
	case <-p.done:
		return false
	}
}

// TrackInviteTx registers tx as a pending INVITE server transaction on this
// actor so that Terminate can send a final response to it before the actor
// is evicted, instead of leaving the peer waiting on a transaction whose
// owning Call-ID state just disappeared. Tracking is dropped automatically
// once tx finishes on its own.
func (p *Proc) TrackInviteTx(req *sip.Request, tx sip.ServerTransaction) {
	p.mu.Lock()
	if p.pending == nil {
		p.pending = make(map[sip.ServerTransaction]*sip.Request)
	}
	p.pending[tx] = req
	p.mu.Unlock()

	go func() {
		select {
		case <-tx.Done():
		case <-p.done:
			return
		}
		p.mu.Lock()
		delete(p.pending, tx)
		p.mu.Unlock()
	}()
}

// Terminate forces immediate eviction, draining no further messages. Any
// INVITE server transaction still tracked as pending is sent a 487 Request
// Terminated first. Callers that hold pinned refs should Unpin before
// calling this.
func (p *Proc) Terminate() {
	p.closeMu.Do(func() {
		p.mu.Lock()
		pending := p.pending
		p.pending = nil
		p.mu.Unlock()

		for tx, req := range pending {
			res := sip.NewResponseFromRequest(req, sip.StatusRequestTerminated, "Request Terminated", nil)
			if err := tx.Respond(res); err != nil {
				p.log.Error().Err(err).Msg("failed to send 487 on terminate")
			}
		}

		p.registry.evict(p.callID, p)
		close(p.done)
	})
}

func (p *Proc) resetLinger(timer *time.Timer) {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(p.linger)
}

func (p *Proc) run() {
	timer := time.NewTimer(p.linger)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-p.inbox:
			if !ok {
				return
			}
			if p.handler != nil {
				p.handler(p, msg)
			}
			p.resetLinger(timer)
		case job, ok := <-p.exec:
			if !ok {
				return
			}
			job()
			p.resetLinger(timer)
		case <-p.done:
			return
		case <-timer.C:
			if p.refCount() == 0 {
				p.log.Debug().Msg("call proc linger expired, evicting")
				p.Terminate()
				return
			}
			timer.Reset(p.linger)
		}
	}
}
