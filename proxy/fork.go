// Package proxy implements stateful request forwarding: given a ProxyTo or
// ProxyRURI verdict from the router, it spawns one client transaction per
// target branch, aggregates the responses per RFC 3261 section 16.7, and
// relays CANCEL/ACK between the inbound server transaction and the outbound
// branches.
package proxy

import (
	"sync"

	"github.com/nexsip/nexsip/metrics"
	"github.com/nexsip/nexsip/router"
	"github.com/nexsip/nexsip/sip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxForwards is used when an inbound request carries none.
const DefaultMaxForwards = 70

// TransactionFunc starts a client transaction for req and returns it. It is
// satisfied by a closure over *sipgo.Client.TransactionRequest -- proxy
// itself never imports the root package to avoid an import cycle.
type TransactionFunc func(req *sip.Request) (sip.ClientTransaction, error)

// WriteFunc sends req directly to the transport layer, bypassing transaction
// state. Used to relay a 2xx ACK, which rides its own transaction.
type WriteFunc func(req *sip.Request) error

// branch is one outbound client transaction spawned for a fork target. idx
// is the branch's position in the target list, used to break ties
// deterministically when more than one branch returns a final response of
// the same class.
type branch struct {
	idx    int
	target *sip.Uri
	tx     sip.ClientTransaction
	req    *sip.Request
}

// Fork owns every client-side branch spawned to service one inbound server
// transaction, and forwards the aggregated result back into it.
type Fork struct {
	transact TransactionFunc
	write    WriteFunc
	srvTx    sip.ServerTransaction
	original *sip.Request
	recRoute *sip.Uri

	self *sip.Uri

	mu           sync.Mutex
	branches     []*branch
	won          bool
	winnerTarget *sip.Uri

	log zerolog.Logger
}

// Option configures a Fork at construction time.
type Option func(*Fork)

// WithRecordRoute makes the fork insert a Record-Route header carrying self
// into every branch request, keeping the proxy on the dialog's routing path.
func WithRecordRoute(self *sip.Uri) Option {
	return func(f *Fork) { f.recRoute = self }
}

// WithSelf sets the address the fork advertises in the fresh Via header it
// prepends to every branch it forwards. It is independent of Record-Route:
// a proxy adds its own Via on every request it forwards, whether or not it
// stays on the dialog's signaling path.
func WithSelf(self *sip.Uri) Option {
	return func(f *Fork) { f.self = self }
}

// NewFork prepares a Fork for req, which arrived on srvTx.
func NewFork(transact TransactionFunc, write WriteFunc, srvTx sip.ServerTransaction, req *sip.Request, opts ...Option) *Fork {
	f := &Fork{
		transact: transact,
		write:    write,
		srvTx:    srvTx,
		original: req,
		log:      log.Logger.With().Str("caller", "proxy").Str("call_id", req.CallID().Value()).Logger(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Start decrements Max-Forwards, checks the loop fingerprint and forwards req
// to each target as a fresh branch. If checks fail it returns a response that
// should be sent back immediately instead of forking.
func (f *Fork) Start(targets []*sip.Uri, opts router.Options, seen *SeenFingerprints) *sip.Response {
	if resp := f.checkMaxForwards(); resp != nil {
		return resp
	}
	if resp := f.checkLoop(seen); resp != nil {
		return resp
	}

	for i, target := range targets {
		req := f.buildBranchRequest(target, opts)
		metrics.ProxyForksTotal.WithLabelValues("proxy_to").Inc()

		tx, err := f.transact(req)
		if err != nil {
			f.log.Error().Err(err).Str("target", target.String()).Msg("failed to start branch transaction")
			continue
		}

		f.mu.Lock()
		f.branches = append(f.branches, &branch{idx: i, target: target, tx: tx, req: req})
		f.mu.Unlock()
	}

	f.mu.Lock()
	n := len(f.branches)
	f.mu.Unlock()
	if n == 0 {
		return sip.NewResponseFromRequest(f.original, sip.StatusInternalServerError, "Server Internal Error", nil)
	}
	return nil
}

func (f *Fork) checkMaxForwards() *sip.Response {
	mf := f.original.MaxForwards()
	if mf == nil {
		return nil
	}
	if mf.Val() == 0 {
		metrics.ProxyMaxForwardsExhaustedTotal.Inc()
		return sip.NewResponseFromRequest(f.original, sip.StatusTooManyHops, "Too Many Hops", nil)
	}
	return nil
}

// SeenFingerprints is the loop-detection cache a caller shares across every
// Fork it creates, so a request forwarded back to this proxy is recognized.
type SeenFingerprints struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSeenFingerprints creates an empty loop-detection cache.
func NewSeenFingerprints() *SeenFingerprints {
	return &SeenFingerprints{seen: make(map[string]struct{})}
}

func (s *SeenFingerprints) checkAndAdd(fp string) (loop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[fp]; ok {
		return true
	}
	s.seen[fp] = struct{}{}
	return false
}

func (f *Fork) checkLoop(seen *SeenFingerprints) *sip.Response {
	if seen == nil {
		return nil
	}
	fp := fingerprint(f.original)
	if seen.checkAndAdd(fp) {
		metrics.ProxyLoopDetectedTotal.Inc()
		return sip.NewResponseFromRequest(f.original, sip.StatusLoopDetected, "Loop Detected", nil)
	}
	return nil
}

// addVia prepends a fresh Via header carrying this proxy's own address and a
// newly generated branch parameter, per RFC 3261 section 16.6 step 8. Every
// request arriving at a proxy already carries the previous hop's Via, so a
// forwarded or forked branch must always get its own on top of that one --
// without it, concurrent branches to different targets share the inbound
// UAC's branch parameter and a response can never be routed back through
// this proxy.
func (f *Fork) addVia(req *sip.Request) {
	if f.self == nil {
		f.log.Warn().Msg("fork has no self address configured, forwarding without adding a Via")
		return
	}
	via := &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       req.Transport(),
		Host:            f.self.Host,
		Port:            f.self.Port,
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", sip.GenerateBranchN(16))
	req.PrependHeader(via)
}

func (f *Fork) buildBranchRequest(target *sip.Uri, opts router.Options) *sip.Request {
	req := f.original.Clone()
	req.Recipient = target

	f.addVia(req)

	if mf := req.MaxForwards(); mf != nil {
		mf.Dec()
	} else {
		v := sip.MaxForwardsHeader(DefaultMaxForwards - 1)
		req.AppendHeader(&v)
	}
	if opts.MaxForwardsOverride != nil {
		v := sip.MaxForwardsHeader(*opts.MaxForwardsOverride)
		req.RemoveHeader("Max-Forwards")
		req.AppendHeader(&v)
	}

	if opts.RemoveRoutes {
		req.RemoveHeader("Route")
	}
	for i := len(opts.Path) - 1; i >= 0; i-- {
		req.PrependHeader(&sip.RouteHeader{Address: *opts.Path[i]})
	}

	if opts.RecordRoute && f.recRoute != nil {
		req.AppendHeaderAfter(&sip.RecordRouteHeader{Address: *f.recRoute}, "Via")
	}

	if opts.InsertHeader != nil {
		req.AppendHeader(sip.NewHeader(opts.InsertHeader.Name, opts.InsertHeader.Value))
	}

	return req
}
