package proxy

import (
	"context"

	"github.com/nexsip/nexsip/callproc"
	"github.com/nexsip/nexsip/router"
	"github.com/nexsip/nexsip/sip"
)

// Engine dispatches ProxyTo/ProxyRURI verdicts from a router.Router onto
// Forks, sharing one loop-detection cache across every request it handles.
type Engine struct {
	transact TransactionFunc
	write    WriteFunc
	self     *sip.Uri
	seen     *SeenFingerprints
}

// NewEngine builds an Engine. self, if non-nil, is used as the Record-Route
// target when a verdict's Options.RecordRoute is set.
func NewEngine(transact TransactionFunc, write WriteFunc, self *sip.Uri) *Engine {
	return &Engine{
		transact: transact,
		write:    write,
		self:     self,
		seen:     NewSeenFingerprints(),
	}
}

// Handle forwards req according to v, using call only to Pin/Unpin the
// owning actor for the request's lifetime -- proxying blocks on branch
// responses and must not let the call's Proc linger-evict underneath it.
func (e *Engine) Handle(ctx context.Context, v router.Verdict, req *sip.Request, srvTx sip.ServerTransaction, call *callproc.Proc) {
	var targets []*sip.Uri
	var opts router.Options

	switch verdict := v.(type) {
	case router.ProxyTo:
		targets = verdict.Targets
		opts = verdict.Options
	case router.ProxyRURI:
		targets = []*sip.Uri{req.Recipient}
		opts = verdict.Options
	default:
		return
	}

	if call != nil {
		call.Pin()
		defer call.Unpin()
	}

	forkOpts := []Option{}
	if e.self != nil {
		forkOpts = append(forkOpts, WithSelf(e.self))
	}
	if opts.RecordRoute && e.self != nil {
		forkOpts = append(forkOpts, WithRecordRoute(e.self))
	}

	f := NewFork(e.transact, e.write, srvTx, req, forkOpts...)
	if resp := f.Start(targets, opts, e.seen); resp != nil {
		if err := srvTx.Respond(resp); err != nil {
			return
		}
		return
	}

	f.Run(ctx)
}
