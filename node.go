package sipgo

import (
	"context"

	"github.com/nexsip/nexsip/callproc"
	"github.com/nexsip/nexsip/proxy"
	"github.com/nexsip/nexsip/router"
	"github.com/nexsip/nexsip/sip"
)

// Node composes a Server and Client with the call-actor registry, request
// router and forking proxy engine, wiring sip_route decisions into actual
// request handling. Applications that only need a UAS or a UAC can keep
// using Server/Client directly; Node is for building a routing/proxying
// element in front of them.
type Node struct {
	*Server
	client *Client

	calls  *callproc.Registry
	router *router.Router
	engine *proxy.Engine

	processHandlers map[sip.RequestMethod]RequestHandler
}

// NewNode wires srv and client together behind route. self, if non-nil, is
// advertised as the Record-Route target for verdicts that ask for it.
func NewNode(srv *Server, client *Client, route router.RouteFunc, self *sip.Uri, opts ...callproc.Option) *Node {
	n := &Node{
		Server:          srv,
		client:          client,
		router:          router.New(route),
		processHandlers: make(map[sip.RequestMethod]RequestHandler),
	}
	n.calls = callproc.NewRegistry(n.deliver, opts...)
	n.engine = proxy.NewEngine(n.transact, n.write, self)

	for _, method := range routedMethods {
		srv.OnRequest(method, n.handle)
	}
	return n
}

var routedMethods = []sip.RequestMethod{
	sip.INVITE, sip.ACK, sip.CANCEL, sip.BYE, sip.OPTIONS,
	sip.SUBSCRIBE, sip.NOTIFY, sip.REFER, sip.INFO, sip.MESSAGE,
	sip.PRACK, sip.UPDATE, sip.PUBLISH,
}

// deliver is the callproc.Handler run on each call's actor goroutine. It is
// only reached through Post, which Dispatch uses purely to spawn a Proc on
// first sight of a Call-ID; handle drives the real routing work through
// Exec instead, so this has nothing left to do. The transaction layer
// already runs each inbound message on its own goroutine (see
// TransactionLayer.handleMessage), so blocking that goroutine inside Exec
// for the duration of a proxied INVITE's forking does not stall unrelated
// messages such as an in-dialog CANCEL for a different Call-ID.
func (n *Node) deliver(p *callproc.Proc, msg sip.Message) {}

// OnProcess registers the handler invoked when the router returns Process
// for method -- the local UAS logic, as opposed to proxying or a canned
// reply. It plays the same role Server.OnInvite/OnBye play for a plain
// Server, but is looked up separately since Node owns method dispatch once
// NewNode has wired routedMethods onto the underlying Server.
func (n *Node) OnProcess(method sip.RequestMethod, handler RequestHandler) {
	n.processHandlers[method] = handler
}

// handle is invoked once per inbound routed request, already on its own
// goroutine courtesy of the transaction layer. It dispatches to the
// request's Proc and blocks until the routing decision and any resulting
// proxy work have run to completion on that actor's goroutine, so state
// belonging to this Call-ID -- transactions, dialogs, pending forks -- is
// never mutated concurrently from two requests racing on the same call.
func (n *Node) handle(req *sip.Request, tx sip.ServerTransaction) {
	call, _ := n.calls.Dispatch(req)

	route := func() {
		if req.Method == sip.INVITE {
			call.TrackInviteTx(req, tx)
		}
		n.route(req, tx, call)
	}

	if call != nil {
		call.Exec(route)
		return
	}
	route()
}

func (n *Node) route(req *sip.Request, tx sip.ServerTransaction, call *callproc.Proc) {
	v := n.router.Route(req, call)
	switch verdict := v.(type) {
	case router.Process:
		handler, ok := n.processHandlers[req.Method]
		if !ok {
			n.defaultUnhandledHandler(req, tx)
			return
		}
		handler(req, tx)

	case router.ProxyTo, router.ProxyRURI:
		n.engine.Handle(context.Background(), verdict, req, tx, call)

	case router.Reply:
		if err := tx.Respond(verdict.Response); err != nil {
			n.log.Error().Err(err).Msg("failed to send routed reply")
		}

	case router.ReplyStateless:
		if err := n.WriteResponse(verdict.Response); err != nil {
			n.log.Error().Err(err).Msg("failed to send stateless routed reply")
		}
	}
}

func (n *Node) transact(req *sip.Request) (sip.ClientTransaction, error) {
	return n.client.TransactionRequest(context.Background(), req)
}

func (n *Node) write(req *sip.Request) error {
	return n.client.WriteRequest(req)
}
