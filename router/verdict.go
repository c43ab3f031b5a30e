package router

import "github.com/nexsip/nexsip/sip"

// Verdict is the closed set of outcomes a RouteFunc may return for a request
// arriving with no matching transaction. It is a sum type (interface with an
// unexported marker method) rather than a stringly-typed value so that
// unhandled verdicts are caught at compile time, not at runtime.
type Verdict interface {
	isVerdict()
}

// Process consumes the request locally through the UAS handler chain.
type Process struct{}

func (Process) isVerdict() {}

// ProxyTo statefully proxies to the given target URIs, forking if more than
// one is given.
type ProxyTo struct {
	Targets []*sip.Uri
	Options Options
}

func (ProxyTo) isVerdict() {}

// ProxyRURI statefully proxies using the request's own Request-URI.
type ProxyRURI struct {
	Options Options
}

func (ProxyRURI) isVerdict() {}

// Reply responds immediately, within the server transaction created for the
// inbound request.
type Reply struct {
	Response *sip.Response
}

func (Reply) isVerdict() {}

// ReplyStateless responds without creating server transaction state.
type ReplyStateless struct {
	Response *sip.Response
}

func (ReplyStateless) isVerdict() {}
