package router

import "github.com/nexsip/nexsip/sip"

// InsertHeader is a single header name/value pair to add to a proxied
// request.
type InsertHeader struct {
	Name  string
	Value string
}

// Options is the closed set of proxy behaviors a ProxyTo/ProxyRURI verdict
// may request. It is a struct, not a map, so unknown options are a compile
// error rather than a silently ignored key.
type Options struct {
	// InsertHeader, if non-nil, is appended to the outgoing request.
	InsertHeader *InsertHeader
	// RecordRoute inserts a Record-Route header pointing back at this proxy.
	RecordRoute bool
	// FollowRedirects is carried on the verdict but not read by the proxy
	// package: a 3xx from a branch is aggregated like any other non-2xx
	// final response, and its Contacts are not tried.
	FollowRedirects bool
	// Outbound is carried on the verdict but not read by the proxy package;
	// no RFC 5626 outbound handling is applied to the forwarded request.
	Outbound bool
	// Path is prepended as Route headers ahead of any existing route set.
	Path []*sip.Uri
	// RemoveRoutes strips the topmost Route header before forwarding.
	RemoveRoutes bool
	// AddContact is carried on the verdict but not read by the proxy
	// package; the forwarded request's Contact header is not rewritten.
	AddContact bool
	// MaxForwardsOverride, if non-nil, replaces the request's Max-Forwards
	// value instead of decrementing it.
	MaxForwardsOverride *uint32
}
