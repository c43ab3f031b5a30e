// Package router implements the UAS/proxy/reject routing decision described
// by the sip_route application callback: given a request that arrived with
// no matching transaction, decide whether to consume it locally, proxy it
// (with or without forking), or reply immediately.
package router

import (
	"github.com/nexsip/nexsip/callproc"
	"github.com/nexsip/nexsip/sip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RouteFunc is the application's sip_route callback. scheme/user/domain are
// decomposed from the request's Request-URI for convenience; call is the
// CallProc actor currently owning req's Call-ID.
type RouteFunc func(scheme sip.Scheme, user, domain string, req *sip.Request, call *callproc.Proc) Verdict

// Router invokes the application's routing callback for unmatched requests
// and normalizes its result into a Verdict, converting a missing verdict or
// a callback panic into a 500 per the Application error-handling row.
type Router struct {
	route RouteFunc
	log   zerolog.Logger
}

// New creates a Router backed by route.
func New(route RouteFunc) *Router {
	return &Router{
		route: route,
		log:   log.Logger.With().Str("caller", "router").Logger(),
	}
}

// Route decides the disposition of req, which arrived with no matching
// transaction, on behalf of call.
func (r *Router) Route(req *sip.Request, call *callproc.Proc) (v Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("sip_route callback panicked")
			v = ReplyStateless{Response: sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Server Internal Error", nil)}
		}
	}()

	ru := req.Recipient
	v = r.route(ru.Scheme, ru.User, ru.Host, req, call)
	if v == nil {
		r.log.Warn().Msg("sip_route returned an unrecognized verdict")
		return ReplyStateless{Response: sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Server Internal Error", nil)}
	}
	return v
}
