package proxy

import "github.com/nexsip/nexsip/sip"

// pickBest implements the response selection rules of RFC 3261 section 16.7
// step 6, applied across the set of final responses gathered from a Fork's
// branches. It assumes the caller has already forwarded any 2xx immediately
// (rule 10) -- pickBest is only consulted when no branch produced a 2xx.
// Ties within the same response class are broken by branch index so the
// result never depends on which branch happened to answer first.
func pickBest(finals []finalResult) *sip.Response {
	if len(finals) == 0 {
		return nil
	}

	// 6xx anywhere beats everything else and is returned as-is; among
	// several, the lowest branch index wins.
	if r, ok := lowestIndexWhere(finals, func(res *sip.Response) bool { return res.IsGlobalError() }); ok {
		return r.res
	}

	best := finals[0]
	for _, r := range finals[1:] {
		bc, rc := responseClass(best.res), responseClass(r.res)
		if rc < bc || (rc == bc && r.idx < best.idx) {
			best = r
		}
	}

	switch best.res.StatusCode() {
	case sip.StatusUnauthorized:
		return mergeChallenges(finals, best, sip.StatusUnauthorized, "WWW-Authenticate")
	case sip.StatusProxyAuthRequired:
		return mergeChallenges(finals, best, sip.StatusProxyAuthRequired, "Proxy-Authenticate")
	case sip.StatusServiceUnavailable:
		// 503 must not be forwarded upstream -- treat it like the branch
		// never answered and fall back to 500 if nothing better exists.
		return downgrade503(best.res)
	}

	return best.res
}

func lowestIndexWhere(finals []finalResult, match func(*sip.Response) bool) (finalResult, bool) {
	var (
		found finalResult
		ok    bool
	)
	for _, r := range finals {
		if !match(r.res) {
			continue
		}
		if !ok || r.idx < found.idx {
			found, ok = r, true
		}
	}
	return found, ok
}

// mergeChallenges concatenates the challenge headers of every final response
// that shares winner's status code onto a clone of winner, so the caller
// sees every realm it can authenticate against instead of just the one
// branch that happened to win the tie-break. RFC 3261 leaves aggregating
// 401/407 to the caller, but only if it actually receives every challenge.
func mergeChallenges(finals []finalResult, winner finalResult, status sip.StatusCode, headerName string) *sip.Response {
	clone := winner.res.Clone()
	seen := make(map[string]struct{})
	for _, h := range clone.GetHeaders(headerName) {
		seen[h.Value()] = struct{}{}
	}

	for _, r := range finals {
		if r.idx == winner.idx || r.res.StatusCode() != status {
			continue
		}
		for _, h := range r.res.GetHeaders(headerName) {
			if _, dup := seen[h.Value()]; dup {
				continue
			}
			seen[h.Value()] = struct{}{}
			clone.AppendHeader(sip.NewHeader(headerName, h.Value()))
		}
	}

	return clone
}

func responseClass(res *sip.Response) int {
	return int(res.StatusCode()) / 100
}

func downgrade503(res *sip.Response) *sip.Response {
	clone := res.Clone()
	clone.SetStatusCode(sip.StatusInternalServerError)
	clone.SetReason("Server Internal Error")
	return clone
}
