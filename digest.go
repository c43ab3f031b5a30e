package sipgo

import (
	"context"
	"fmt"

	"github.com/nexsip/nexsip/sip"
	"github.com/icholy/digest"
)

// digestApplyChallenge computes the digest credential for a challenge found in
// challengeHeader on res, and appends respHeader (Authorization or
// Proxy-Authorization) to req with the computed value.
func digestApplyChallenge(req *sip.Request, res *sip.Response, opts digest.Options, challengeHeader, respHeader string) error {
	h := res.GetHeader(challengeHeader)
	if h == nil {
		return fmt.Errorf("no %s header in response", challengeHeader)
	}

	challenge, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return fmt.Errorf("parsing %s: %w", challengeHeader, err)
	}

	cred, err := digest.Digest(challenge, opts)
	if err != nil {
		return fmt.Errorf("computing digest: %w", err)
	}

	req.RemoveHeader(respHeader)
	req.AppendHeader(sip.NewHeader(respHeader, cred.String()))
	return nil
}

// digestAuthApply adds an Authorization header to req computed from a
// WWW-Authenticate challenge in res (401 Unauthorized).
func digestAuthApply(req *sip.Request, res *sip.Response, opts digest.Options) error {
	return digestApplyChallenge(req, res, opts, "WWW-Authenticate", "Authorization")
}

// digestProxyAuthApply adds a Proxy-Authorization header to req computed from
// a Proxy-Authenticate challenge in res (407 Proxy Authentication Required).
func digestProxyAuthApply(req *sip.Request, res *sip.Response, opts digest.Options) error {
	return digestApplyChallenge(req, res, opts, "Proxy-Authenticate", "Proxy-Authorization")
}

// digestTransactionRequest retries req against a 401 challenge with a fresh
// client transaction.
func digestTransactionRequest(ctx context.Context, c *Client, req *sip.Request, res *sip.Response, opts digest.Options) (sip.ClientTransaction, error) {
	if err := digestAuthApply(req, res, opts); err != nil {
		return nil, err
	}
	return c.TransactionRequest(ctx, req)
}

// digestProxyAuthRequest retries req against a 407 challenge with a fresh
// client transaction.
func digestProxyAuthRequest(ctx context.Context, c *Client, req *sip.Request, res *sip.Response, opts digest.Options) (sip.ClientTransaction, error) {
	if err := digestProxyAuthApply(req, res, opts); err != nil {
		return nil, err
	}
	return c.TransactionRequest(ctx, req)
}
