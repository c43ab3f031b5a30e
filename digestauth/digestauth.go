// Package digestauth is a reference server-side digest authentication
// adapter (RFC 3261 section 22, RFC 2617) for the registrar's Authenticator
// port. It mirrors the digest handling client.go already does for the UAC
// side, using the same github.com/icholy/digest library.
package digestauth

import (
	"fmt"

	"github.com/icholy/digest"
	"github.com/nexsip/nexsip/sip"
)

// CredentialLookup resolves a username to its plaintext password. Digest
// auth needs the password (or an equivalent H(A1)) in the clear on the
// server side, so this is intentionally a narrow interface a caller backs
// with whatever store it likes.
type CredentialLookup func(username, realm string) (password string, ok bool)

// Authenticator challenges REGISTER (and any other) requests with digest
// auth and verifies the credentials on a retried request.
type Authenticator struct {
	Realm  string
	Lookup CredentialLookup
}

// New creates an Authenticator for realm, resolving passwords via lookup.
func New(realm string, lookup CredentialLookup) *Authenticator {
	return &Authenticator{Realm: realm, Lookup: lookup}
}

// Challenge builds a 401 Unauthorized response carrying a fresh
// WWW-Authenticate challenge for req.
func (a *Authenticator) Challenge(req *sip.Request) *sip.Response {
	res := sip.NewResponseFromRequest(req, sip.StatusUnauthorized, "Unauthorized", nil)
	res.AppendHeader(sip.NewHeader("WWW-Authenticate", a.challengeValue()))
	return res
}

func (a *Authenticator) challengeValue() string {
	nonce := sip.RandString(32)
	return fmt.Sprintf(`Digest realm="%s", nonce="%s", algorithm=MD5, qop="auth"`, a.Realm, nonce)
}

// Verify checks the Authorization header on req by recomputing the digest
// response from the realm, nonce, algorithm and qop carried in that header
// and the password returned by Lookup. Issued nonces are not stored, so it
// does not check that the nonce came from this Authenticator. It returns
// false if the header is missing, malformed, the user is unknown, or the
// credentials do not match.
func (a *Authenticator) Verify(req *sip.Request) bool {
	h := req.GetHeader("Authorization")
	if h == nil {
		return false
	}

	cred, err := digest.ParseCredentials(h.Value())
	if err != nil {
		return false
	}

	password, ok := a.Lookup(cred.Username, cred.Realm)
	if !ok {
		return false
	}

	challenge := &digest.Challenge{
		Realm:     cred.Realm,
		Nonce:     cred.Nonce,
		Algorithm: cred.Algorithm,
		QOP:       []string{cred.MessageQop},
	}

	expected, err := digest.Digest(challenge, digest.Options{
		Method:   req.Method.String(),
		URI:      cred.URI,
		Cnonce:   cred.Cnonce,
		Username: cred.Username,
		Password: password,
		Count:    cred.NonceCount,
	})
	if err != nil {
		return false
	}

	return expected.Response == cred.Response
}
