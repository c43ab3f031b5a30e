package proxy

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"

	"github.com/nexsip/nexsip/sip"
)

// fingerprint computes a per-branch loop-detection token per RFC 3261
// section 16.6 step 8: a hash over enough of the request that a proxy which
// forwards it back to itself unmodified produces the same value again.
//
// No cryptographic strength is needed here, only collision resistance
// against accidental loops, so sha1 is fine.
func fingerprint(req *sip.Request) string {
	h := sha1.New()

	h.Write([]byte(req.Recipient.String()))
	if via := req.Via(); via != nil {
		if branch, ok := via.Params.Get("branch"); ok {
			h.Write([]byte(branch))
		}
	}
	if to := req.To(); to != nil {
		h.Write([]byte(to.Address.String()))
		if tag, ok := to.Params.Get("tag"); ok {
			h.Write([]byte(tag))
		}
	}
	if from := req.From(); from != nil {
		h.Write([]byte(from.Address.String()))
		if tag, ok := from.Params.Get("tag"); ok {
			h.Write([]byte(tag))
		}
	}
	if callID := req.CallID(); callID != nil {
		h.Write([]byte(callID.Value()))
	}
	if cseq := req.CSeq(); cseq != nil {
		h.Write([]byte(strconv.FormatUint(uint64(cseq.SeqNo), 10)))
		h.Write([]byte(cseq.MethodName))
	}
	for _, pr := range req.GetHeaders("Proxy-Require") {
		h.Write([]byte(pr.Value()))
	}

	return hex.EncodeToString(h.Sum(nil))
}
