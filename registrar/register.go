package registrar

import (
	"strconv"
	"time"

	"github.com/nexsip/nexsip/sip"
)

// Process runs the register(request) -> response algorithm of RFC 3261
// section 10.3, minting/rotating GRUUs per RFC 5627. Authentication (step 1
// of the documented algorithm) is the caller's responsibility, run through
// the digestauth package before Process is invoked -- Process assumes the
// request already passed that check.
func (r *Registrar) Process(req *sip.Request) *sip.Response {
	to := req.To()
	if to == nil {
		return sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing To header", nil)
	}
	aor := to.Address.String()

	callID := req.CallID()
	if callID == nil {
		return sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Call-ID", nil)
	}
	cseq := req.CSeq()
	if cseq == nil {
		return sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing CSeq", nil)
	}

	contacts := req.GetHeaders("Contact")
	if len(contacts) == 0 {
		return r.replyWithBindings(req, aor)
	}

	defaultExpires := r.requestDefaultExpires(req)

	for _, h := range contacts {
		c, ok := h.(*sip.ContactHeader)
		if !ok {
			continue
		}
		if c.Address.Wildcard {
			for _, existing := range r.Find(aor) {
				r.remove(aor, existing.InstanceID, existing.RegID)
			}
			r.recordOutcome("removed")
			continue
		}

		expires := contactExpires(c, defaultExpires)

		instanceParam, _ := c.Params.Get("+sip.instance")
		regID, hasRegID := c.Params.Get("reg-id")
		instKey := instanceKey(instanceParam)

		if hasRegID && instanceParam == "" {
			r.recordOutcome("rejected")
			return sip.NewResponseFromRequest(req, sip.StatusCode(439), "First Hop Lacks Outbound Support", nil)
		}

		if r.isGRUU(c.Address) {
			r.recordOutcome("rejected")
			return sip.NewResponseFromRequest(req, sip.StatusForbidden, "Contact equals a GRUU", nil)
		}

		if expires == 0 {
			r.remove(aor, instKey, regID)
			r.recordOutcome("removed")
			continue
		}

		existing := r.existingBinding(aor, instKey, regID)
		if existing != nil && existing.CallID == string(*callID) && cseq.SeqNo <= existing.CSeq {
			r.recordOutcome("rejected")
			return sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Stale CSeq", nil)
		}

		contact := &Contact{
			AOR:        aor,
			URI:        c.Address,
			CallID:     string(*callID),
			CSeq:       cseq.SeqNo,
			InstanceID: instKey,
			RegID:      regID,
			ExpiresAt:  time.Now().Add(time.Duration(expires) * time.Second),
		}
		gruuHost := to.Address.Host
		if gruuHost == "" {
			gruuHost = r.realm
		}
		contact.PubGRUU = pubGRUU(to.Address.User, gruuHost, instKey)

		if existing == nil || existing.CallID != contact.CallID {
			contact.TempGRUU = tempGRUU(gruuHost)
		} else {
			contact.TempGRUU = existing.TempGRUU
		}

		r.insert(contact, instKey, regID)
		r.recordOutcome("bound")
	}

	return r.replyWithBindings(req, aor)
}

func (r *Registrar) existingBinding(aor, instanceID, regID string) *Contact {
	for _, c := range r.Find(aor) {
		if c.InstanceID == instanceID && c.RegID == regID {
			return c
		}
	}
	return nil
}

func (r *Registrar) requestDefaultExpires(req *sip.Request) int {
	if h := req.GetHeader("Expires"); h != nil {
		if v, err := strconv.Atoi(h.Value()); err == nil {
			return v
		}
	}
	return int(DefaultExpires / time.Second)
}

func contactExpires(c *sip.ContactHeader, def int) int {
	if v, ok := c.Params.Get("expires"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (r *Registrar) replyWithBindings(req *sip.Request, aor string) *sip.Response {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	now := time.Now()
	for _, c := range r.Find(aor) {
		contact := &sip.ContactHeader{Address: c.URI, Params: sip.NewParams()}
		contact.Params.Add("expires", strconv.Itoa(int(c.ExpiresAt.Sub(now).Seconds())))
		if c.PubGRUU.User != "" {
			contact.Params.Add("pub-gruu", c.PubGRUU.String())
		}
		if c.TempGRUU.User != "" {
			contact.Params.Add("temp-gruu", c.TempGRUU.String())
		}
		res.AppendHeader(contact)
	}
	return res
}
