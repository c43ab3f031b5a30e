package sipgo

import (
	"context"
	"errors"
	"sync"

	"github.com/nexsip/nexsip/sip"
)

// DialogServer provides handle for managing UAS dialogs, ie dialogs created
// from an INVITE we received.
// Contact hdr is used on every response sent within a dialog and by our peer
// to address any subsequent in-dialog request to us.
type DialogServer struct {
	ua      *DialogUA
	dialogs sync.Map // TODO replace with typed version
}

// NewDialogServer provides handle for managing UAS dialog.
func NewDialogServer(client *Client, contactHDR sip.ContactHeader) *DialogServer {
	return &DialogServer{
		ua: &DialogUA{
			Client:     client,
			ContactHDR: contactHDR,
		},
	}
}

func (s *DialogServer) dialogsLen() int {
	leftItems := 0
	s.dialogs.Range(func(key, value any) bool {
		leftItems++
		return true
	})
	return leftItems
}

func (s *DialogServer) loadDialog(id string) *DialogServerSession {
	val, ok := s.dialogs.Load(id)
	if !ok || val == nil {
		return nil
	}
	return val.(*DialogServerSession)
}

func (s *DialogServer) matchDialogRequest(req *sip.Request) (*DialogServerSession, error) {
	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		return nil, errors.Join(err, ErrDialogOutsideDialog)
	}

	dt := s.loadDialog(id)
	if dt == nil {
		return nil, ErrDialogDoesNotExists
	}
	return dt, nil
}

// ReadInvite creates the early dialog session for a received INVITE. Use the
// returned session to respond and track dialog state.
func (s *DialogServer) ReadInvite(req *sip.Request, tx sip.ServerTransaction) (*DialogServerSession, error) {
	dtx, err := s.ua.ReadInvite(req, tx)
	if err != nil {
		return nil, err
	}
	dtx.srv = s
	s.dialogs.Store(dtx.ID, dtx)
	return dtx, nil
}

// ReadAck moves a dialog to confirmed state after ACK is received for our
// 2xx final response.
func (s *DialogServer) ReadAck(req *sip.Request, tx sip.ServerTransaction) error {
	dt, err := s.matchDialogRequest(req)
	if err != nil {
		return err
	}

	dt.setState(sip.DialogStateConfirmed)
	return nil
}

// ReadBye answers a BYE received from our peer and terminates the dialog.
func (s *DialogServer) ReadBye(req *sip.Request, tx sip.ServerTransaction) error {
	dt, err := s.matchDialogRequest(req)
	if err != nil {
		return err
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		return err
	}
	dt.endWithCause(nil)
	return nil
}

// DialogServerSession represents a dialog as observed by the UAS, tied to
// the server transaction of the original INVITE.
type DialogServerSession struct {
	Dialog
	inviteTx sip.ServerTransaction
	ua       *DialogUA
	srv      *DialogServer

	causeErr error
}

// Respond answers the invite transaction. Non final (1xx) responses can be
// sent multiple times; only the first final response affects dialog state.
func (dtx *DialogServerSession) Respond(statusCode sip.StatusCode, reason string, body []byte, headers ...sip.Header) error {
	res := sip.NewResponseFromRequest(dtx.InviteRequest, statusCode, reason, body)
	for _, h := range headers {
		res.AppendHeader(h)
	}
	if res.Contact() == nil {
		res.AppendHeader(sip.HeaderClone(&dtx.ua.ContactHDR))
	}

	if err := dtx.inviteTx.Respond(res); err != nil {
		return err
	}
	dtx.InviteResponse = res

	if res.IsSuccess() {
		dtx.setState(sip.DialogStateEstablished)
	}
	return nil
}

// Bye sends a BYE to our peer and terminates the dialog.
func (dtx *DialogServerSession) Bye(ctx context.Context) error {
	defer dtx.endWithCause(nil)

	if dtx.LoadState() == sip.DialogStateEnded {
		return nil
	}

	bye := newByeRequestUAS(dtx)
	tx, err := dtx.ua.Client.TransactionRequest(ctx, bye)
	if err != nil {
		return err
	}
	defer tx.Terminate()

	select {
	case res := <-tx.Responses():
		if res.StatusCode() != sip.StatusOK {
			return ErrDialogResponse{res}
		}
		return nil
	case <-tx.Done():
		return tx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the reason the dialog ended, if any.
func (dtx *DialogServerSession) Err() error {
	return dtx.causeErr
}

// Done signals dialog session context termination.
func (dtx *DialogServerSession) Done() <-chan struct{} {
	return dtx.Context().Done()
}

// Close removes the dialog from the server's active dialog set. It does not
// change dialog state; use endWithCause to also terminate it.
func (dtx *DialogServerSession) Close() error {
	if dtx.srv != nil {
		dtx.srv.dialogs.Delete(dtx.ID)
	}
	return nil
}

// endWithCause terminates the dialog with err as cause and removes it from
// the active dialog set.
func (dtx *DialogServerSession) endWithCause(err error) {
	dtx.causeErr = err
	dtx.setState(sip.DialogStateEnded)
	dtx.Close()
}

// newByeRequestUAS builds a BYE sent from the UAS side of an established
// dialog toward the peer that placed the original INVITE.
// https://datatracker.ietf.org/doc/html/rfc3261#section-15.1.1
func newByeRequestUAS(dtx *DialogServerSession) *sip.Request {
	inviteRequest := dtx.InviteRequest
	inviteResponse := dtx.InviteResponse

	recipient := inviteRequest.Recipient
	if cont := inviteRequest.Contact(); cont != nil {
		recipient = &cont.Address
	}

	byeRequest := sip.NewRequest(sip.BYE, recipient.Clone())
	byeRequest.SipVersion = inviteRequest.SipVersion

	// Our route set, per RFC 3261 §12.1.1, is the Record-Route headers from
	// the INVITE taken in order; the UAS sends back towards the nearest
	// recorded proxy first, so the Route headers on this request are that
	// same route set reversed relative to how Record-Route was appended.
	if recordRoutes := inviteRequest.GetHeaders("Record-Route"); len(recordRoutes) > 0 {
		for i := len(recordRoutes) - 1; i >= 0; i-- {
			rr := recordRoutes[i].(*sip.RecordRouteHeader)
			byeRequest.AppendHeader(&sip.RouteHeader{Address: *rr.Address.Clone()})
		}
	}

	maxForwardsHeader := sip.MaxForwardsHeader(70)
	byeRequest.AppendHeader(&maxForwardsHeader)

	// We are UAS: our own tag (set on the response's To) becomes the From of
	// this in-dialog request; the peer's tag (original From) becomes the To.
	if h := inviteResponse.To(); h != nil {
		byeRequest.AppendHeader(&sip.FromHeader{
			DisplayName: h.DisplayName,
			Address:     *h.Address.Clone(),
			Params:      h.Params.Clone(),
		})
	}
	if h := inviteRequest.From(); h != nil {
		byeRequest.AppendHeader(&sip.ToHeader{
			DisplayName: h.DisplayName,
			Address:     *h.Address.Clone(),
			Params:      h.Params.Clone(),
		})
	}
	if h := inviteRequest.CallID(); h != nil {
		byeRequest.AppendHeader(sip.HeaderClone(h))
	}

	dtx.lastCSeqNo++
	byeRequest.AppendHeader(&sip.CSeqHeader{SeqNo: dtx.lastCSeqNo, MethodName: sip.BYE})

	byeRequest.SetTransport(inviteRequest.Transport())
	return byeRequest
}
