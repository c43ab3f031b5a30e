package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/nexsip/nexsip/router"
	"github.com/nexsip/nexsip/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClientTx struct {
	responses  chan *sip.Response
	done       chan struct{}
	canceled   chan struct{}
	cancelErr  error
	terminated bool
}

func newFakeClientTx() *fakeClientTx {
	return &fakeClientTx{
		responses: make(chan *sip.Response, 8),
		done:      make(chan struct{}),
		canceled:  make(chan struct{}, 1),
	}
}

func (f *fakeClientTx) Responses() <-chan *sip.Response { return f.responses }
func (f *fakeClientTx) Cancel() error {
	select {
	case f.canceled <- struct{}{}:
	default:
	}
	return f.cancelErr
}
func (f *fakeClientTx) Terminate() { f.terminated = true }
func (f *fakeClientTx) Done() <-chan struct{} { return f.done }
func (f *fakeClientTx) Err() error { return nil }

func (f *fakeClientTx) sendFinal(res *sip.Response) {
	f.responses <- res
	close(f.done)
}

type fakeServerTx struct {
	responses chan *sip.Response
	cancels   chan *sip.Request
	acks      chan *sip.Request
	done      chan struct{}
}

func newFakeServerTx() *fakeServerTx {
	return &fakeServerTx{
		responses: make(chan *sip.Response, 8),
		cancels:   make(chan *sip.Request, 1),
		acks:      make(chan *sip.Request, 1),
		done:      make(chan struct{}),
	}
}

func (f *fakeServerTx) Respond(res *sip.Response) error {
	f.responses <- res
	return nil
}
func (f *fakeServerTx) Acks() <-chan *sip.Request    { return f.acks }
func (f *fakeServerTx) Cancels() <-chan *sip.Request { return f.cancels }
func (f *fakeServerTx) Terminate()                   {}
func (f *fakeServerTx) Done() <-chan struct{}        { return f.done }
func (f *fakeServerTx) Err() error                   { return nil }

func testInviteReq(t *testing.T, callID string, maxFwd uint32) *sip.Request {
	t.Helper()
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP proxy.example.com;branch=" + sip.GenerateBranch() + "\r\n" +
		"From: <sip:alice@example.com>;tag=abc\r\n" +
		"To: <sip:bob@example.com>\r\n" +
		"Call-ID: " + callID + "\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Max-Forwards: " + itoa(maxFwd) + "\r\n" +
		"Content-Length: 0\r\n\r\n"
	msg, err := sip.ParseMessage([]byte(raw))
	require.NoError(t, err)
	return msg.(*sip.Request)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	digits := ""
	for v > 0 {
		digits = string(rune('0'+v%10)) + digits
		v /= 10
	}
	return digits
}

func responseFor(req *sip.Request, code sip.StatusCode, reason string) *sip.Response {
	return sip.NewResponseFromRequest(req, code, reason, nil)
}

func TestForkMaxForwardsExhausted(t *testing.T) {
	req := testInviteReq(t, "call-mf", 0)
	srvTx := newFakeServerTx()
	target := &sip.Uri{Scheme: sip.SCHEME_SIP, User: "bob", Host: "10.0.0.1"}

	f := NewFork(func(r *sip.Request) (sip.ClientTransaction, error) {
		t.Fatal("should not spawn a branch when max-forwards is exhausted")
		return nil, nil
	}, nil, srvTx, req)

	resp := f.Start([]*sip.Uri{target}, router.Options{}, nil)
	require.NotNil(t, resp)
	assert.Equal(t, sip.StatusTooManyHops, resp.StatusCode())
}

func TestForkLoopDetected(t *testing.T) {
	req := testInviteReq(t, "call-loop", 70)
	srvTx := newFakeServerTx()
	target := &sip.Uri{Scheme: sip.SCHEME_SIP, User: "bob", Host: "10.0.0.1"}
	seen := NewSeenFingerprints()

	f1 := NewFork(func(r *sip.Request) (sip.ClientTransaction, error) {
		return newFakeClientTx(), nil
	}, nil, srvTx, req)
	require.Nil(t, f1.Start([]*sip.Uri{target}, router.Options{}, seen))

	f2 := NewFork(func(r *sip.Request) (sip.ClientTransaction, error) {
		t.Fatal("should not spawn a branch for a duplicate fingerprint")
		return nil, nil
	}, nil, srvTx, req)
	resp := f2.Start([]*sip.Uri{target}, router.Options{}, seen)
	require.NotNil(t, resp)
	assert.Equal(t, sip.StatusLoopDetected, resp.StatusCode())
}

func TestForkWinningResponseCancelsOtherBranches(t *testing.T) {
	req := testInviteReq(t, "call-fork", 70)
	srvTx := newFakeServerTx()

	target1 := &sip.Uri{Scheme: sip.SCHEME_SIP, User: "bob1", Host: "10.0.0.1"}
	target2 := &sip.Uri{Scheme: sip.SCHEME_SIP, User: "bob2", Host: "10.0.0.2"}

	tx1 := newFakeClientTx()
	tx2 := newFakeClientTx()
	txs := map[string]*fakeClientTx{"10.0.0.1": tx1, "10.0.0.2": tx2}

	f := NewFork(func(r *sip.Request) (sip.ClientTransaction, error) {
		return txs[r.Recipient.Host], nil
	}, nil, srvTx, req)

	require.Nil(t, f.Start([]*sip.Uri{target1, target2}, router.Options{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	tx1.sendFinal(responseFor(req, sip.StatusOK, "OK"))

	select {
	case res := <-srvTx.responses:
		assert.Equal(t, sip.StatusOK, res.StatusCode())
	case <-time.After(time.Second):
		t.Fatal("expected winning 2xx to be relayed")
	}

	select {
	case <-tx2.canceled:
	case <-time.After(time.Second):
		t.Fatal("expected losing branch to be canceled")
	}
}

func TestForkAggregatesNonSuccessFinals(t *testing.T) {
	req := testInviteReq(t, "call-agg", 70)
	srvTx := newFakeServerTx()

	target1 := &sip.Uri{Scheme: sip.SCHEME_SIP, User: "bob1", Host: "10.0.0.1"}
	target2 := &sip.Uri{Scheme: sip.SCHEME_SIP, User: "bob2", Host: "10.0.0.2"}

	tx1 := newFakeClientTx()
	tx2 := newFakeClientTx()
	txs := map[string]*fakeClientTx{"10.0.0.1": tx1, "10.0.0.2": tx2}

	f := NewFork(func(r *sip.Request) (sip.ClientTransaction, error) {
		return txs[r.Recipient.Host], nil
	}, nil, srvTx, req)

	require.Nil(t, f.Start([]*sip.Uri{target1, target2}, router.Options{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	tx1.sendFinal(responseFor(req, sip.StatusBusyHere, "Busy Here"))
	tx2.sendFinal(responseFor(req, sip.StatusNotFound, "Not Found"))

	select {
	case res := <-srvTx.responses:
		assert.Equal(t, sip.StatusBusyHere, res.StatusCode())
	case <-time.After(time.Second):
		t.Fatal("expected an aggregated final response")
	}
}
