package registrar

import (
	"testing"

	"github.com/nexsip/nexsip/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerRequest(t *testing.T, callID string, cseq int, contact string, instance string, expires string) *sip.Request {
	t.Helper()
	c := "<" + contact + ">"
	if instance != "" {
		c = "<" + contact + ">;+sip.instance=\"" + instance + "\""
	}
	if expires != "" {
		c += ";expires=" + expires
	}
	raw := "REGISTER sip:example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 127.0.0.1:5070;branch=" + sip.GenerateBranch() + "\r\n" +
		"From: <sip:client1@example.com>;tag=abc\r\n" +
		"To: <sip:client1@example.com>\r\n" +
		"Call-ID: " + callID + "\r\n" +
		"CSeq: " + itoaTest(cseq) + " REGISTER\r\n" +
		"Contact: " + c + "\r\n" +
		"Max-Forwards: 70\r\n" +
		"Content-Length: 0\r\n\r\n"
	msg, err := sip.ParseMessage([]byte(raw))
	require.NoError(t, err)
	return msg.(*sip.Request)
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	s := ""
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}

func TestRegisterAndFind(t *testing.T) {
	r := New()
	defer r.Close()

	req := registerRequest(t, "call-1", 1, "sip:client1@127.0.0.1:5070", "urn:uuid:u1", "3600")
	res := r.Process(req)
	require.Equal(t, sip.StatusOK, res.StatusCode())

	contacts := r.Find("sip:client1@example.com")
	require.Len(t, contacts, 1)
	assert.Equal(t, "127.0.0.1", contacts[0].URI.Host)
	assert.NotEmpty(t, contacts[0].PubGRUU.User)
	assert.NotEmpty(t, contacts[0].TempGRUU.User)
}

func TestRegisterGRUUResolves(t *testing.T) {
	r := New()
	defer r.Close()

	req := registerRequest(t, "call-1", 1, "sip:client1@127.0.0.1:5070", "urn:uuid:u1", "3600")
	res := r.Process(req)
	require.Equal(t, sip.StatusOK, res.StatusCode())

	contacts := r.Find("sip:client1@example.com")
	require.Len(t, contacts, 1)

	found, ok := r.FindGRUU(contacts[0].PubGRUU.String())
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", found.URI.Host)
}

func TestReregisterSameInstanceReplacesBinding(t *testing.T) {
	r := New()
	defer r.Close()

	req1 := registerRequest(t, "call-1", 1, "sip:client1@127.0.0.1:5070", "urn:uuid:u1", "3600")
	require.Equal(t, sip.StatusOK, r.Process(req1).StatusCode())

	req2 := registerRequest(t, "call-1", 2, "sip:client1@10.0.0.9:6000", "urn:uuid:u1", "3600")
	require.Equal(t, sip.StatusOK, r.Process(req2).StatusCode())

	contacts := r.Find("sip:client1@example.com")
	require.Len(t, contacts, 1)
	assert.Equal(t, "10.0.0.9", contacts[0].URI.Host)
}

func TestReregisterNewCallIDRotatesTempGRUU(t *testing.T) {
	r := New()
	defer r.Close()

	req1 := registerRequest(t, "call-1", 1, "sip:client1@127.0.0.1:5070", "urn:uuid:u1", "3600")
	require.Equal(t, sip.StatusOK, r.Process(req1).StatusCode())
	oldTemp := r.Find("sip:client1@example.com")[0].TempGRUU.String()

	req2 := registerRequest(t, "call-2", 1, "sip:client1@127.0.0.1:5070", "urn:uuid:u1", "3600")
	require.Equal(t, sip.StatusOK, r.Process(req2).StatusCode())

	contacts := r.Find("sip:client1@example.com")
	require.Len(t, contacts, 1)
	assert.NotEqual(t, oldTemp, contacts[0].TempGRUU.String())

	_, ok := r.FindGRUU(oldTemp)
	assert.False(t, ok)
}

func TestDeregisterWithZeroExpiresRemovesBinding(t *testing.T) {
	r := New()
	defer r.Close()

	req := registerRequest(t, "call-1", 1, "sip:client1@127.0.0.1:5070", "urn:uuid:u1", "3600")
	require.Equal(t, sip.StatusOK, r.Process(req).StatusCode())

	dereg := registerRequest(t, "call-1", 2, "sip:client1@127.0.0.1:5070", "urn:uuid:u1", "0")
	res := r.Process(dereg)
	require.Equal(t, sip.StatusOK, res.StatusCode())

	assert.Empty(t, r.Find("sip:client1@example.com"))
}

func TestRegisterContactEqualToGRUUIsRejected(t *testing.T) {
	r := New()
	defer r.Close()

	req := registerRequest(t, "call-1", 1, "sip:client1@127.0.0.1:5070", "urn:uuid:u1", "3600")
	require.Equal(t, sip.StatusOK, r.Process(req).StatusCode())
	gruu := r.Find("sip:client1@example.com")[0].PubGRUU.String()

	dup := registerRequest(t, "call-2", 1, gruu, "urn:uuid:u2", "3600")
	res := r.Process(dup)
	assert.Equal(t, sip.StatusForbidden, res.StatusCode())
}
