package sipgo

import (
	"fmt"
	"testing"
	"time"

	"github.com/nexsip/nexsip/sip"
)

func createTestInvite(t testing.TB, targetSipUri string, transport, fromAddr string) (r *sip.Request, callid string, ftag string) {
	branch := sip.GenerateBranch()
	callid = "gotest-" + time.Now().Format(time.RFC3339Nano)
	ftag = fmt.Sprintf("%d", time.Now().UnixNano())

	raw := "INVITE " + targetSipUri + " SIP/2.0\r\n" +
		"Via: SIP/2.0/" + transport + " " + fromAddr + ";branch=" + branch + "\r\n" +
		"From: \"Alice\" <sip:alice@" + fromAddr + ">;tag=" + ftag + "\r\n" +
		"To: \"Bob\" <" + targetSipUri + ">\r\n" +
		"Call-ID: " + callid + "\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	msg, err := sip.ParseMessage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return msg.(*sip.Request), callid, ftag
}

func createTestBye(t testing.TB, targetSipUri string, transport, fromAddr string, callid, fromtag, totag string) *sip.Request {
	branch := sip.GenerateBranch()

	raw := "BYE " + targetSipUri + " SIP/2.0\r\n" +
		"Via: SIP/2.0/" + transport + " " + fromAddr + ";branch=" + branch + "\r\n" +
		"From: \"Alice\" <sip:alice@" + fromAddr + ">;tag=" + fromtag + "\r\n" +
		"To: \"Bob\" <" + targetSipUri + ">;tag=" + totag + "\r\n" +
		"Call-ID: " + callid + "\r\n" +
		"CSeq: 2 BYE\r\n" +
		"Content-Length: 0\r\n\r\n"

	msg, err := sip.ParseMessage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return msg.(*sip.Request)
}
