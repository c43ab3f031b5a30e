package sip

import (
	"fmt"
	"strings"
)

const (
	MTU uint = 1500

	DefaultHost     = "127.0.0.1"
	DefaultProtocol = "UDP"

	DefaultUdpPort int = 5060
	DefaultTcpPort int = 5060
	DefaultTlsPort int = 5061
	DefaultWsPort  int = 80
	DefaultWssPort int = 443

	RFC3261BranchMagicCookie = "z9hG4bK"
)

// GenerateBranch returns random unique branch ID.
func GenerateBranch() string {
	return GenerateBranchN(32)
}

// GenerateBranchN returns random unique branch ID with n random chars after
// the RFC 3261 magic cookie.
func GenerateBranchN(n int) string {
	return strings.Join([]string{
		RFC3261BranchMagicCookie,
		RandString(n),
	}, ".")
}

// GenerateTagN returns a random tag value of n characters, suitable for a
// From/To tag param.
func GenerateTagN(n int) string {
	return RandString(n)
}

// DefaultPort returns protocol default port by network.
func DefaultPort(protocol string) int {
	switch strings.ToLower(protocol) {
	case "tls":
		return DefaultTlsPort
	case "tcp":
		return DefaultTcpPort
	case "udp":
		return DefaultUdpPort
	case "ws":
		return DefaultWsPort
	case "wss":
		return DefaultWssPort
	default:
		return DefaultTcpPort
	}
}

// MakeDialogIDFromMessage creates dialog ID of message.
// returns error if callid or to tag or from tag does not exists
func MakeDialogIDFromMessage(msg Message) (string, error) {
	callID := msg.CallID()
	if callID == nil {
		return "", fmt.Errorf("missing Call-ID header")
	}

	to := msg.To()
	if to == nil {
		return "", fmt.Errorf("missing To header")
	}

	toTag, ok := to.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in To header")
	}

	from := msg.From()
	if from == nil {
		return "", fmt.Errorf("missing From header")
	}

	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in From header")
	}

	return MakeDialogID(string(*callID), toTag, fromTag), nil
}

func MakeDialogID(callID, innerID, externalID string) string {
	return strings.Join([]string{callID, innerID, externalID}, "__")
}

// DialogIDFromRequestUAS computes the dialog ID as observed by a UAS, from either
// the initial INVITE (To tag must already be pre-populated by the callee before
// this is called) or an in-dialog request received from the peer.
// The UAS's own tag is the To tag, the peer's tag is the From tag.
func DialogIDFromRequestUAS(req *Request) (string, error) {
	callID := req.CallID()
	if callID == nil {
		return "", fmt.Errorf("missing Call-ID header")
	}

	to := req.To()
	if to == nil {
		return "", fmt.Errorf("missing To header")
	}
	toTag, ok := to.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in To header")
	}

	from := req.From()
	if from == nil {
		return "", fmt.Errorf("missing From header")
	}
	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in From header")
	}

	return MakeDialogID(string(*callID), toTag, fromTag), nil
}

// UACReadRequestDialogID computes the dialog ID as observed by a UAC, from an
// in-dialog request it receives from its peer (e.g. a BYE terminating a call
// the UAC placed). The UAC's own tag is the From tag, the peer's tag is the To tag.
func UACReadRequestDialogID(req *Request) (string, error) {
	callID := req.CallID()
	if callID == nil {
		return "", fmt.Errorf("missing Call-ID header")
	}

	from := req.From()
	if from == nil {
		return "", fmt.Errorf("missing From header")
	}
	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in From header")
	}

	to := req.To()
	if to == nil {
		return "", fmt.Errorf("missing To header")
	}
	toTag, ok := to.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in To header")
	}

	return MakeDialogID(string(*callID), fromTag, toTag), nil
}

// MakeDialogIDFromResponse computes the dialog ID as observed by a UAC from a
// response establishing (or updating) a dialog. The UAC's own tag is the From
// tag, the peer's tag is the To tag set by the UAS in the response.
func MakeDialogIDFromResponse(res *Response) (string, error) {
	callID := res.CallID()
	if callID == nil {
		return "", fmt.Errorf("missing Call-ID header")
	}

	from := res.From()
	if from == nil {
		return "", fmt.Errorf("missing From header")
	}
	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in From header")
	}

	to := res.To()
	if to == nil {
		return "", fmt.Errorf("missing To header")
	}
	toTag, ok := to.Params.Get("tag")
	if !ok {
		return "", fmt.Errorf("missing tag param in To header")
	}

	return MakeDialogID(string(*callID), fromTag, toTag), nil
}
