package sip

import "fmt"

// ParseError is returned by ParseSIP when a message parses structurally
// (start line and headers are well formed) but violates a mandatory
// contract from RFC 3261 section 7/8/20 -- missing headers required on
// every message, a header that must appear exactly once appearing more
// than once, or a value that is out of the range the RFC allows.
type ParseError struct {
	Kind   ParseErrorKind
	Header string
	Reason string
}

// canned400ResponseBytes is written back verbatim to a stream transport
// (TCP/TLS/WS) when a request fails to parse. There is no parsed message to
// build a proper response from, so the reply carries no dialog-identifying
// headers -- it exists only to close the message boundary before the
// connection is dropped.
var canned400ResponseBytes = []byte("SIP/2.0 400 Bad Request\r\nContent-Length: 0\r\n\r\n")

func (e *ParseError) Error() string {
	if e.Header == "" {
		return fmt.Sprintf("sip: %s", e.Reason)
	}
	return fmt.Sprintf("sip: %s: %s", e.Header, e.Reason)
}

// ParseErrorKind closes the set of structural violations ParseError can
// carry, so callers can switch on it instead of matching error strings.
type ParseErrorKind int

const (
	_ ParseErrorKind = iota
	ErrMissingHeader
	ErrDuplicateHeader
	ErrHeaderOutOfRange
	ErrMethodMismatch
	ErrMissingContentLength
)

func missingHeaderErr(name string) error {
	return &ParseError{Kind: ErrMissingHeader, Header: name, Reason: "required header missing"}
}

func duplicateHeaderErr(name string) error {
	return &ParseError{Kind: ErrDuplicateHeader, Header: name, Reason: "header must appear exactly once"}
}

// maxForwardsCeiling bounds Max-Forwards per RFC 3261 section 8.1.1.6: the
// recommended initial value is 70 and it must fit in the range implementers
// treat as sane hop counts. The requests built in request.go (NewAckRequest,
// NewCancelRequest, NewByeRequest) also use 70.
const maxForwardsCeiling = 300

// validateMessage enforces the header cardinality and cross-field contracts
// RFC 3261 requires on every well-formed request/response: From, To, Call-ID
// and CSeq exactly once, at least one Via, a CSeq method matching the
// request line, and a Max-Forwards value in range when present.
func validateMessage(msg Message) error {
	if n := len(msg.GetHeaders("From")); n != 1 {
		return missingOrDuplicate("From", n)
	}
	if n := len(msg.GetHeaders("To")); n != 1 {
		return missingOrDuplicate("To", n)
	}
	if n := len(msg.GetHeaders("Call-ID")); n != 1 {
		return missingOrDuplicate("Call-ID", n)
	}
	cseqHeaders := msg.GetHeaders("CSeq")
	if len(cseqHeaders) != 1 {
		return missingOrDuplicate("CSeq", len(cseqHeaders))
	}
	if len(msg.GetHeaders("Via")) == 0 {
		return missingHeaderErr("Via")
	}

	cseq, ok := cseqHeaders[0].(*CSeqHeader)
	if !ok {
		return &ParseError{Kind: ErrHeaderOutOfRange, Header: "CSeq", Reason: "malformed"}
	}
	// cseq.SeqNo is a uint32, so it is already bounded to [0, 2**32) --
	// the full CSeq range -- with no further range check needed.

	if req, ok := msg.(*Request); ok {
		if cseq.MethodName != req.Method {
			return &ParseError{
				Kind:   ErrMethodMismatch,
				Header: "CSeq",
				Reason: fmt.Sprintf("method %q does not match request line method %q", cseq.MethodName, req.Method),
			}
		}
	}

	if mfHeaders := msg.GetHeaders("Max-Forwards"); len(mfHeaders) > 1 {
		return duplicateHeaderErr("Max-Forwards")
	} else if len(mfHeaders) == 1 {
		mf, ok := mfHeaders[0].(*MaxForwardsHeader)
		if !ok {
			return &ParseError{Kind: ErrHeaderOutOfRange, Header: "Max-Forwards", Reason: "malformed"}
		}
		if mf.Val() >= maxForwardsCeiling {
			return &ParseError{Kind: ErrHeaderOutOfRange, Header: "Max-Forwards", Reason: "value out of range"}
		}
	}

	return nil
}

func missingOrDuplicate(name string, count int) error {
	if count == 0 {
		return missingHeaderErr(name)
	}
	return duplicateHeaderErr(name)
}
