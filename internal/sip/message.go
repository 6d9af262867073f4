// Package sip builds and parses the minimal set of SIP messages needed
// to make a phone ring: INVITE, CANCEL, ACK and BYE over UDP, plus the
// two facts we ever read back from a response (status code and To-tag).
//
// This is deliberately not a general SIP stack. All bodies are empty,
// there is no SDP, and only one transaction is in flight at a time.
package sip

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Dialog tracks the identifiers of a single SIP dialog. CSeq starts at 1
// for the INVITE and increments by one per new request within the dialog.
// ToTag is empty until the remote party sends a dialog-establishing
// response; it is required before a BYE can be built.
type Dialog struct {
	CallID  string
	FromTag string
	ToTag   string
	CSeq    int
	Branch  string
}

// NewCallID generates a unique Call-ID.
func NewCallID() string {
	return "sipring-" + shortID(8)
}

// NewBranch generates a unique branch parameter. The z9hG4bK magic
// cookie is required by RFC 3261.
func NewBranch() string {
	return "z9hG4bK" + shortID(12)
}

// NewTag generates a unique tag for From/To headers.
func NewTag() string {
	return shortID(8)
}

func shortID(n int) string {
	s := strings.ReplaceAll(uuid.New().String(), "-", "")
	return s[:n]
}

// Builder renders SIP requests for one call attempt. All fields are
// fixed for the life of the attempt; per-request variation comes from
// the Dialog passed to each method.
type Builder struct {
	TargetUser string
	TargetHost string
	TargetPort int
	CallerName string
	CallerUser string
	LocalHost  string // advertised host, may differ from the bind address
	LocalPort  int
	UserAgent  string
}

func (b *Builder) requestURI() string {
	return fmt.Sprintf("sip:%s@%s", b.TargetUser, b.TargetHost)
}

func (b *Builder) via(branch string) string {
	return fmt.Sprintf("Via: SIP/2.0/UDP %s:%d;branch=%s\r\n", b.LocalHost, b.LocalPort, branch)
}

func (b *Builder) from(tag string) string {
	return fmt.Sprintf("From: %q <sip:%s@%s>;tag=%s\r\n", b.CallerName, b.CallerUser, b.LocalHost, tag)
}

func (b *Builder) to(tag string) string {
	if tag == "" {
		return fmt.Sprintf("To: <%s>\r\n", b.requestURI())
	}
	return fmt.Sprintf("To: <%s>;tag=%s\r\n", b.requestURI(), tag)
}

// Invite builds the call-setup request. It carries caller identity
// assertion headers so the phone displays the caller name, and an empty
// body: the call exists only to make the phone ring.
func (b *Builder) Invite(d *Dialog) string {
	var m strings.Builder
	fmt.Fprintf(&m, "INVITE %s SIP/2.0\r\n", b.requestURI())
	m.WriteString(b.via(d.Branch))
	m.WriteString("Max-Forwards: 70\r\n")
	m.WriteString(b.from(d.FromTag))
	m.WriteString(b.to(""))
	fmt.Fprintf(&m, "Call-ID: %s\r\n", d.CallID)
	fmt.Fprintf(&m, "CSeq: %d INVITE\r\n", d.CSeq)
	fmt.Fprintf(&m, "Contact: <sip:%s@%s:%d>\r\n", b.CallerUser, b.LocalHost, b.LocalPort)
	fmt.Fprintf(&m, "P-Asserted-Identity: %q <sip:%s@%s>\r\n", b.CallerName, b.CallerUser, b.LocalHost)
	fmt.Fprintf(&m, "Remote-Party-ID: %q <sip:%s@%s>;party=calling;screen=yes;privacy=off\r\n",
		b.CallerName, b.CallerUser, b.LocalHost)
	fmt.Fprintf(&m, "User-Agent: %s\r\n", b.UserAgent)
	m.WriteString("Content-Length: 0\r\n\r\n")
	return m.String()
}

// Cancel builds the request that stops an unanswered INVITE. To match
// the INVITE transaction it must reuse the same Call-ID, from-tag,
// branch and CSeq number; only the method differs.
func (b *Builder) Cancel(d *Dialog) string {
	var m strings.Builder
	fmt.Fprintf(&m, "CANCEL %s SIP/2.0\r\n", b.requestURI())
	m.WriteString(b.via(d.Branch))
	m.WriteString("Max-Forwards: 70\r\n")
	m.WriteString(b.from(d.FromTag))
	m.WriteString(b.to(""))
	fmt.Fprintf(&m, "Call-ID: %s\r\n", d.CallID)
	fmt.Fprintf(&m, "CSeq: %d CANCEL\r\n", d.CSeq)
	m.WriteString("Content-Length: 0\r\n\r\n")
	return m.String()
}

// Ack acknowledges a 200 OK. It carries the To-tag assigned by the
// remote party, a fresh branch, and the same CSeq number as the INVITE.
func (b *Builder) Ack(d *Dialog) string {
	var m strings.Builder
	fmt.Fprintf(&m, "ACK %s SIP/2.0\r\n", b.requestURI())
	m.WriteString(b.via(NewBranch()))
	m.WriteString("Max-Forwards: 70\r\n")
	m.WriteString(b.from(d.FromTag))
	m.WriteString(b.to(d.ToTag))
	fmt.Fprintf(&m, "Call-ID: %s\r\n", d.CallID)
	fmt.Fprintf(&m, "CSeq: %d ACK\r\n", d.CSeq)
	m.WriteString("Content-Length: 0\r\n\r\n")
	return m.String()
}

// Bye tears down an answered call. It needs the To-tag, a fresh branch,
// and the CSeq incremented by one from the INVITE.
func (b *Builder) Bye(d *Dialog) string {
	var m strings.Builder
	fmt.Fprintf(&m, "BYE %s SIP/2.0\r\n", b.requestURI())
	m.WriteString(b.via(NewBranch()))
	m.WriteString("Max-Forwards: 70\r\n")
	m.WriteString(b.from(d.FromTag))
	m.WriteString(b.to(d.ToTag))
	fmt.Fprintf(&m, "Call-ID: %s\r\n", d.CallID)
	fmt.Fprintf(&m, "CSeq: %d BYE\r\n", d.CSeq+1)
	m.WriteString("Content-Length: 0\r\n\r\n")
	return m.String()
}
