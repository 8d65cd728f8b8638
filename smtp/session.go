package smtp

import (
	"fmt"
	"strings"

	"testmaild/auth"
	"testmaild/mailbox"
)

// Session holds the mutable state of a single SMTP connection: its
// current protocol state, negotiated hostname, envelope in progress,
// and authentication outcome. One Session exists per connection
// (spec.md §5's one-connection-at-a-time model).
type Session struct {
	State State

	Hostname string // client-supplied EHLO/HELO argument

	From string   // envelope sender, set by MAIL FROM
	To   []string // envelope recipients, set by RCPT TO

	Authenticated bool
	AuthUser      string

	// pendingMechanism holds the SASL mechanism name while StateAuth is
	// in progress (i.e. between AUTH <mech> and the mechanism completing).
	pendingMechanism string
	pendingExchange  auth.Exchange

	store *mailbox.MailboxStore
	auths *auth.Registry
}

// NewSession creates a Session bound to store for mailbox lookups and
// registry for SASL mechanism verification.
func NewSession(store *mailbox.MailboxStore, registry *auth.Registry) *Session {
	return &Session{State: StateGreeting, store: store, auths: registry}
}

// Reset clears envelope state, as performed by RSET and after a
// completed DATA transaction. It does not clear HELO/authentication.
func (s *Session) Reset() {
	s.From = ""
	s.To = nil
	if s.State != StateGreeting {
		s.State = StateHelo
	}
}

// HandleHELO processes a HELO command: no capability list is returned.
func (s *Session) HandleHELO(args []string, localHostname string) (string, error) {
	if !IsAllowedInState(CmdHELO, s.State) {
		return "", ErrBadSequence
	}
	s.Hostname = strings.Join(args, " ")
	s.Reset()
	s.State = StateHelo
	return "250 " + localHostname, nil
}

// HandleEHLO processes an EHLO command, returning the full multiline
// capability response (lines joined by "\r\n"; caller splits on "\r\n").
func (s *Session) HandleEHLO(args []string, localHostname string, caps []string) (string, error) {
	if !IsAllowedInState(CmdEHLO, s.State) {
		return "", ErrBadSequence
	}
	s.Hostname = strings.Join(args, " ")
	s.Reset()
	s.State = StateHelo

	lines := make([]string, 0, len(caps)+2)
	lines = append(lines, "250-"+localHostname+" Hello "+s.Hostname)
	for _, c := range caps {
		lines = append(lines, "250-"+c)
	}
	lines = append(lines, "250 OK")
	return strings.Join(lines, "\r\n"), nil
}

// HandleMAIL processes MAIL FROM:<addr>.
func (s *Session) HandleMAIL(args []string) (string, error) {
	if !IsAllowedInState(CmdMAIL, s.State) {
		return "", ErrBadSequence
	}
	addr := MailFromAddress(args)
	if addr != "" && !IsValidMailbox(addr, true) {
		return "", fmt.Errorf("%w: invalid sender address", ErrParse)
	}
	s.From = addr
	s.To = nil
	s.State = StateMail
	return "250 2.1.0 Ok", nil
}

// HandleRCPT processes RCPT TO:<addr>.
func (s *Session) HandleRCPT(args []string) (string, error) {
	if !IsAllowedInState(CmdRCPT, s.State) {
		return "", ErrBadSequence
	}
	addr := RcptToAddress(args)
	if !IsValidMailbox(addr, true) {
		return "", fmt.Errorf("%w: invalid recipient address", ErrParse)
	}
	s.To = append(s.To, addr)
	s.State = StateRcpt
	return "250 2.1.5 Ok", nil
}

// HandleDATA validates that DATA may begin; the caller (smtpserver)
// reads the dot-stuffed body itself and calls Deliver.
func (s *Session) HandleDATA() error {
	if !IsAllowedInState(CmdDATA, s.State) {
		return ErrBadSequence
	}
	s.State = StateData
	return nil
}

// Deliver appends body to every envelope recipient's mailbox and
// returns to the HELO state, clearing the envelope (RFC 5321 §4.1.1.4).
func (s *Session) Deliver(body string) {
	for _, rcpt := range s.To {
		if mb, ok := s.store.FindMailbox(rcpt); ok {
			mb.AddMessage(body)
		}
	}
	s.Reset()
}

// HandleRSET clears the envelope and returns to the HELO state.
func (s *Session) HandleRSET() (string, error) {
	if !IsAllowedInState(CmdRSET, s.State) {
		return "", ErrBadSequence
	}
	s.Reset()
	return "250 2.0.0 Ok", nil
}

// BeginAuth starts a SASL exchange for mechanism name. It returns the
// initial server challenge line (empty for mechanisms with no initial
// challenge) or an error if the mechanism is unknown.
func (s *Session) BeginAuth(mechanism string, initialResponse string) (challenge string, done bool, result string, err error) {
	if !IsAllowedInState(CmdAUTH, s.State) {
		return "", false, "", ErrBadSequence
	}
	ex, ok := s.auths.New(mechanism)
	if !ok {
		return "", false, "", ErrAuthFailed
	}
	s.pendingMechanism = mechanism
	s.pendingExchange = ex
	s.State = StateAuth

	if initialResponse != "" {
		return s.ContinueAuth(initialResponse)
	}
	c, done, err := ex.Step("")
	if err != nil {
		s.failAuth()
		return "", false, "", ErrAuthFailed
	}
	if done {
		return "", true, s.finishAuth(ex), nil
	}
	return c, false, "", nil
}

// ContinueAuth feeds a continuation line, still base64-encoded as
// received, into the in-progress SASL exchange.
func (s *Session) ContinueAuth(response string) (challenge string, done bool, result string, err error) {
	if s.pendingExchange == nil {
		return "", false, "", ErrBadSequence
	}
	c, done, err := s.pendingExchange.Step(response)
	if err != nil {
		s.failAuth()
		return "", false, "", ErrAuthFailed
	}
	if !done {
		return c, false, "", nil
	}
	return "", true, s.finishAuth(s.pendingExchange), nil
}

func (s *Session) finishAuth(ex auth.Exchange) string {
	verified, username := ex.Verify(s.store)
	s.pendingExchange = nil
	s.pendingMechanism = ""
	if !verified {
		s.State = StateHelo
		return "authfailed"
	}
	s.Authenticated = true
	s.AuthUser = username
	s.State = StateHelo
	return "ok"
}

func (s *Session) failAuth() {
	s.pendingExchange = nil
	s.pendingMechanism = ""
	s.State = StateHelo
}
