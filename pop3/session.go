package pop3

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"testmaild/auth"
	"testmaild/mailbox"
)

// Session holds the mutable state of a single POP3 connection: its
// current protocol state, the authenticating username, and (once in
// StateTransaction) a stable snapshot of the mailbox's messages.
// Message numbers are 1-based indices into that snapshot and do not
// change for the life of the session, even as DELE marks entries
// (RFC 1939 §5).
type Session struct {
	State State

	store *mailbox.MailboxStore
	auths *auth.Registry

	apopBanner string
	username   string // set by USER, pending a PASS

	mailbox  *mailbox.Mailbox
	messages []*mailbox.Message

	pendingMechanism string
	pendingExchange  auth.Exchange
}

// NewSession creates a Session bound to store for mailbox lookups and
// registry for AUTH mechanism verification. apopBanner is the greeting
// timestamp challenge advertised in the server's banner line.
func NewSession(store *mailbox.MailboxStore, registry *auth.Registry, apopBanner string) *Session {
	return &Session{State: StateAuthorization, store: store, auths: registry, apopBanner: apopBanner}
}

// APOPBanner returns the timestamp challenge this session advertises,
// e.g. "<1896.697170952@testmaild>".
func (s *Session) APOPBanner() string { return s.apopBanner }

// NewAPOPBanner builds an RFC 1939 Appendix D process-ID/timestamp
// banner for hostname.
func NewAPOPBanner(hostname string) string {
	return fmt.Sprintf("<%d.%d@%s>", os.Getpid(), time.Now().Unix(), hostname)
}

// HandleCAPA returns the capability list advertised in AUTHORIZATION
// and TRANSACTION state (RFC 2449).
func (s *Session) HandleCAPA() []string {
	caps := []string{"USER", "TOP", "UIDL", "RESP-CODES"}
	if len(s.auths.Mechanisms()) > 0 {
		caps = append(caps, "SASL "+strings.Join(s.auths.Mechanisms(), " "))
	}
	return caps
}

// HandleUSER processes the USER command, staging a username for PASS.
func (s *Session) HandleUSER(args []string) (string, error) {
	if !IsAllowedInState(CmdUSER, s.State) {
		return "", ErrBadSequence
	}
	if len(args) < 1 {
		return "", ErrParse
	}
	s.username = args[0]
	return "+OK", nil
}

// HandlePASS verifies the staged username against the given password
// and, on success, transitions to StateTransaction.
func (s *Session) HandlePASS(args []string) (string, error) {
	if !IsAllowedInState(CmdPASS, s.State) {
		return "", ErrBadSequence
	}
	if s.username == "" {
		return "", ErrBadSequence
	}
	if len(args) < 1 {
		return "", ErrParse
	}
	mb, ok := s.store.FindMailbox(s.username)
	if !ok || !mb.VerifySecret(args[0]) {
		s.username = ""
		return "", ErrAuthFailed
	}
	s.beginTransaction(mb)
	return "+OK maildrop locked and ready", nil
}

// HandleAPOP verifies an APOP digest (RFC 1939 §7) computed over this
// session's banner and the mailbox's cleartext secret.
func (s *Session) HandleAPOP(args []string) (string, error) {
	if !IsAllowedInState(CmdAPOP, s.State) {
		return "", ErrBadSequence
	}
	if len(args) < 2 {
		return "", ErrParse
	}
	username, digest := args[0], strings.ToLower(args[1])
	mb, ok := s.store.FindMailbox(username)
	if !ok {
		return "", ErrAuthFailed
	}
	secret, plain := mb.CleartextSecret()
	if !plain {
		return "", ErrAuthFailed
	}
	sum := md5.Sum([]byte(s.apopBanner + secret))
	expected := hex.EncodeToString(sum[:])
	if expected != digest {
		return "", ErrAuthFailed
	}
	s.beginTransaction(mb)
	return "+OK maildrop locked and ready", nil
}

// BeginAuth starts a SASL exchange for the named mechanism (AUTH
// command), mirroring smtp.Session.BeginAuth.
func (s *Session) BeginAuth(mechanism string) (challenge string, done bool, err error) {
	if !IsAllowedInState(CmdAUTH, s.State) {
		return "", false, ErrBadSequence
	}
	ex, ok := s.auths.New(mechanism)
	if !ok {
		return "", false, ErrAuthFailed
	}
	s.pendingMechanism = mechanism
	s.pendingExchange = ex

	c, done, err := ex.Step("")
	if err != nil {
		s.pendingExchange = nil
		return "", false, ErrAuthFailed
	}
	if done {
		return "", true, s.finishAuth(ex)
	}
	return c, false, nil
}

// ContinueAuth feeds a continuation line, still base64-encoded as
// received, into the in-progress SASL exchange.
func (s *Session) ContinueAuth(response string) (challenge string, done bool, err error) {
	if s.pendingExchange == nil {
		return "", false, ErrBadSequence
	}
	c, done, err := s.pendingExchange.Step(response)
	if err != nil {
		s.pendingExchange = nil
		return "", false, ErrAuthFailed
	}
	if !done {
		return c, false, nil
	}
	return "", true, s.finishAuth(s.pendingExchange)
}

func (s *Session) finishAuth(ex auth.Exchange) error {
	verified, username := ex.Verify(s.store)
	s.pendingExchange = nil
	if !verified {
		return ErrAuthFailed
	}
	mb, _ := s.store.FindMailbox(username)
	s.beginTransaction(mb)
	return nil
}

func (s *Session) beginTransaction(mb *mailbox.Mailbox) {
	s.mailbox = mb
	s.messages = mb.Messages()
	s.State = StateTransaction
}

// stat returns the count and total size of non-deleted messages in
// this session's snapshot.
func (s *Session) stat() (count, size int) {
	for _, m := range s.messages {
		if !m.Deleted() {
			count++
			size += m.Size()
		}
	}
	return count, size
}

// HandleSTAT implements STAT.
func (s *Session) HandleSTAT() (string, error) {
	if !IsAllowedInState(CmdSTAT, s.State) {
		return "", ErrBadSequence
	}
	count, size := s.stat()
	return fmt.Sprintf("+OK %d %d", count, size), nil
}

// HandleLIST implements LIST, with or without a message number argument.
func (s *Session) HandleLIST(args []string) ([]string, error) {
	if !IsAllowedInState(CmdLIST, s.State) {
		return nil, ErrBadSequence
	}
	if len(args) > 0 {
		n, msg, err := s.lookup(args[0])
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("+OK %d %d", n, msg.Size())}, nil
	}

	count, size := s.stat()
	lines := []string{fmt.Sprintf("+OK %d messages (%d octets)", count, size)}
	for i, m := range s.messages {
		if !m.Deleted() {
			lines = append(lines, fmt.Sprintf("%d %d", i+1, m.Size()))
		}
	}
	lines = append(lines, ".")
	return lines, nil
}

// HandleUIDL implements UIDL, with or without a message number argument.
func (s *Session) HandleUIDL(args []string) ([]string, error) {
	if !IsAllowedInState(CmdUIDL, s.State) {
		return nil, ErrBadSequence
	}
	if len(args) > 0 {
		n, msg, err := s.lookup(args[0])
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("+OK %d %s", n, msg.UID())}, nil
	}

	lines := []string{"+OK unique-id listing follows"}
	for i, m := range s.messages {
		if !m.Deleted() {
			lines = append(lines, fmt.Sprintf("%d %s", i+1, m.UID()))
		}
	}
	lines = append(lines, ".")
	return lines, nil
}

// HandleRETR implements RETR, returning the message body ready for
// dot-stuffing by the caller.
func (s *Session) HandleRETR(args []string) (string, error) {
	if !IsAllowedInState(CmdRETR, s.State) {
		return "", ErrBadSequence
	}
	if len(args) < 1 {
		return "", ErrParse
	}
	_, msg, err := s.lookup(args[0])
	if err != nil {
		return "", err
	}
	return msg.Content(), nil
}

// HandleTOP implements TOP, returning the first n CRLF-separated lines
// of the message (headers included in the count), via Message.Top.
func (s *Session) HandleTOP(args []string) (string, error) {
	if !IsAllowedInState(CmdTOP, s.State) {
		return "", ErrBadSequence
	}
	if len(args) < 2 {
		return "", ErrParse
	}
	_, msg, err := s.lookup(args[0])
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 {
		return "", ErrParse
	}
	return msg.Top(n), nil
}

// HandleDELE implements DELE, flagging a message for removal on QUIT.
func (s *Session) HandleDELE(args []string) (string, error) {
	if !IsAllowedInState(CmdDELE, s.State) {
		return "", ErrBadSequence
	}
	if len(args) < 1 {
		return "", ErrParse
	}
	_, msg, err := s.lookup(args[0])
	if err != nil {
		return "", err
	}
	msg.SetDeleted(true)
	return "+OK message deleted", nil
}

// HandleNOOP implements NOOP.
func (s *Session) HandleNOOP() (string, error) {
	if !IsAllowedInState(CmdNOOP, s.State) {
		return "", ErrBadSequence
	}
	return "+OK", nil
}

// HandleRSET implements RSET, clearing every deletion mark.
func (s *Session) HandleRSET() (string, error) {
	if !IsAllowedInState(CmdRSET, s.State) {
		return "", ErrBadSequence
	}
	for _, m := range s.messages {
		m.SetDeleted(false)
	}
	return "+OK", nil
}

// Finalize applies the UPDATE-state mark-and-sweep: messages flagged
// deleted during the session are permanently removed from the
// mailbox. Called once, by QUIT from StateTransaction.
func (s *Session) Finalize() {
	if s.mailbox == nil {
		return
	}
	s.mailbox.RemoveDeletedMessages()
	s.State = StateUpdate
}

// lookup resolves a 1-based message number argument to its index and
// Message, rejecting out-of-range or already-deleted numbers.
func (s *Session) lookup(arg string) (int, *mailbox.Message, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(s.messages) {
		return 0, nil, ErrNoSuchMessage
	}
	msg := s.messages[n-1]
	if msg.Deleted() {
		return 0, nil, ErrNoSuchMessage
	}
	return n, msg, nil
}
