package smtp

import (
	"encoding/base64"
	"errors"
	"testing"

	"testmaild/auth"
	"testmaild/mailbox"
)

func newTestSession() (*Session, *mailbox.MailboxStore) {
	store := mailbox.NewMailboxStore()
	store.AddMailbox("alice", "secretpw", "alice@example.com")
	return NewSession(store, auth.NewRegistry()), store
}

func TestHELOTransitionsToHeloState(t *testing.T) {
	s, _ := newTestSession()
	resp, err := s.HandleHELO([]string{"client.example.com"}, "mail.test")
	if err != nil {
		t.Fatalf("HandleHELO: %v", err)
	}
	if resp != "250 mail.test" {
		t.Fatalf("resp = %q", resp)
	}
	if s.State != StateHelo {
		t.Fatalf("State = %s", s.State)
	}
}

func TestMAILBeforeHELOIsBadSequence(t *testing.T) {
	s, _ := newTestSession()
	_, err := s.HandleMAIL([]string{"FROM:<sender@example.com>"})
	if !errors.Is(err, ErrBadSequence) {
		t.Fatalf("err = %v, want ErrBadSequence", err)
	}
}

func TestRCPTToUnknownMailboxIsAcceptedAtEnvelopeTime(t *testing.T) {
	s, _ := newTestSession()
	s.HandleHELO([]string{"client"}, "mail.test")
	s.HandleMAIL([]string{"FROM:<sender@example.com>"})
	resp, err := s.HandleRCPT([]string{"TO:<nobody@example.com>"})
	if err != nil {
		t.Fatalf("HandleRCPT: %v", err)
	}
	if resp != "250 2.1.5 Ok" {
		t.Fatalf("resp = %q", resp)
	}
	if len(s.To) != 1 || s.To[0] != "nobody@example.com" {
		t.Fatalf("To = %v", s.To)
	}
}

func TestRCPTToInvalidAddressIsRejected(t *testing.T) {
	s, _ := newTestSession()
	s.HandleHELO([]string{"client"}, "mail.test")
	s.HandleMAIL([]string{"FROM:<sender@example.com>"})
	_, err := s.HandleRCPT([]string{"TO:<not-an-address>"})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestDeliverOnlyReachesMailboxesThatExist(t *testing.T) {
	s, store := newTestSession()
	s.HandleHELO([]string{"client"}, "mail.test")
	s.HandleMAIL([]string{"FROM:<sender@example.com>"})
	s.HandleRCPT([]string{"TO:<nobody@example.com>"})
	s.HandleRCPT([]string{"TO:<alice@example.com>"})
	s.Deliver("Subject: hi\r\n\r\nbody")

	mb, _ := store.FindMailbox("alice@example.com")
	if len(mb.Messages()) != 1 {
		t.Fatalf("expected delivery to existing mailbox, got %d messages", len(mb.Messages()))
	}
}

func TestFullEnvelopeDeliversToMailbox(t *testing.T) {
	s, store := newTestSession()
	s.HandleHELO([]string{"client"}, "mail.test")
	if _, err := s.HandleMAIL([]string{"FROM:<sender@example.com>"}); err != nil {
		t.Fatalf("HandleMAIL: %v", err)
	}
	if _, err := s.HandleRCPT([]string{"TO:<alice@example.com>"}); err != nil {
		t.Fatalf("HandleRCPT: %v", err)
	}
	if err := s.HandleDATA(); err != nil {
		t.Fatalf("HandleDATA: %v", err)
	}
	if s.State != StateData {
		t.Fatalf("State = %s, want StateData", s.State)
	}

	s.Deliver("Subject: hi\r\n\r\nbody")

	mb, _ := store.FindMailbox("alice@example.com")
	msgs := mb.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if msgs[0].Content() != "Subject: hi\r\n\r\nbody" {
		t.Fatalf("content = %q", msgs[0].Content())
	}
	if s.From != "" || len(s.To) != 0 {
		t.Fatalf("envelope not reset after Deliver")
	}
	if s.State != StateHelo {
		t.Fatalf("State after Deliver = %s, want StateHelo", s.State)
	}
}

func TestRSETClearsEnvelope(t *testing.T) {
	s, _ := newTestSession()
	s.HandleHELO([]string{"client"}, "mail.test")
	s.HandleMAIL([]string{"FROM:<sender@example.com>"})
	if _, err := s.HandleRSET(); err != nil {
		t.Fatalf("HandleRSET: %v", err)
	}
	if s.From != "" {
		t.Fatalf("From = %q after RSET", s.From)
	}
	if s.State != StateHelo {
		t.Fatalf("State = %s after RSET", s.State)
	}
}

func TestPlainAuthSucceedsAgainstRealMailbox(t *testing.T) {
	s, _ := newTestSession()
	s.HandleHELO([]string{"client"}, "mail.test")

	payload := "\x00alice\x00secretpw"
	_, done, _, err := s.BeginAuth("PLAIN", b64(payload))
	if err != nil {
		t.Fatalf("BeginAuth: %v", err)
	}
	if !done {
		t.Fatalf("done = false, want true for initial-response PLAIN")
	}
	if !s.Authenticated {
		t.Fatalf("Authenticated = false")
	}
	if s.AuthUser != "alice" {
		t.Fatalf("AuthUser = %q", s.AuthUser)
	}
}

func TestPlainAuthFailsWithWrongSecret(t *testing.T) {
	s, _ := newTestSession()
	s.HandleHELO([]string{"client"}, "mail.test")

	payload := "\x00alice\x00wrongpw"
	s.BeginAuth("PLAIN", b64(payload))
	if s.Authenticated {
		t.Fatalf("Authenticated = true for wrong secret")
	}
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
