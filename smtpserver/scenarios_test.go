package smtpserver

import (
	"strings"
	"testing"

	"testmaild/auth"
	"testmaild/mailbox"
)

// TestScenarioSMTPPlainAuthAndDelivery exercises the PLAIN-auth
// end-to-end delivery path: EHLO, AUTH PLAIN, MAIL/RCPT/DATA, and the
// resulting mailbox content with dot-stuffing undone.
func TestScenarioSMTPPlainAuthAndDelivery(t *testing.T) {
	store := mailbox.NewMailboxStore()
	store.AddMailbox("alice", "password", "alice@localhost")
	store.AddMailbox("bob", "password", "bob@localhost")
	srv := NewServer(Config{Hostname: "localhost"}, store, auth.NewRegistry(), silentLogger())
	c := dial(t, srv)
	c.readLine(t) // banner

	c.send(t, "EHLO localhost")
	first := c.readLine(t)
	if !strings.HasPrefix(first, "250-localhost Hello localhost") {
		t.Fatalf("unexpected EHLO greeting: %q", first)
	}
	for {
		line := c.readLine(t)
		if strings.HasPrefix(line, "250 ") {
			if line != "250 OK" {
				t.Fatalf("terminal EHLO line = %q, want \"250 OK\"", line)
			}
			break
		}
	}

	c.send(t, "AUTH PLAIN AGFsaWNlAHBhc3N3b3Jk")
	if resp := c.readLine(t); resp != "235 2.7.0 Authentication succeeded" {
		t.Fatalf("AUTH PLAIN: got %q", resp)
	}

	c.send(t, "MAIL FROM:<alice@localhost>")
	if resp := c.readLine(t); resp != "250 2.1.0 Ok" {
		t.Fatalf("MAIL FROM: got %q", resp)
	}

	c.send(t, "RCPT TO:<bob@localhost>")
	if resp := c.readLine(t); resp != "250 2.1.5 Ok" {
		t.Fatalf("RCPT TO: got %q", resp)
	}

	c.send(t, "DATA")
	if resp := c.readLine(t); !strings.HasPrefix(resp, "354") {
		t.Fatalf("DATA: got %q", resp)
	}
	c.send(t, "Subject: Hi")
	c.send(t, "")
	c.send(t, "Hello")
	c.send(t, "..")
	c.send(t, ".")
	if resp := c.readLine(t); resp != "250 2.6.0 Message accepted" {
		t.Fatalf("end of DATA: got %q", resp)
	}

	mb, _ := store.FindMailbox("bob")
	msgs := mb.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message in bob's mailbox, got %d", len(msgs))
	}
	want := "Subject: Hi\r\n\r\nHello\r\n."
	if msgs[0].Content() != want {
		t.Fatalf("content = %q, want %q", msgs[0].Content(), want)
	}
}

// TestScenarioSMTPAuthenticationRequired exercises the
// authenticationRequired=true rejection path ahead of any AUTH.
func TestScenarioSMTPAuthenticationRequired(t *testing.T) {
	store := mailbox.NewMailboxStore()
	srv := NewServer(Config{Hostname: "localhost", AuthenticationRequired: true}, store, auth.NewRegistry(), silentLogger())
	c := dial(t, srv)
	c.readLine(t)

	c.send(t, "MAIL FROM:<x@y>")
	resp := c.readLine(t)
	if resp != "530 5.7.0 Authentication required" {
		t.Fatalf("got %q, want 530 5.7.0 Authentication required", resp)
	}
}
