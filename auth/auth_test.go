package auth

import (
	"encoding/base64"
	"strings"
	"testing"

	"testmaild/mailbox"
)

func newTestStore() *mailbox.MailboxStore {
	store := mailbox.NewMailboxStore()
	store.AddMailbox("alice", "secretpw", "alice@example.com")
	return store
}

func TestPlainExchangeVerifiesRealSecret(t *testing.T) {
	store := newTestStore()
	r := NewRegistry()
	e, ok := r.New(MechPlain)
	if !ok {
		t.Fatalf("PLAIN not registered")
	}

	_, done, err := e.Step("")
	if err != nil || done {
		t.Fatalf("initial Step() = done=%v err=%v", done, err)
	}

	payload := "\x00alice\x00secretpw"
	_, done, err = e.Step(base64.StdEncoding.EncodeToString([]byte(payload)))
	if err != nil || !done {
		t.Fatalf("Step(payload) = done=%v err=%v", done, err)
	}

	ok, username := e.Verify(store)
	if !ok || username != "alice" {
		t.Fatalf("Verify() = %v, %q", ok, username)
	}
}

func TestPlainExchangeRejectsWrongSecret(t *testing.T) {
	store := newTestStore()
	r := NewRegistry()
	e, _ := r.New(MechPlain)
	e.Step("")
	payload := base64.StdEncoding.EncodeToString([]byte("\x00alice\x00wrong"))
	e.Step(payload)

	if ok, _ := e.Verify(store); ok {
		t.Fatalf("Verify() = true, want false for wrong secret")
	}
}

func TestLoginExchangePromptsUsernameThenPassword(t *testing.T) {
	store := newTestStore()
	r := NewRegistry()
	e, _ := r.New(MechLogin)

	c1, done, err := e.Step("")
	if err != nil || done {
		t.Fatalf("Step(\"\") = done=%v err=%v", done, err)
	}
	prompt1, _ := base64.StdEncoding.DecodeString(c1)
	if !strings.Contains(string(prompt1), "Username") {
		t.Fatalf("first prompt = %q", prompt1)
	}

	c2, done, err := e.Step(base64.StdEncoding.EncodeToString([]byte("alice")))
	if err != nil || done {
		t.Fatalf("Step(username) = done=%v err=%v", done, err)
	}
	prompt2, _ := base64.StdEncoding.DecodeString(c2)
	if !strings.Contains(string(prompt2), "Password") {
		t.Fatalf("second prompt = %q", prompt2)
	}

	_, done, err = e.Step(base64.StdEncoding.EncodeToString([]byte("secretpw")))
	if err != nil || !done {
		t.Fatalf("Step(password) = done=%v err=%v", done, err)
	}

	ok, username := e.Verify(store)
	if !ok || username != "alice" {
		t.Fatalf("Verify() = %v, %q", ok, username)
	}
}

func TestCramMD5ExchangeVerifiesAgainstChallenge(t *testing.T) {
	store := newTestStore()
	r := NewRegistry()
	e, _ := r.New(MechCramMD5)

	challengeB64, done, err := e.Step("")
	if err != nil || done {
		t.Fatalf("Step(\"\") = done=%v err=%v", done, err)
	}
	challenge, _ := base64.StdEncoding.DecodeString(challengeB64)

	resp := GenerateCramResponse("alice", "secretpw", string(challenge))
	_, done, err = e.Step(base64.StdEncoding.EncodeToString([]byte(resp)))
	if err != nil || !done {
		t.Fatalf("Step(resp) = done=%v err=%v", done, err)
	}

	ok, username := e.Verify(store)
	if !ok || username != "alice" {
		t.Fatalf("Verify() = %v, %q", ok, username)
	}
}

func TestXOAuth2ExchangeUsesSecretAsToken(t *testing.T) {
	store := newTestStore()
	r := NewRegistry()
	e, _ := r.New(MechXOAuth2)

	e.Step("")
	payload := "user=alice\x01auth=Bearer secretpw\x01\x01"
	_, done, err := e.Step(base64.StdEncoding.EncodeToString([]byte(payload)))
	if err != nil || !done {
		t.Fatalf("Step(payload) = done=%v err=%v", done, err)
	}

	ok, username := e.Verify(store)
	if !ok || username != "alice" {
		t.Fatalf("Verify() = %v, %q", ok, username)
	}
}

func TestRegistryMechanismsOrderAndCount(t *testing.T) {
	r := NewRegistry()
	mechs := r.Mechanisms()
	if len(mechs) != 5 {
		t.Fatalf("Mechanisms() len = %d, want 5", len(mechs))
	}
	want := []string{MechPlain, MechLogin, MechCramMD5, MechDigestMD5, MechXOAuth2}
	for i, m := range want {
		if mechs[i] != m {
			t.Fatalf("Mechanisms()[%d] = %q, want %q", i, mechs[i], m)
		}
	}
}

func TestRedactAuthArgs(t *testing.T) {
	args := []string{"PLAIN", "base64payload"}
	redacted := RedactAuthArgs(args)
	if redacted[1] != "[redacted]" {
		t.Fatalf("RedactAuthArgs()[1] = %q", redacted[1])
	}
	if args[1] != "base64payload" {
		t.Fatalf("RedactAuthArgs mutated input")
	}
}
