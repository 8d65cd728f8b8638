package mailbox

import (
	"crypto/md5"
	"encoding/hex"
	"testing"
)

func TestMessageUIDStable(t *testing.T) {
	m1 := NewMessage("Subject: Hi\r\n\r\nHello\r\n.")
	m2 := NewMessage("Subject: Hi\r\n\r\nHello\r\n.")
	sum := md5.Sum([]byte("Subject: Hi\r\n\r\nHello\r\n."))
	want := hex.EncodeToString(sum[:])

	if m1.UID() != want {
		t.Fatalf("UID() = %q, want %q", m1.UID(), want)
	}
	if m1.UID() != m2.UID() {
		t.Fatalf("UID not stable across identical content: %q != %q", m1.UID(), m2.UID())
	}
}

func TestMessageTop(t *testing.T) {
	m := NewMessage("L1\r\nL2\r\nL3")

	if got := m.Top(2); got != "L1\r\nL2" {
		t.Fatalf("Top(2) = %q", got)
	}
	if got := m.Top(10); got != "L1\r\nL2\r\nL3" {
		t.Fatalf("Top(10) = %q, want full content", got)
	}
}

func TestMailboxStatExcludesDeleted(t *testing.T) {
	store := NewMailboxStore()
	mb := store.AddMailbox("alice", "pw", "alice@localhost")

	mb.AddMessage("A")
	b := mb.AddMessage("B")

	count, size := mb.Stat()
	if count != 2 || size != 2 {
		t.Fatalf("Stat() = (%d, %d), want (2, 2)", count, size)
	}

	b.SetDeleted(true)
	count, size = mb.Stat()
	if count != 1 || size != 1 {
		t.Fatalf("Stat() after delete = (%d, %d), want (1, 1)", count, size)
	}
}

func TestRemoveDeletedMessagesPreservesOrder(t *testing.T) {
	store := NewMailboxStore()
	mb := store.AddMailbox("alice", "pw", "alice@localhost")

	mb.AddMessage("A")
	m2 := mb.AddMessage("B")
	mb.AddMessage("C")

	m2.SetDeleted(true)
	mb.RemoveDeletedMessages()

	msgs := mb.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(Messages()) = %d, want 2", len(msgs))
	}
	if msgs[0].Content() != "A" || msgs[1].Content() != "C" {
		t.Fatalf("order not preserved: %q, %q", msgs[0].Content(), msgs[1].Content())
	}
}

func TestClearDeletedFlagsRestoresStat(t *testing.T) {
	store := NewMailboxStore()
	mb := store.AddMailbox("alice", "pw", "alice@localhost")
	mb.AddMessage("A")
	b := mb.AddMessage("B")

	countBefore, sizeBefore := mb.Stat()

	b.SetDeleted(true)
	mb.ClearDeletedFlags()

	count, size := mb.Stat()
	if count != countBefore || size != sizeBefore {
		t.Fatalf("RSET did not restore STAT: got (%d, %d), want (%d, %d)", count, size, countBefore, sizeBefore)
	}
}

func TestMessagesSnapshotDoesNotAliasMailbox(t *testing.T) {
	store := NewMailboxStore()
	mb := store.AddMailbox("alice", "pw", "alice@localhost")
	mb.AddMessage("A")

	snap := mb.Messages()
	snap[0] = nil // mutate the snapshot slice itself

	if mb.Messages()[0] == nil {
		t.Fatal("mutating the snapshot slice affected the mailbox")
	}
}

func TestFindMailboxByUsernameOrEmail(t *testing.T) {
	store := NewMailboxStore()
	store.AddMailbox("alice", "pw", "alice@localhost")

	if _, ok := store.FindMailbox("alice"); !ok {
		t.Fatal("expected lookup by username to succeed")
	}
	if _, ok := store.FindMailbox("alice@localhost"); !ok {
		t.Fatal("expected lookup by email to succeed")
	}
	if _, ok := store.FindMailbox("bob"); ok {
		t.Fatal("expected lookup for unknown user to fail")
	}
}

func TestVerifySecretCleartextAndHashed(t *testing.T) {
	store := NewMailboxStore()
	mb := store.AddMailbox("alice", "pw", "alice@localhost")
	if !mb.VerifySecret("pw") || mb.VerifySecret("wrong") {
		t.Fatal("cleartext VerifySecret behaved incorrectly")
	}

	hashedStore := NewMailboxStore()
	hmb, err := hashedStore.AddMailboxHashed("bob", "s3cret", "bob@localhost")
	if err != nil {
		t.Fatalf("AddMailboxHashed: %v", err)
	}
	if !hmb.VerifySecret("s3cret") || hmb.VerifySecret("wrong") {
		t.Fatal("hashed VerifySecret behaved incorrectly")
	}
	if _, ok := hmb.CleartextSecret(); ok {
		t.Fatal("expected CleartextSecret to be unavailable for a hashed mailbox")
	}
}
