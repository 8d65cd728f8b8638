// Package mailbox provides the in-memory mailbox store shared by the
// SMTP and POP3 protocol engines. It holds no durable state: everything
// lives for the lifetime of the owning MailboxStore and is discarded
// when the test harness drops its reference.
package mailbox

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Message is a single stored message. Content is immutable once stored;
// the only protocol-visible mutable field is Deleted, which POP3 toggles
// with DELE/RSET and sweeps on QUIT (Top also records an inspection-only
// last-accessed time). Mutating Deleted on the shared value is sound only
// because at most one connection is ever active against a given server
// (see DESIGN.md and spec.md §5/§9).
type Message struct {
	content      string
	uid          string
	deleted      bool
	storedAt     time.Time
	lastAccessed time.Time
}

// NewMessage constructs a Message, deriving its UID from content.
func NewMessage(content string) *Message {
	sum := md5.Sum([]byte(content))
	return &Message{
		content:  content,
		uid:      hex.EncodeToString(sum[:]),
		storedAt: time.Now(),
	}
}

// Content returns the immutable message body.
func (m *Message) Content() string { return m.content }

// Size returns the byte length of the message content.
func (m *Message) Size() int { return len(m.content) }

// UID returns the lowercase hex MD5 of the message content. Stable and
// unique per distinct content.
func (m *Message) UID() string { return m.uid }

// Deleted reports whether the message is flagged for removal.
func (m *Message) Deleted() bool { return m.deleted }

// SetDeleted flags or unflags the message for removal.
func (m *Message) SetDeleted(v bool) { m.deleted = v }

// LastAccessed returns the time Top (POP3 TOP) last read this message,
// the zero Time if never accessed. Content, which POP3 RETR uses, does
// not update it. Inspection-only; has no protocol effect.
func (m *Message) LastAccessed() time.Time { return m.lastAccessed }

func (m *Message) markAccessed() { m.lastAccessed = time.Now() }

// Top returns the first n CRLF-separated lines of content, joined by
// CRLF with no trailing CRLF. If n is greater than or equal to the
// number of lines, the full content is returned.
func (m *Message) Top(n int) string {
	m.markAccessed()
	if n < 0 {
		n = 0
	}
	lines := strings.Split(m.content, "\r\n")
	if n >= len(lines) {
		return m.content
	}
	return strings.Join(lines[:n], "\r\n")
}

// Mailbox is a single user's inbox: credentials plus an ordered message
// sequence. POP3 numbering is 1-based over insertion order.
type Mailbox struct {
	mu sync.RWMutex

	id        uuid.UUID
	username  string
	secret    string
	hashed    bool
	email     string
	messages  []*Message
	createdAt time.Time
}

// Username returns the mailbox's login name.
func (b *Mailbox) Username() string { return b.username }

// Email returns the mailbox's primary address.
func (b *Mailbox) Email() string { return b.email }

// ID returns a harness-visible identifier for this mailbox, independent
// of any message UID.
func (b *Mailbox) ID() uuid.UUID { return b.id }

// CreatedAt returns when the mailbox was added to its store.
func (b *Mailbox) CreatedAt() time.Time { return b.createdAt }

// VerifySecret checks a cleartext password against the stored secret.
// It supports both cleartext and bcrypt-hashed secrets transparently.
func (b *Mailbox) VerifySecret(candidate string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.hashed {
		return bcrypt.CompareHashAndPassword([]byte(b.secret), []byte(candidate)) == nil
	}
	return b.secret == candidate
}

// CleartextSecret returns the mailbox's shared secret for mechanisms
// that require it directly (CRAM-MD5, DIGEST-MD5), and whether it is
// available in cleartext. Hashed mailboxes cannot serve these
// mechanisms since the HMAC construction needs the plaintext secret.
func (b *Mailbox) CleartextSecret() (secret string, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.hashed {
		return "", false
	}
	return b.secret, true
}

// AddMessage appends a new, non-deleted message built from content.
func (b *Mailbox) AddMessage(content string) *Message {
	msg := NewMessage(content)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return msg
}

// Messages returns a snapshot slice of this mailbox's messages.
// Mutating the returned slice does not affect the mailbox; mutating a
// *Message's Deleted flag through it is the one sanctioned shared
// mutation (spec.md §5).
func (b *Mailbox) Messages() []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// RemoveDeletedMessages drops, in place, every message flagged Deleted.
func (b *Mailbox) RemoveDeletedMessages() {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.messages[:0]
	for _, m := range b.messages {
		if !m.deleted {
			kept = append(kept, m)
		}
	}
	b.messages = kept
}

// ClearDeletedFlags resets every message's Deleted flag to false. Used
// by POP3 RSET.
func (b *Mailbox) ClearDeletedFlags() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.messages {
		m.deleted = false
	}
}

// Stat returns the count and total size of non-deleted messages.
func (b *Mailbox) Stat() (count, size int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.messages {
		if !m.deleted {
			count++
			size += m.Size()
		}
	}
	return count, size
}

// MailboxStore maps usernames (and, for lookup, primary email
// addresses) to Mailboxes. Safe for concurrent use by the protocol
// worker goroutine and any number of harness goroutines.
type MailboxStore struct {
	mu      sync.RWMutex
	byUser  map[string]*Mailbox
	byEmail map[string]*Mailbox
}

// NewMailboxStore creates an empty store.
func NewMailboxStore() *MailboxStore {
	return &MailboxStore{
		byUser:  make(map[string]*Mailbox),
		byEmail: make(map[string]*Mailbox),
	}
}

// AddMailbox inserts a new mailbox with a cleartext secret. No
// duplicate-username check is performed; a later call with the same
// username replaces the earlier mapping (last write wins).
func (s *MailboxStore) AddMailbox(username, secret, email string) *Mailbox {
	return s.addMailbox(username, secret, email, false)
}

// AddMailboxHashed inserts a new mailbox whose secret is a bcrypt hash
// of the real password. PLAIN/LOGIN/AUTH verification works normally;
// CRAM-MD5 and DIGEST-MD5 cannot authenticate against it (see
// CleartextSecret) since those mechanisms require the plaintext shared
// secret to compute an HMAC.
func (s *MailboxStore) AddMailboxHashed(username, cleartextSecret, email string) (*Mailbox, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(cleartextSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("mailbox: hash secret: %w", err)
	}
	return s.addMailbox(username, string(hash), email, true), nil
}

func (s *MailboxStore) addMailbox(username, secret, email string, hashed bool) *Mailbox {
	mb := &Mailbox{
		id:        uuid.New(),
		username:  username,
		secret:    secret,
		hashed:    hashed,
		email:     email,
		createdAt: time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[username] = mb
	if email != "" {
		s.byEmail[email] = mb
	}
	return mb
}

// FindMailbox performs an exact-match lookup by username or email.
func (s *MailboxStore) FindMailbox(usernameOrEmail string) (*Mailbox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mb, ok := s.byUser[usernameOrEmail]; ok {
		return mb, true
	}
	mb, ok := s.byEmail[usernameOrEmail]
	return mb, ok
}
