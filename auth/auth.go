// Package auth implements the SASL mechanism registry: PLAIN, LOGIN,
// CRAM-MD5, DIGEST-MD5, and XOAUTH2, each verified against a real
// mailbox.MailboxStore rather than pattern-matched.
package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"testmaild/mailbox"
)

// Mechanism name constants, the exact five required.
const (
	MechPlain     = "PLAIN"
	MechLogin     = "LOGIN"
	MechCramMD5   = "CRAM-MD5"
	MechDigestMD5 = "DIGEST-MD5"
	MechXOAuth2   = "XOAUTH2"
)

// Exchange drives one SASL authentication attempt to completion. Step
// is called once per client continuation line, still base64-encoded as
// received (Step decodes it); an empty response on the first call means
// "no initial response was supplied, send your first challenge". Step
// returns the next challenge to send, already base64-encoded, and
// whether the exchange is complete. Once done, Verify checks the
// collected credentials against store.
type Exchange interface {
	Step(response string) (challenge string, done bool, err error)
	Verify(store *mailbox.MailboxStore) (ok bool, username string)
}

// Factory constructs a fresh Exchange for one authentication attempt.
type Factory func() Exchange

// Registry holds the set of SASL mechanisms a server advertises and
// accepts.
type Registry struct {
	factories map[string]Factory
	order     []string
}

// NewRegistry returns a Registry pre-populated with the five required
// mechanisms, in the order they should be advertised.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(MechPlain, func() Exchange { return &plainExchange{} })
	r.Register(MechLogin, func() Exchange { return &loginExchange{} })
	r.Register(MechCramMD5, func() Exchange { return newCramExchange() })
	r.Register(MechDigestMD5, func() Exchange { return newDigestExchange() })
	r.Register(MechXOAuth2, func() Exchange { return &xoauth2Exchange{} })
	return r
}

// Register adds or replaces a mechanism. Order of first registration
// is preserved for Mechanisms().
func (r *Registry) Register(name string, f Factory) {
	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = f
}

// New creates a fresh Exchange for the named mechanism.
func (r *Registry) New(name string) (Exchange, bool) {
	f, ok := r.factories[strings.ToUpper(name)]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Mechanisms returns the advertised mechanism names in registration order.
func (r *Registry) Mechanisms() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RedactAuthArgs returns a copy of args with credential payloads
// replaced, safe for logging. AUTH mechanisms normally carry the
// credential data as the second argument.
func RedactAuthArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	out := make([]string, len(args))
	copy(out, args)
	if len(out) > 1 {
		out[1] = "[redacted]"
	}
	return out
}

func decodeB64(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	return string(b), nil
}

func encodeB64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// --- PLAIN (RFC 4616) ---

type plainExchange struct {
	started  bool
	username string
	password string
	decoded  bool
}

func (e *plainExchange) Step(response string) (string, bool, error) {
	if !e.started && response == "" {
		e.started = true
		return "", false, nil
	}
	decoded, err := decodeB64(response)
	if err != nil {
		return "", false, err
	}
	parts := strings.SplitN(decoded, "\x00", 3)
	if len(parts) != 3 {
		return "", false, fmt.Errorf("malformed PLAIN response")
	}
	e.username = parts[1]
	e.password = parts[2]
	e.decoded = true
	return "", true, nil
}

func (e *plainExchange) Verify(store *mailbox.MailboxStore) (bool, string) {
	if !e.decoded {
		return false, ""
	}
	mb, ok := store.FindMailbox(e.username)
	if !ok {
		return false, e.username
	}
	return mb.VerifySecret(e.password), e.username
}

// --- LOGIN ---

type loginExchange struct {
	step     int
	username string
	password string
}

func (e *loginExchange) Step(response string) (string, bool, error) {
	switch e.step {
	case 0:
		e.step = 1
		return encodeB64("Username:"), false, nil
	case 1:
		decoded, err := decodeB64(response)
		if err != nil {
			return "", false, err
		}
		e.username = decoded
		e.step = 2
		return encodeB64("Password:"), false, nil
	case 2:
		decoded, err := decodeB64(response)
		if err != nil {
			return "", false, err
		}
		e.password = decoded
		e.step = 3
		return "", true, nil
	default:
		return "", false, fmt.Errorf("LOGIN exchange already complete")
	}
}

func (e *loginExchange) Verify(store *mailbox.MailboxStore) (bool, string) {
	mb, ok := store.FindMailbox(e.username)
	if !ok {
		return false, e.username
	}
	return mb.VerifySecret(e.password), e.username
}

// --- CRAM-MD5 (RFC 2195) ---

type cramExchange struct {
	challenge string
	started   bool
	username  string
	digest    string
}

func newCramExchange() *cramExchange {
	return &cramExchange{challenge: fmt.Sprintf("<%d.%d@testmaild>", randomNonce(), os.Getpid())}
}

func (e *cramExchange) Step(response string) (string, bool, error) {
	if !e.started {
		e.started = true
		return encodeB64(e.challenge), false, nil
	}
	decoded, err := decodeB64(response)
	if err != nil {
		return "", false, err
	}
	parts := strings.SplitN(decoded, " ", 2)
	if len(parts) != 2 {
		return "", false, fmt.Errorf("malformed CRAM-MD5 response")
	}
	e.username = parts[0]
	e.digest = parts[1]
	return "", true, nil
}

func (e *cramExchange) Verify(store *mailbox.MailboxStore) (bool, string) {
	mb, ok := store.FindMailbox(e.username)
	if !ok {
		return false, e.username
	}
	secret, plain := mb.CleartextSecret()
	if !plain {
		return false, e.username
	}
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(e.challenge))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(e.digest)), e.username
}

// --- DIGEST-MD5 (RFC 2831, simplified to the exchange shape) ---

type digestExchange struct {
	nonce     string
	started   bool
	username  string
	realm     string
	response  string
	digestURI string
	cnonce    string
	nc        string
	qop       string
}

func newDigestExchange() *digestExchange {
	return &digestExchange{nonce: fmt.Sprintf("%x", randomNonce())}
}

var digestAttrRe = regexp.MustCompile(`([\w-]+)="?([^",]*)"?`)

func (e *digestExchange) Step(response string) (string, bool, error) {
	if !e.started {
		e.started = true
		challenge := fmt.Sprintf(`realm="testmaild",nonce="%s",qop="auth",charset=utf-8,algorithm=md5-sess`, e.nonce)
		return encodeB64(challenge), false, nil
	}
	decoded, err := decodeB64(response)
	if err != nil {
		return "", false, err
	}
	attrs := make(map[string]string)
	for _, m := range digestAttrRe.FindAllStringSubmatch(decoded, -1) {
		attrs[m[1]] = m[2]
	}
	e.username = attrs["username"]
	e.realm = attrs["realm"]
	e.digestURI = attrs["digest-uri"]
	e.response = attrs["response"]
	e.cnonce = attrs["cnonce"]
	e.nc = attrs["nc"]
	e.qop = attrs["qop"]
	if e.username == "" || e.response == "" {
		return "", false, fmt.Errorf("malformed DIGEST-MD5 response")
	}
	return encodeB64("rspauth=" + e.response), true, nil
}

func (e *digestExchange) Verify(store *mailbox.MailboxStore) (bool, string) {
	mb, ok := store.FindMailbox(e.username)
	if !ok {
		return false, e.username
	}
	secret, plain := mb.CleartextSecret()
	if !plain {
		return false, e.username
	}

	ha1 := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", e.username, e.realm, secret)))
	ha1sess := md5.Sum(append(ha1[:], fmt.Sprintf(":%s:%s", e.nonce, e.cnonce)...))
	ha2 := md5.Sum([]byte(fmt.Sprintf("AUTHENTICATE:%s", e.digestURI)))
	expected := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s:%s:%s:%s", hex.EncodeToString(ha1sess[:]), e.nonce, e.nc, e.cnonce, e.qop, hex.EncodeToString(ha2[:]))))
	return hmac.Equal([]byte(hex.EncodeToString(expected[:])), []byte(e.response)), e.username
}

// --- XOAUTH2 (Google/Microsoft extension) ---

type xoauth2Exchange struct {
	started  bool
	username string
	token    string
	decoded  bool
}

var oauthUserRe = regexp.MustCompile(`user=([^\x01]*)`)
var oauthAuthRe = regexp.MustCompile(`auth=Bearer ([^\x01]*)`)

func (e *xoauth2Exchange) Step(response string) (string, bool, error) {
	if !e.started && response == "" {
		e.started = true
		return "", false, nil
	}
	decoded, err := decodeB64(response)
	if err != nil {
		return "", false, err
	}
	um := oauthUserRe.FindStringSubmatch(decoded)
	am := oauthAuthRe.FindStringSubmatch(decoded)
	if um == nil || am == nil {
		return "", false, fmt.Errorf("malformed XOAUTH2 response")
	}
	e.username = um[1]
	e.token = am[1]
	e.decoded = true
	return "", true, nil
}

func (e *xoauth2Exchange) Verify(store *mailbox.MailboxStore) (bool, string) {
	if !e.decoded {
		return false, ""
	}
	mb, ok := store.FindMailbox(e.username)
	if !ok {
		return false, e.username
	}
	// The bearer token stands in for the mailbox secret: this is a
	// test double, not a real OAuth2 resource server.
	return mb.VerifySecret(e.token), e.username
}

// GenerateCramResponse computes the client-side CRAM-MD5 response for
// a given username, secret, and server challenge. Exposed for tests
// and for CLI tooling that needs to exercise the mechanism end to end.
func GenerateCramResponse(username, secret, challenge string) string {
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(challenge))
	return username + " " + hex.EncodeToString(mac.Sum(nil))
}

func randomNonce() int64 {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().UnixNano()
	}
	var n int64
	for _, c := range b {
		n = n<<8 | int64(c)
	}
	if n < 0 {
		n = -n
	}
	return n
}
