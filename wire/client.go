// Package wire provides the CRLF line-framed connection shared by the
// SMTP and POP3 protocol engines, together with a session transcript
// used by test harnesses to assert on exact wire traffic.
package wire

import (
	"bufio"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
)

// Log captures every line sent and received on a connection, prefixed
// "C: " for client-sent lines and "S: " for server-sent lines, in the
// order they crossed the wire. Safe for concurrent read by a harness
// while the owning Client is still live.
type Log struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (l *Log) appendLine(prefix, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.WriteString(prefix)
	l.buf.WriteString(line)
	l.buf.WriteString("\n")
}

// String returns the full transcript so far.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// Client is a CRLF line-oriented connection. Reads and writes are ASCII
// framed by CRLF; DATA/message bodies passed through WriteLine/ReadLine
// may themselves carry 8-bit clean bytes between the terminators.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	tp     *textproto.Reader
	log    *Log
}

// NewClient wraps conn with CRLF line framing and a fresh session log.
func NewClient(conn net.Conn) *Client {
	r := bufio.NewReader(conn)
	return &Client{
		conn:   conn,
		reader: r,
		tp:     textproto.NewReader(r),
		log:    &Log{},
	}
}

// Conn returns the underlying network connection (for TLS state,
// peer address inspection, and the rare case a caller needs to
// manipulate read deadlines directly).
func (c *Client) Conn() net.Conn { return c.conn }

// Log returns the accumulated session transcript.
func (c *Client) Log() *Log { return c.log }

// ReadLine reads a single CRLF-terminated line, returning it without
// the terminator. Returns io.EOF (wrapped by textproto) when the peer
// closes the connection.
func (c *Client) ReadLine() (string, error) {
	line, err := c.tp.ReadLine()
	if err != nil {
		return "", err
	}
	c.log.appendLine("C: ", line)
	return line, nil
}

// WriteLine writes s terminated by CRLF and flushes it immediately.
func (c *Client) WriteLine(s string) error {
	if _, err := c.conn.Write([]byte(s + "\r\n")); err != nil {
		return err
	}
	c.log.appendLine("S: ", s)
	return nil
}

// WriteLines writes each line via WriteLine, in order.
func (c *Client) WriteLines(lines ...string) error {
	for _, l := range lines {
		if err := c.WriteLine(l); err != nil {
			return err
		}
	}
	return nil
}

// WriteContinuation writes a SASL/protocol continuation prompt. smtp
// formats it "334 <prompt>"; pop3 formats it "+ <prompt>".
func (c *Client) WriteContinuation(protocolPrefix, prompt string) error {
	return c.WriteLine(fmt.Sprintf("%s %s", protocolPrefix, prompt))
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
