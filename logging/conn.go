// Package logging's conn.go provides protocol-agnostic structured
// logging for a single connection, shared by the SMTP and POP3 engines.
package logging

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"
)

// ConnLogger decorates a Logger with per-connection context: a random
// session ID, the peer address, and the server hostname.
type ConnLogger struct {
	Logger
	sessionID string
	clientIP  string
	hostname  string
}

// NewConnLogger creates a connection logger for conn, tagging every
// subsequent entry with a fresh session ID.
func NewConnLogger(logger Logger, conn net.Conn, hostname string) *ConnLogger {
	sessionID := generateSessionID()
	clientIP := ""
	if conn != nil {
		if addr := conn.RemoteAddr(); addr != nil {
			clientIP = addr.String()
			if host, _, err := net.SplitHostPort(clientIP); err == nil {
				clientIP = host
			}
		}
	}

	return &ConnLogger{
		Logger:    logger.With(F("session_id", sessionID)),
		sessionID: sessionID,
		clientIP:  clientIP,
		hostname:  hostname,
	}
}

// SessionIDBytes is the number of bytes used for session ID generation.
const SessionIDBytes = 12

func generateSessionID() string {
	b := make([]byte, SessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sess_%x", time.Now().UnixNano())
	}
	return "sess_" + hex.EncodeToString(b)
}

// LogConnection logs connection establishment for the given protocol
// ("smtp" or "pop3").
func (l *ConnLogger) LogConnection(protocol string, port int, tlsEnabled bool) {
	fields := []Field{
		F("client_ip", l.clientIP),
		F("protocol", protocol),
		F("port", port),
		F("tls_enabled", tlsEnabled),
	}
	if l.hostname != "" {
		fields = append(fields, F("hostname", l.hostname))
	}
	l.Info("connection established", fields...)
}

// LogConnectionClosed logs connection closure.
func (l *ConnLogger) LogConnectionClosed(duration time.Duration) {
	l.Info("connection closed",
		F("client_ip", l.clientIP),
		F("duration_ms", duration.Milliseconds()))
}

// LogCommand logs a command received, after the caller has redacted
// any sensitive args (e.g. AUTH continuation lines).
func (l *ConnLogger) LogCommand(command string, args []string, state string) {
	fields := []Field{
		F("client_ip", l.clientIP),
		F("command", command),
		F("state", state),
	}
	if len(args) > 0 {
		fields = append(fields, F("args", args))
	}
	l.Info("command received", fields...)
}

// LogResponse logs a response line sent in reply to command.
func (l *ConnLogger) LogResponse(response, command string) {
	code := ""
	if parts := strings.SplitN(response, " ", 2); len(parts) >= 1 {
		code = parts[0]
	}

	fields := []Field{
		F("client_ip", l.clientIP),
		F("response", response),
		F("response_code", code),
	}
	if command != "" {
		fields = append(fields, F("command", command))
	}

	switch {
	case strings.HasPrefix(code, "4"), strings.HasPrefix(code, "5"), strings.HasPrefix(code, "-ERR"):
		l.Warn("error response sent", fields...)
	default:
		l.Info("response sent", fields...)
	}
}

// LogAuthentication logs the outcome of an AUTH/USER+PASS/APOP attempt.
func (l *ConnLogger) LogAuthentication(mechanism, username string, success bool) {
	fields := []Field{
		F("client_ip", l.clientIP),
		F("auth_mechanism", mechanism),
		F("username", username),
		F("success", success),
	}
	if success {
		l.Info("authentication successful", fields...)
	} else {
		l.Warn("authentication failed", fields...)
	}
}

// LogTLSHandshake logs the outcome of a TLS handshake on this connection.
func (l *ConnLogger) LogTLSHandshake(success bool, tlsVersion, cipher string, err error) {
	fields := []Field{
		F("client_ip", l.clientIP),
		F("success", success),
	}
	if tlsVersion != "" {
		fields = append(fields, F("tls_version", tlsVersion))
	}
	if cipher != "" {
		fields = append(fields, F("cipher", cipher))
	}

	if success {
		l.Info("TLS handshake successful", fields...)
	} else {
		l.Error("TLS handshake failed", err, fields...)
	}
}

// SessionID returns the session ID assigned to this connection.
func (l *ConnLogger) SessionID() string { return l.sessionID }

// ClientIP returns the peer address (host only, no port).
func (l *ConnLogger) ClientIP() string { return l.clientIP }
