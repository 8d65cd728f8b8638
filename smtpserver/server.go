// Package smtpserver wires the smtp protocol engine to a TCP listener:
// one connection handled at a time, per spec.md §5's explicit
// Non-goal on concurrent sessions within a single server instance.
package smtpserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync/atomic"

	"testmaild/auth"
	"testmaild/logging"
	"testmaild/mailbox"
	"testmaild/metrics"
	"testmaild/smtp"
)

// Config configures a Server instance.
type Config struct {
	Hostname               string
	Addr                   string
	TLSConfig              *tls.Config // non-nil enables implicit TLS
	AuthenticationRequired bool
	Recorder               metrics.Recorder
}

// Server accepts SMTP connections and runs one smtp.Session at a time
// against a shared mailbox.MailboxStore.
type Server struct {
	cfg      Config
	store    *mailbox.MailboxStore
	auths    *auth.Registry
	logger   logging.Logger
	listener net.Listener

	disabled map[string]bool // verbs removed from the command registry
	observer Observer

	closing int32
}

// NewServer constructs a Server bound to store and registry, ready to
// Serve once a listener is attached.
func NewServer(cfg Config, store *mailbox.MailboxStore, registry *auth.Registry, logger logging.Logger) *Server {
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoOp()
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		auths:    registry,
		logger:   logger,
		disabled: make(map[string]bool),
		observer: nopObserver{},
	}
}

// DisableCommand removes a verb from the accepted command set,
// letting a harness simulate a server that never advertises or
// accepts it (spec.md §4.5's per-verb enable/disable knob).
func (s *Server) DisableCommand(verb string) {
	s.disabled[strings.ToUpper(verb)] = true
}

// EnableCommand re-enables a previously disabled verb.
func (s *Server) EnableCommand(verb string) {
	delete(s.disabled, strings.ToUpper(verb))
}

// ListenAndServe opens cfg.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("smtpserver: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, handling
// exactly one connection at a time.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.listener = ln
	go func() {
		<-ctx.Done()
		atomic.StoreInt32(&s.closing, 1)
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closing) == 1 {
				return nil
			}
			return fmt.Errorf("smtpserver: accept: %w", err)
		}
		s.handleConnection(conn)
	}
}

func (s *Server) tlsEnabled() bool { return s.cfg.TLSConfig != nil }

func (s *Server) port() int {
	_, portStr, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(portStr)
	return p
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if s.tlsEnabled() {
		conn = tls.Server(conn, s.cfg.TLSConfig)
	}

	connLog := logging.NewConnLogger(s.logger, conn, s.cfg.Hostname)
	connLog.LogConnection("smtp", s.port(), s.tlsEnabled())
	s.cfg.Recorder.IncConnections("smtp")
	s.observer.OnConnect(connLog.SessionID(), connLog.ClientIP())
	defer s.cfg.Recorder.DecConnections("smtp")
	defer s.observer.OnDisconnect(connLog.SessionID())

	if tconn, ok := conn.(*tls.Conn); ok {
		if err := tconn.Handshake(); err != nil {
			connLog.LogTLSHandshake(false, "", "", err)
			return
		}
		st := tconn.ConnectionState()
		connLog.LogTLSHandshake(true, tlsVersionName(st.Version), tls.CipherSuiteName(st.CipherSuite), nil)
	}

	sess := smtp.NewSession(s.store, s.auths)
	parsers := smtp.DefaultParsers()
	for verb := range s.disabled {
		delete(parsers, verb)
	}

	w := bufio.NewWriter(conn)
	tp := textproto.NewReader(bufio.NewReader(conn))

	writeLine := func(line string) error {
		if _, err := w.WriteString(line + "\r\n"); err != nil {
			return err
		}
		connLog.LogResponse(line, "")
		return w.Flush()
	}

	if err := writeLine(fmt.Sprintf("220 %s Service ready", s.cfg.Hostname)); err != nil {
		return
	}

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}

		verb, args, perr := smtp.ParseLine(line)
		if perr != nil {
			writeLine(smtp.ResultFor(perr).Line())
			continue
		}
		connLog.LogCommand(verb, auth.RedactAuthArgs(args), sess.State.String())

		parser, known := parsers[verb]
		if !known {
			writeLine("500 Command not recognised")
			continue
		}
		cmd, perr := parser(args)
		if perr != nil {
			writeLine(smtp.ResultFor(perr).Line())
			continue
		}

		if s.cfg.AuthenticationRequired && !sess.Authenticated &&
			(cmd.Verb == smtp.CmdMAIL || cmd.Verb == smtp.CmdRCPT) {
			writeLine(smtp.ResultFor(smtp.ErrAuthRequired).Line())
			continue
		}

		switch cmd.Verb {
		case smtp.CmdHELO:
			resp, herr := sess.HandleHELO(cmd.Args, s.cfg.Hostname)
			if herr != nil {
				writeLine(smtp.ResultFor(herr).Line())
				continue
			}
			writeLine(resp)

		case smtp.CmdEHLO:
			resp, herr := sess.HandleEHLO(cmd.Args, s.cfg.Hostname, s.capabilities(parsers))
			if herr != nil {
				writeLine(smtp.ResultFor(herr).Line())
				continue
			}
			for _, l := range strings.Split(resp, "\r\n") {
				writeLine(l)
			}

		case smtp.CmdAUTH:
			s.handleAuth(sess, cmd.Args, tp, writeLine, connLog)

		case smtp.CmdMAIL:
			resp, herr := sess.HandleMAIL(cmd.Args)
			if herr != nil {
				writeLine(smtp.ResultFor(herr).Line())
				continue
			}
			writeLine(resp)

		case smtp.CmdRCPT:
			resp, herr := sess.HandleRCPT(cmd.Args)
			if herr != nil {
				writeLine(smtp.ResultFor(herr).Line())
				continue
			}
			writeLine(resp)

		case smtp.CmdDATA:
			if herr := sess.HandleDATA(); herr != nil {
				writeLine(smtp.ResultFor(herr).Line())
				continue
			}
			writeLine("354 Start mail input; end with <CRLF>.<CRLF>")
			body, rerr := readDotStuffedBody(tp)
			if rerr != nil {
				return
			}
			from, to := sess.From, sess.To
			sess.Deliver(body)
			s.cfg.Recorder.IncMessagesDelivered()
			s.observer.OnMessageDelivered(connLog.SessionID(), from, to, len(body))
			writeLine("250 2.6.0 Message accepted")

		case smtp.CmdRSET:
			resp, herr := sess.HandleRSET()
			if herr != nil {
				writeLine(smtp.ResultFor(herr).Line())
				continue
			}
			writeLine(resp)

		case smtp.CmdNOOP:
			writeLine("250 2.0.0 Ok")

		case smtp.CmdVRFY:
			writeLine("252 2.5.0 Cannot VRFY user, will accept message")

		case smtp.CmdSTARTTLS:
			writeLine("454 4.7.0 TLS not available")

		case smtp.CmdQUIT:
			writeLine("221 2.0.0 Goodbye")
			return
		}
	}
}

func (s *Server) capabilities(parsers map[string]smtp.Parser) []string {
	caps := []string{}
	if _, ok := parsers[smtp.CmdSTARTTLS]; ok {
		caps = append(caps, "STARTTLS")
	}
	if _, ok := parsers[smtp.CmdAUTH]; ok && len(s.auths.Mechanisms()) > 0 {
		caps = append(caps, "AUTH "+strings.Join(s.auths.Mechanisms(), " "))
	}
	caps = append(caps, "8BITMIME", "ENHANCEDSTATUSCODES")
	return caps
}

func (s *Server) handleAuth(sess *smtp.Session, args []string, tp *textproto.Reader, writeLine func(string) error, connLog *logging.ConnLogger) {
	if len(args) < 1 {
		writeLine(smtp.ResultFor(smtp.ErrParse).Line())
		return
	}
	mechanism := strings.ToUpper(args[0])
	initial := ""
	if len(args) > 1 {
		initial = args[1]
	}

	challenge, done, _, err := sess.BeginAuth(mechanism, initial)
	if err != nil {
		connLog.LogAuthentication(mechanism, "", false)
		writeLine(smtp.ResultFor(err).Line())
		return
	}
	for !done {
		if werr := writeLine("334 " + challenge); werr != nil {
			return
		}
		line, rerr := tp.ReadLine()
		if rerr != nil {
			return
		}
		if line == "*" {
			writeLine("501 5.0.0 Authentication cancelled")
			return
		}
		challenge, done, _, err = sess.ContinueAuth(line)
		if err != nil {
			connLog.LogAuthentication(mechanism, sess.AuthUser, false)
			writeLine(smtp.ResultFor(err).Line())
			return
		}
	}
	connLog.LogAuthentication(mechanism, sess.AuthUser, sess.Authenticated)
	s.cfg.Recorder.IncAuthAttempts(mechanism, sess.Authenticated)
	if sess.Authenticated {
		s.observer.OnAuthenticated(connLog.SessionID(), sess.AuthUser)
		writeLine("235 2.7.0 Authentication succeeded")
	} else {
		writeLine(smtp.ResultFor(smtp.ErrAuthFailed).Line())
	}
}

// readDotStuffedBody reads lines until a lone "." terminator,
// undoing leading-dot stuffing (RFC 5321 §4.5.2) and joining with CRLF.
func readDotStuffedBody(tp *textproto.Reader) (string, error) {
	var lines []string
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return "", err
		}
		if line == "." {
			break
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\r\n"), nil
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return fmt.Sprintf("0x%04x", v)
	}
}
