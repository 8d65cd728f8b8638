// Package pop3server wires the pop3 protocol engine to a TCP listener,
// one connection at a time (spec.md §5).
package pop3server

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
	"testmaild/pop3"
)

// Config configures a Server instance.
type Config struct {
	Hostname  string
	Addr      string
	TLSConfig *tls.Config
	Recorder  metrics.Recorder
}

// Server accepts POP3 connections and runs one pop3.Session at a time
// against a shared mailbox.MailboxStore.
type Server struct {
	cfg    Config
	store  *mailbox.MailboxStore
	auths  *auth.Registry
	logger logging.Logger

	closing int32
}

// NewServer constructs a Server bound to store and registry.
func NewServer(cfg Config, store *mailbox.MailboxStore, registry *auth.Registry, logger logging.Logger) *Server {
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoOp()
	}
	return &Server{cfg: cfg, store: store, auths: registry, logger: logger}
}

// ListenAndServe opens cfg.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("pop3server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
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
			return fmt.Errorf("pop3server: accept: %w", err)
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
	connLog.LogConnection("pop3", s.port(), s.tlsEnabled())
	s.cfg.Recorder.IncConnections("pop3")
	defer s.cfg.Recorder.DecConnections("pop3")

	if tconn, ok := conn.(*tls.Conn); ok {
		if err := tconn.Handshake(); err != nil {
			connLog.LogTLSHandshake(false, "", "", err)
			return
		}
	}

	sess := pop3.NewSession(s.store, s.auths, pop3.NewAPOPBanner(s.cfg.Hostname))

	w := bufio.NewWriter(conn)
	tp := textproto.NewReader(bufio.NewReader(conn))

	writeLine := func(line string) error {
		if _, err := w.WriteString(line + "\r\n"); err != nil {
			return err
		}
		connLog.LogResponse(line, "")
		return w.Flush()
	}
	writeLines := func(lines []string) error {
		for _, l := range lines {
			if err := writeLine(l); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeLine(fmt.Sprintf("+OK POP3 server ready %s", sess.APOPBanner())); err != nil {
		return
	}

	pendingUser := ""
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}

		verb, args, perr := pop3.ParseLine(line)
		if perr != nil {
			writeLine(pop3.ResultFor(perr))
			continue
		}
		logArgs := auth.RedactAuthArgs(args)
		if verb == pop3.CmdPASS && len(args) > 0 {
			logArgs = []string{"[redacted]"}
		}
		connLog.LogCommand(verb, logArgs, sess.State.String())

		switch verb {
		case pop3.CmdCAPA:
			caps := append([]string{"+OK Capability list follows"}, sess.HandleCAPA()...)
			writeLines(append(caps, "."))

		case pop3.CmdUSER:
			resp, herr := sess.HandleUSER(args)
			if herr == nil {
				pendingUser = args[0]
			}
			writeResult(writeLine, resp, herr)

		case pop3.CmdPASS:
			resp, herr := sess.HandlePASS(args)
			connLog.LogAuthentication("USER/PASS", pendingUser, herr == nil)
			s.cfg.Recorder.IncAuthAttempts("USER/PASS", herr == nil)
			writeResult(writeLine, resp, herr)

		case pop3.CmdAPOP:
			resp, herr := sess.HandleAPOP(args)
			uname := ""
			if len(args) > 0 {
				uname = args[0]
			}
			connLog.LogAuthentication("APOP", uname, herr == nil)
			s.cfg.Recorder.IncAuthAttempts("APOP", herr == nil)
			writeResult(writeLine, resp, herr)

		case pop3.CmdAUTH:
			s.handleAuth(sess, args, tp, writeLine, connLog)

		case pop3.CmdSTAT:
			resp, herr := sess.HandleSTAT()
			writeResult(writeLine, resp, herr)

		case pop3.CmdLIST:
			lines, herr := sess.HandleLIST(args)
			if herr != nil {
				writeLine(pop3.ResultFor(herr))
				continue
			}
			writeLines(lines)

		case pop3.CmdUIDL:
			lines, herr := sess.HandleUIDL(args)
			if herr != nil {
				writeLine(pop3.ResultFor(herr))
				continue
			}
			writeLines(lines)

		case pop3.CmdRETR:
			body, herr := sess.HandleRETR(args)
			if herr != nil {
				writeLine(pop3.ResultFor(herr))
				continue
			}
			writeLine(fmt.Sprintf("+OK %d octets", len(body)))
			writeDotStuffedBody(w, body)
			w.Flush()

		case pop3.CmdTOP:
			body, herr := sess.HandleTOP(args)
			if herr != nil {
				writeLine(pop3.ResultFor(herr))
				continue
			}
			writeLine("+OK top of message follows")
			writeDotStuffedBody(w, body)
			w.Flush()

		case pop3.CmdDELE:
			resp, herr := sess.HandleDELE(args)
			writeResult(writeLine, resp, herr)

		case pop3.CmdNOOP:
			resp, herr := sess.HandleNOOP()
			writeResult(writeLine, resp, herr)

		case pop3.CmdRSET:
			resp, herr := sess.HandleRSET()
			writeResult(writeLine, resp, herr)

		case pop3.CmdQUIT:
			if sess.State == pop3.StateTransaction {
				sess.Finalize()
			}
			writeLine("+OK Goodbye")
			return

		default:
			writeLine("-ERR command not recognised")
		}
	}
}

func (s *Server) handleAuth(sess *pop3.Session, args []string, tp *textproto.Reader, writeLine func(string) error, connLog *logging.ConnLogger) {
	if len(args) < 1 {
		writeLine(pop3.ResultFor(pop3.ErrParse))
		return
	}
	mechanism := strings.ToUpper(args[0])

	challenge, done, err := sess.BeginAuth(mechanism)
	if err != nil {
		connLog.LogAuthentication(mechanism, "", false)
		writeLine(pop3.ResultFor(err))
		return
	}
	for !done {
		if werr := writeLine("+ " + challenge); werr != nil {
			return
		}
		line, rerr := tp.ReadLine()
		if rerr != nil {
			return
		}
		if line == "*" {
			writeLine("-ERR authentication cancelled")
			return
		}
		challenge, done, err = sess.ContinueAuth(line)
		if err != nil {
			connLog.LogAuthentication(mechanism, "", false)
			writeLine(pop3.ResultFor(err))
			return
		}
	}
	success := sess.State == pop3.StateTransaction
	connLog.LogAuthentication(mechanism, "", success)
	if success {
		writeLine("+OK authentication successful")
	} else {
		writeLine(pop3.ResultFor(pop3.ErrAuthFailed))
	}
}

func writeResult(writeLine func(string) error, resp string, err error) {
	if err != nil {
		writeLine(pop3.ResultFor(err))
		return
	}
	writeLine(resp)
}

// writeDotStuffedBody writes body, CRLF-terminated, with any line
// beginning with "." doubled, followed by the "." terminator
// (RFC 1939 §3).
func writeDotStuffedBody(w *bufio.Writer, body string) {
	for _, line := range strings.Split(body, "\r\n") {
		if strings.HasPrefix(line, ".") {
			w.WriteString(".")
		}
		w.WriteString(line)
		w.WriteString("\r\n")
	}
	w.WriteString(".\r\n")
}
