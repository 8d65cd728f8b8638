package smtpserver

// Observer receives lifecycle notifications about a session. A harness
// registers an Observer to assert on connection/auth/delivery events
// without instrumenting the protocol engine itself.
type Observer interface {
	OnConnect(sessionID, clientIP string)
	OnAuthenticated(sessionID, username string)
	OnMessageDelivered(sessionID, from string, to []string, size int)
	OnDisconnect(sessionID string)
}

// nopObserver discards every event; the default when none is set.
type nopObserver struct{}

func (nopObserver) OnConnect(string, string)                         {}
func (nopObserver) OnAuthenticated(string, string)                   {}
func (nopObserver) OnMessageDelivered(string, string, []string, int) {}
func (nopObserver) OnDisconnect(string)                              {}

// SetObserver registers obs to receive lifecycle events. Passing nil
// restores the no-op default.
func (s *Server) SetObserver(obs Observer) {
	if obs == nil {
		obs = nopObserver{}
	}
	s.observer = obs
}
