// Package metrics defines the Recorder interface used by smtpserver
// and pop3server to report connection and delivery counts, with a
// Prometheus-backed implementation and a no-op default.
package metrics

// Recorder receives counter events from the protocol servers. All
// methods must be safe for concurrent use, though in practice at most
// one connection is active per server instance (spec.md §5).
type Recorder interface {
	IncConnections(protocol string)
	DecConnections(protocol string)
	IncMessagesDelivered()
	IncAuthAttempts(mechanism string, success bool)
}

type noopRecorder struct{}

func (noopRecorder) IncConnections(string)       {}
func (noopRecorder) DecConnections(string)       {}
func (noopRecorder) IncMessagesDelivered()       {}
func (noopRecorder) IncAuthAttempts(string, bool) {}

// NoOp returns a Recorder that discards every event, the default when
// no metrics backend is configured.
func NoOp() Recorder { return noopRecorder{} }
