package session

import "github.com/maksimkurb/keen-dnsguard/src/internal/log"

// StatusSink is told about every state transition.
type StatusSink interface {
	StateChanged(state State)
	// ReconnectingAfterError is called alongside the RECONNECTING_ERROR
	// transition with the fault that caused it.
	ReconnectingAfterError(err error)
}

// LogSink reports transitions through the log.
type LogSink struct{}

func (LogSink) StateChanged(state State) {
	log.Infof("Session state: %s", state)
}

func (LogSink) ReconnectingAfterError(err error) {
	log.Errorf("Session failed, reconnecting: %v", err)
}

// MultiSink fans transitions out to several sinks in order.
type MultiSink []StatusSink

func (m MultiSink) StateChanged(state State) {
	for _, s := range m {
		s.StateChanged(state)
	}
}

func (m MultiSink) ReconnectingAfterError(err error) {
	for _, s := range m {
		s.ReconnectingAfterError(err)
	}
}
