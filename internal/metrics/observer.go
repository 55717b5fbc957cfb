package metrics

import (
	"github.com/inboxkit/pop3client/internal/pop3engine"
)

// ObserverBridge adapts a Collector to pop3engine.Observer, so popfetch can
// wire Prometheus metrics in without the engine importing this package.
type ObserverBridge struct {
	Collector Collector
	Server    string // label value identifying the remote host:port
}

// NewObserverBridge returns a Bridge reporting against the given server
// label, using c (or NoopCollector if c is nil).
func NewObserverBridge(server string, c Collector) *ObserverBridge {
	if c == nil {
		c = NoopCollector{}
	}
	return &ObserverBridge{Collector: c, Server: server}
}

// Notify implements pop3engine.Observer.
func (b *ObserverBridge) Notify(ev pop3engine.Event) {
	switch ev.Kind {
	case pop3engine.EventConnected:
		b.Collector.ConnectionOpened(b.Server)
	case pop3engine.EventDisconnected:
		b.Collector.ConnectionClosed(b.Server)
	case pop3engine.EventTLSUpgraded:
		b.Collector.TLSUpgraded(b.Server)
	case pop3engine.EventAuthenticationSucceeded:
		b.Collector.AuthAttempt(b.Server, true)
	case pop3engine.EventAuthenticationFailed:
		b.Collector.AuthAttempt(b.Server, false)
	case pop3engine.EventCommandCompleted:
		b.notifyCommand(ev)
	}
}

func (b *ObserverBridge) notifyCommand(ev pop3engine.Event) {
	cmd, ok := ev.Data.(*pop3engine.Command)
	if !ok {
		return
	}
	b.Collector.CommandCompleted(commandVerb(cmd.Text), cmd.Status.String())

	if cmd.Status != pop3engine.StatusOk {
		return
	}
	switch commandVerb(cmd.Text) {
	case "RETR", "TOP":
		if body, ok := cmd.UserData.([]byte); ok {
			b.Collector.MessageFetched(b.Server, int64(len(body)))
		}
	case "DELE":
		b.Collector.MessageDeleted(b.Server)
	}
}

// commandVerb returns the first whitespace-delimited token of a command
// line, e.g. "RETR" from "RETR 3".
func commandVerb(text string) string {
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' {
			return text[:i]
		}
	}
	return text
}
