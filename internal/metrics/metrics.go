// Package metrics defines a Collector interface for recording popfetch's
// view of a POP3 session and an Observer bridge that feeds one from
// pop3engine's typed lifecycle events. The engine itself never imports this
// package; only cmd/popfetch wires a Collector in, matching SPEC_FULL.md
// §2's instrumentation-is-external non-goal.
package metrics

// Collector records client-side session metrics. Labels identify the
// remote server rather than a served domain, since popfetch is a client
// talking to one or more mailboxes rather than a server serving many.
type Collector interface {
	ConnectionOpened(server string)
	ConnectionClosed(server string)
	TLSUpgraded(server string)

	AuthAttempt(server string, success bool)

	CommandCompleted(command string, status string)

	MessageFetched(server string, sizeBytes int64)
	MessageDeleted(server string)
}
