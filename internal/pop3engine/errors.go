// Package pop3engine implements the POP3 protocol core: framing, parsing,
// the pipelined session state machine, and the authentication flows a POP3
// client needs. It owns one TCP (or TLS) connection for the lifetime of one
// session; mailbox policy, MIME parsing, and SASL mechanism internals live
// outside this package.
package pop3engine

import (
	"errors"
	"fmt"
)

// ArgumentError is returned for caller input that is invalid before any byte
// touches the wire. It never mutates engine state.
type ArgumentError struct {
	Arg     string
	Problem string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Problem)
}

// StateError is returned when an operation is not valid for the engine's
// current SessionState.
type StateError struct {
	Operation string
	State     SessionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not valid in state %s", e.Operation, e.State)
}

// NotSupportedError is returned when a caller requires a capability the
// server has not advertised (optionally after an empirical probe).
type NotSupportedError struct {
	Capability string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("server does not support %s", e.Capability)
}

// AuthenticationError wraps the reason every authentication strategy the
// client attempted was rejected. The connection remains Connected.
type AuthenticationError struct {
	Attempts []string
	Last     error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed after trying %v: %v", e.Attempts, e.Last)
}

func (e *AuthenticationError) Unwrap() error { return e.Last }

// CommandError is raised for a single Command that the server answered with
// -ERR. It is recoverable; the connection stays up and other queued
// Commands are unaffected.
type CommandError struct {
	Command    string
	StatusText string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.StatusText)
}

// ProtocolError signals malformed framing, a parse failure inside a
// handler, or a premature EOF. It is always fatal: the engine that raises
// it has already transitioned to Disconnected.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// SslHandshakeError signals that a TLS wrap (implicit or STLS) failed.
type SslHandshakeError struct {
	Cause error
}

func (e *SslHandshakeError) Error() string {
	return fmt.Sprintf("TLS handshake failed: %v", e.Cause)
}

func (e *SslHandshakeError) Unwrap() error { return e.Cause }

// Sentinel errors for conditions that do not need per-instance fields.
var (
	// ErrDisconnected is returned when an operation is attempted after the
	// engine has transitioned to Disconnected.
	ErrDisconnected = errors.New("pop3engine: not connected")

	// ErrCommandRequeued is recorded by Run as the ParseErr of a Command
	// value that has already run and was queued a second time; such a
	// Command is not sent again.
	ErrCommandRequeued = errors.New("pop3engine: command already executed")

	// ErrNotInDataMode is returned by the dot-stuffing decoder if asked to read
	// data-mode content while the stream is not in Data mode.
	ErrNotInDataMode = errors.New("pop3engine: stream is not in data mode")
)

func protocolErrorf(cause error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Cause: cause}
}
