package pop3engine

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// CommandStatus is the outcome recorded on a Command after Run processes
// its response.
type CommandStatus int

const (
	StatusQueued CommandStatus = iota
	StatusActive
	StatusContinue
	StatusProtocolError
	StatusError
	StatusOk
)

func (s CommandStatus) String() string {
	switch s {
	case StatusQueued:
		return "Queued"
	case StatusActive:
		return "Active"
	case StatusContinue:
		return "Continue"
	case StatusProtocolError:
		return "ProtocolError"
	case StatusError:
		return "Error"
	case StatusOk:
		return "Ok"
	default:
		return "Unknown"
	}
}

// CommandEncoding describes how a Command's text is converted to bytes on
// the wire. POP3 commands are normally plain ASCII; the UTF8 extension
// (RFC 6856) allows UTF-8-encoded credentials.
type CommandEncoding int

const (
	EncodingASCII CommandEncoding = iota
	EncodingUTF8
)

// Encode converts text to its wire representation, appending the mandatory
// CRLF terminator.
func (e CommandEncoding) Encode(text string) ([]byte, error) {
	switch e {
	case EncodingUTF8:
		if !utf8.ValidString(text) {
			return nil, &ArgumentError{Arg: "text", Problem: "not valid UTF-8"}
		}
		return append([]byte(text), '\r', '\n'), nil
	default:
		for i := 0; i < len(text); i++ {
			if text[i] > 0x7f {
				return nil, &ArgumentError{Arg: "text", Problem: "contains non-ASCII byte without UTF8 capability"}
			}
		}
		return append([]byte(text), '\r', '\n'), nil
	}
}

// Handler is invoked for a Command whose status classified as Ok or
// Continue, to drive any further multi-line or data-mode reads the command
// requires. A non-nil error is always fatal and disconnects the Engine.
type Handler func(ctx context.Context, fs *FramedStream, cmd *Command) error

// Command is a queued POP3 command line together with its eventual
// outcome. It is created, queued, executed exactly once by Run, and then
// owned by the caller for inspection; it may not be re-queued.
type Command struct {
	Text     string
	Encoding CommandEncoding
	Handler  Handler

	Status        CommandStatus
	StatusText    string
	ParseErr      error
	UserData      any

	executed bool
}

// NewCommand builds a Command from a format string and args, formatted with
// fmt.Sprintf, defaulting to ASCII encoding and no handler.
func NewCommand(format string, args ...any) *Command {
	return &Command{Text: fmt.Sprintf(format, args...), Encoding: EncodingASCII, Status: StatusQueued}
}

// WithHandler attaches a multi-line/data-mode handler and returns the
// Command for chaining.
func (c *Command) WithHandler(h Handler) *Command {
	c.Handler = h
	return c
}

// WithEncoding overrides the wire encoding and returns the Command for
// chaining.
func (c *Command) WithEncoding(e CommandEncoding) *Command {
	c.Encoding = e
	return c
}

// ThrowIfError returns CommandError/ProtocolError matching the Command's
// recorded outcome, or nil if it completed successfully.
func (c *Command) ThrowIfError() error {
	if c.ParseErr != nil {
		return c.ParseErr
	}
	switch c.Status {
	case StatusError:
		return &CommandError{Command: c.Text, StatusText: c.StatusText}
	case StatusProtocolError:
		return protocolErrorf(nil, "%s: %s", c.Text, c.StatusText)
	default:
		return nil
	}
}
