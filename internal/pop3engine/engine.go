package pop3engine

import (
	"bytes"
	"context"
	"io"
	"strings"

	"go.uber.org/multierr"
)

// UidMap is a bidirectional mapping between persistent message UIDs and the
// current session's one-based sequence ids, populated on demand by UIDL and
// invalidated on disconnect.
type UidMap struct {
	uidToSeq map[string]int
	seqToUid map[int]string
}

func newUidMap() *UidMap {
	return &UidMap{uidToSeq: make(map[string]int), seqToUid: make(map[int]string)}
}

func (m *UidMap) set(seqID int, uid string) {
	m.uidToSeq[uid] = seqID
	m.seqToUid[seqID] = uid
}

// SeqID returns the sequence id for a uid, if known.
func (m *UidMap) SeqID(uid string) (int, bool) { v, ok := m.uidToSeq[uid]; return v, ok }

// UID returns the uid for a sequence id, if known.
func (m *UidMap) UID(seqID int) (string, bool) { v, ok := m.seqToUid[seqID]; return v, ok }

// indexToSeqID converts a caller-facing zero-based MessageIndex to the
// one-based wire SequenceId. This is the single boundary crossing named in
// SPEC_FULL.md/spec.md §3 and §9: every call site must go through it so the
// off-by-one present in some historical implementations cannot recur.
func indexToSeqID(index int) int { return index + 1 }

// Engine is the POP3 session state machine, command queue, and pipelined
// run loop. It owns one FramedStream for the lifetime of one session.
type Engine struct {
	fs *FramedStream

	state  SessionState
	caps   Capabilities
	meta   ServerMetadata
	probed ProbedFeatures
	uids   *UidMap

	queue []*Command

	messageCount int
	hasMessageCount bool

	observer Observer
	redactor *SecretRedactor
}

// NewEngine creates an Engine in StateDisconnected. observer may be nil.
func NewEngine(observer Observer) *Engine {
	return &Engine{
		state:    StateDisconnected,
		caps:     Capabilities{flags: CapUser},
		meta:     newServerMetadata(),
		uids:     newUidMap(),
		observer: observer,
		redactor: NewSecretRedactor(),
	}
}

// State returns the current SessionState.
func (e *Engine) State() SessionState { return e.state }

// Capabilities returns the currently known capability flags.
func (e *Engine) Capabilities() Capabilities { return e.caps }

// Metadata returns the currently known server metadata.
func (e *Engine) Metadata() ServerMetadata { return e.meta }

// MessageCount returns the cached STAT count, and whether it has ever been
// populated.
func (e *Engine) MessageCount() (int, bool) { return e.messageCount, e.hasMessageCount }

// Uids returns the UID↔sequence-id map populated by UIDL so far.
func (e *Engine) Uids() *UidMap { return e.uids }

// Redactor returns the SecretRedactor whose authenticating flag the
// Authenticator switches on around each credential exchange. The engine
// does not pass its own writes to the redactor's Scan; a caller-supplied
// logger has to feed the bytes it captures to Scan itself.
func (e *Engine) Redactor() *SecretRedactor { return e.redactor }

// Connect takes ownership of rw, wraps it as a FramedStream, reads and
// parses the greeting, and transitions Disconnected -> Connected.
func (e *Engine) Connect(ctx context.Context, rw io.ReadWriter) error {
	if e.state != StateDisconnected {
		return &StateError{Operation: "Connect", State: e.state}
	}

	fs := NewFramedStream(rw)
	line, err := fs.ReadFullLine(ctx)
	if err != nil {
		notify(e.observer, Event{Kind: EventDisconnected, Cause: err})
		return err
	}

	kind, _ := ClassifyLine(line)
	if kind != KindOk {
		fs.connected.Store(false)
		err := protocolErrorf(nil, "malformed greeting %q", line)
		notify(e.observer, Event{Kind: EventDisconnected, Cause: err})
		return err
	}

	e.fs = fs
	if token := ParseGreeting(line); token != "" {
		e.meta.ApopToken = token
		e.caps.add(CapApop)
	}
	e.state = StateConnected
	notify(e.observer, Event{Kind: EventConnected})
	return nil
}

// replaceTransport upgrades the underlying transport in place after STLS
// (implicit TLS is applied by the Connector before the Engine reads the
// greeting, so it never passes through here). The caller must ensure the FramedStream's buffers are
// empty, i.e. call this only between commands.
func (e *Engine) replaceTransport(rw io.ReadWriter) {
	e.fs.UpgradeTransport(rw)
	notify(e.observer, Event{Kind: EventTLSUpgraded})
}

// FramedStream exposes the engine's stream for the Connector's STLS upgrade
// path. It is not intended for general use by callers outside this
// package's sibling packages.
func (e *Engine) FramedStream() *FramedStream { return e.fs }

// ReplaceTransport is the exported form of replaceTransport for the
// Connector to call after a successful STLS handshake.
func (e *Engine) ReplaceTransport(rw io.ReadWriter) { e.replaceTransport(rw) }

// QueueCommand appends cmd to the pending queue and returns it.
func (e *Engine) QueueCommand(cmd *Command) *Command {
	e.queue = append(e.queue, cmd)
	return cmd
}

// QueryCapabilities queues a CAPA command whose handler refreshes caps and
// meta. An -ERR response is tolerated: capabilities are left at their
// pre-CAPA values.
func (e *Engine) QueryCapabilities() *Command {
	cmd := NewCommand("CAPA").WithHandler(func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		return e.readCapaBody(ctx, fs)
	})
	return e.QueueCommand(cmd)
}

func (e *Engine) readCapaBody(ctx context.Context, fs *FramedStream) error {
	fs.SetDataMode()
	var buf bytes.Buffer
	chunk := make([]byte, 512)
	for !fs.EndOfData() {
		n, err := fs.ReadData(ctx, chunk)
		if err != nil {
			return err
		}
		buf.Write(chunk[:n])
	}
	fs.SetLineMode()

	for _, line := range strings.Split(buf.String(), "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}
		ApplyCapaLine(line, &e.caps, &e.meta)
	}
	notify(e.observer, Event{Kind: EventCapabilitiesRefreshed})
	return nil
}

// Run executes the pipelined queue: writes every queued command (flushing
// once at the end), then reads one response per command in FIFO order,
// invoking each Ok/Continue command's handler. The queue is always cleared
// before Run returns. If throwOnError, the first Command carrying an Error
// status or a parse error is returned as an error; all Commands remain
// inspectable on the caller's original Command values regardless.
func (e *Engine) Run(ctx context.Context, throwOnError bool) error {
	if e.state == StateDisconnected {
		e.queue = nil
		return ErrDisconnected
	}

	queue := e.queue
	e.queue = nil
	defer func() {
		// Queue is always cleared, even on fatal error mid-run.
		e.queue = nil
	}()

	for _, cmd := range queue {
		if cmd.executed {
			cmd.Status = StatusProtocolError
			cmd.ParseErr = ErrCommandRequeued
			continue
		}
		cmd.executed = true
		cmd.Status = StatusActive
		if err := e.fs.QueueCommand(ctx, cmd.Encoding, cmd.Text); err != nil {
			if err := e.Disconnect(ctx, err); err != nil {
				return err
			}
			return err
		}
	}
	if err := e.fs.Flush(ctx); err != nil {
		_ = e.Disconnect(ctx, err)
		return err
	}

	var firstErr error
	for _, cmd := range queue {
		if cmd.ParseErr != nil {
			// already failed during write phase
			if throwOnError && firstErr == nil {
				firstErr = cmd.ParseErr
			}
			continue
		}

		line, err := e.fs.ReadFullLine(ctx)
		if err != nil {
			_ = e.Disconnect(ctx, err)
			return err
		}

		kind, rest := ClassifyLine(line)
		switch kind {
		case KindOk:
			cmd.Status = StatusOk
			cmd.StatusText = rest
		case KindContinue:
			cmd.Status = StatusContinue
			cmd.StatusText = rest
		case KindError:
			cmd.Status = StatusError
			cmd.StatusText = rest
		default:
			cmd.Status = StatusProtocolError
			cmd.StatusText = rest
			perr := protocolErrorf(nil, "unrecognized response %q", line)
			_ = e.Disconnect(ctx, perr)
			return perr
		}

		if (cmd.Status == StatusOk || cmd.Status == StatusContinue) && cmd.Handler != nil {
			if err := cmd.Handler(ctx, e.fs, cmd); err != nil {
				cmd.ParseErr = err
				_ = e.Disconnect(ctx, err)
				return err
			}
		}

		notify(e.observer, Event{Kind: EventCommandCompleted, Data: cmd})

		if throwOnError && firstErr == nil {
			if cmd.ParseErr != nil {
				firstErr = cmd.ParseErr
			} else if cmd.Status == StatusError {
				firstErr = &CommandError{Command: cmd.Text, StatusText: cmd.StatusText}
			}
		}
	}

	return firstErr
}

// Disconnect closes the underlying stream, transitions to Disconnected, and
// emits the Disconnected event exactly once.
func (e *Engine) Disconnect(ctx context.Context, cause error) error {
	if e.state == StateDisconnected {
		return nil
	}
	e.state = StateDisconnected
	e.uids = newUidMap()
	var closeErr error
	if e.fs != nil {
		closeErr = e.fs.Close()
	}
	notify(e.observer, Event{Kind: EventDisconnected, Cause: cause})
	return multierr.Combine(cause, closeErr)
}

// markAuthenticated transitions Connected -> Transaction. Called by the
// authentication driver in auth.go after a successful APOP/SASL/USER+PASS
// exchange.
func (e *Engine) markAuthenticated() {
	e.state = StateTransaction
}

// setMessageCount records the result of a STAT call.
func (e *Engine) setMessageCount(n int) {
	e.messageCount = n
	e.hasMessageCount = true
}
