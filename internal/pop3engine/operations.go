package pop3engine

import (
	"bufio"
	"bytes"
	"context"
	"io"
)

// Stat queues STAT; its handler has no multi-line body, so the result is
// read straight from the status line and cached as MessageCount.
func (e *Engine) Stat() *Command {
	cmd := NewCommand("STAT")
	cmd.Handler = func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		fields := splitStatText(cmd.StatusText)
		if len(fields) < 1 {
			return protocolErrorf(nil, "malformed STAT response %q", cmd.StatusText)
		}
		n, perr := atoiStrict(fields[0])
		if perr != nil {
			return protocolErrorf(perr, "malformed STAT count %q", fields[0])
		}
		e.setMessageCount(n)
		return nil
	}
	return e.QueueCommand(cmd)
}

func splitStatText(s string) []string {
	var fields []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	return fields
}

func atoiStrict(s string) (int, error) {
	if s == "" {
		return 0, protocolErrorf(nil, "empty integer")
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, protocolErrorf(nil, "non-digit in integer %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// readMultilineBody drains a data-mode body into a single byte slice.
func readMultilineBody(ctx context.Context, fs *FramedStream) ([]byte, error) {
	fs.SetDataMode()
	defer fs.SetLineMode()

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for !fs.EndOfData() {
		n, err := fs.ReadData(ctx, chunk)
		if err != nil {
			return nil, err
		}
		buf.Write(chunk[:n])
	}
	return buf.Bytes(), nil
}

// ListAll queues LIST with no argument; the handler parses every body line
// into the returned slice via out.
func (e *Engine) ListAll(out *[]ListEntry) *Command {
	cmd := NewCommand("LIST")
	cmd.Handler = func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		body, err := readMultilineBody(ctx, fs)
		if err != nil {
			return err
		}
		*out = (*out)[:0]
		for _, line := range splitLines(body) {
			if line == "" {
				continue
			}
			seqID, size, perr := ParseListLine(line)
			if perr != nil {
				return perr
			}
			*out = append(*out, ListEntry{Index: seqID - 1, Size: size})
		}
		return nil
	}
	return e.QueueCommand(cmd)
}

// ListEntry is one parsed LIST body row, translated to a zero-based index.
type ListEntry struct {
	Index int
	Size  int
}

// List queues "LIST <seqid>" for the given zero-based index.
func (e *Engine) List(index int, out *ListEntry) *Command {
	cmd := NewCommand("LIST %d", indexToSeqID(index))
	cmd.Handler = func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		seqID, size, perr := ParseListLine(cmd.StatusText)
		if perr != nil {
			return perr
		}
		out.Index = seqID - 1
		out.Size = size
		return nil
	}
	return e.QueueCommand(cmd)
}

// UidlEntry is one parsed UIDL body row, translated to a zero-based index.
type UidlEntry struct {
	Index int
	UID   string
}

// UidlAll queues UIDL with no argument, populating the engine's UidMap and
// the caller's out slice.
func (e *Engine) UidlAll(out *[]UidlEntry) *Command {
	cmd := NewCommand("UIDL")
	cmd.Handler = func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		body, err := readMultilineBody(ctx, fs)
		if err != nil {
			return err
		}
		*out = (*out)[:0]
		for _, line := range splitLines(body) {
			if line == "" {
				continue
			}
			seqID, uid, perr := ParseUidlLine(line)
			if perr != nil {
				return perr
			}
			e.uids.set(seqID, uid)
			*out = append(*out, UidlEntry{Index: seqID - 1, UID: uid})
		}
		e.caps.add(CapUIDL)
		e.probed.mark(ProbedUIDL)
		return nil
	}
	return e.QueueCommand(cmd)
}

// Uidl queues "UIDL <seqid>" for one message. If UIDL has already been
// probed and found unsupported, it returns nil and an error immediately
// without touching the wire.
func (e *Engine) Uidl(index int) (*Command, error) {
	if e.probed.Has(ProbedUIDL) && !e.caps.Has(CapUIDL) {
		return nil, &NotSupportedError{Capability: "UIDL"}
	}
	cmd := NewCommand("UIDL %d", indexToSeqID(index))
	cmd.Handler = func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		seqID, uid, perr := ParseUidlLine(cmd.StatusText)
		if perr != nil {
			return perr
		}
		e.uids.set(seqID, uid)
		e.caps.add(CapUIDL)
		e.probed.mark(ProbedUIDL)
		cmd.UserData = UidlEntry{Index: seqID - 1, UID: uid}
		return nil
	}
	return e.QueueCommand(cmd), nil
}

// Retr queues "RETR <seqid>"; the handler drains the dot-stuff-decoded body
// into a fresh []byte stored in cmd.UserData.
func (e *Engine) Retr(index int) *Command {
	return e.retrieveBody("RETR %d", indexToSeqID(index))
}

// Top queues "TOP <seqid> <lines>"; same framing as RETR, bounded to
// headers plus the first n body lines.
func (e *Engine) Top(index, lines int) *Command {
	return e.retrieveBody("TOP %d %d", indexToSeqID(index), lines)
}

func (e *Engine) retrieveBody(format string, args ...any) *Command {
	cmd := NewCommand(format, args...)
	cmd.Handler = func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		body, err := readMultilineBody(ctx, fs)
		if err != nil {
			return err
		}
		cmd.UserData = body
		return nil
	}
	return e.QueueCommand(cmd)
}

// RetrStream queues "RETR <seqid>" and returns an io.Reader the caller may
// consume incrementally instead of buffering the whole message, for
// arbitrarily large bodies. The reader is only valid for reading during and
// immediately after the Run call that executes this Command; it must be
// fully drained (or discarded) before the next Run.
func (e *Engine) RetrStream(index int, into *DataReader) *Command {
	cmd := NewCommand("RETR %d", indexToSeqID(index))
	cmd.Handler = func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		fs.SetDataMode()
		*into = DataReader{ctx: ctx, fs: fs}
		return nil
	}
	return e.QueueCommand(cmd)
}

// DataReader adapts FramedStream.ReadData to io.Reader for streaming
// message bodies (MessageStream in SPEC_FULL.md §3).
type DataReader struct {
	ctx context.Context
	fs  *FramedStream
}

// Read implements io.Reader, returning io.EOF once the data-mode terminator
// has been consumed.
func (d *DataReader) Read(p []byte) (int, error) {
	if d.fs == nil {
		return 0, io.EOF
	}
	if d.fs.EndOfData() {
		return 0, io.EOF
	}
	n, err := d.fs.ReadData(d.ctx, p)
	if err != nil {
		return n, err
	}
	if n == 0 && d.fs.EndOfData() {
		return 0, io.EOF
	}
	return n, nil
}

var _ io.Reader = (*DataReader)(nil)

// Dele queues "DELE <seqid>" for one zero-based index.
func (e *Engine) Dele(index int) *Command {
	return e.QueueCommand(NewCommand("DELE %d", indexToSeqID(index)))
}

// DeleteIndices queues one DELE per index, in order, always using the
// seqid = index + 1 rule (closing the off-by-one noted in SPEC_FULL.md §9).
func (e *Engine) DeleteIndices(indices []int) []*Command {
	cmds := make([]*Command, len(indices))
	for i, idx := range indices {
		cmds[i] = e.Dele(idx)
	}
	return cmds
}

// DeleteRange queues DELE for every index in [start, end), returning no
// Commands and touching no wire bytes if the range is empty.
func (e *Engine) DeleteRange(start, end int) []*Command {
	if end <= start {
		return nil
	}
	cmds := make([]*Command, 0, end-start)
	for i := start; i < end; i++ {
		cmds = append(cmds, e.Dele(i))
	}
	return cmds
}

// GetMessages queues RETR for every index in [start, end); see
// DeleteRange for the empty-range contract.
func (e *Engine) GetMessages(start, end int) []*Command {
	if end <= start {
		return nil
	}
	cmds := make([]*Command, 0, end-start)
	for i := start; i < end; i++ {
		cmds = append(cmds, e.Retr(i))
	}
	return cmds
}

// GetMessageHeaders queues TOP <seqid> 0 for every index in [start, end).
func (e *Engine) GetMessageHeaders(start, end int) []*Command {
	if end <= start {
		return nil
	}
	cmds := make([]*Command, 0, end-start)
	for i := start; i < end; i++ {
		cmds = append(cmds, e.Top(i, 0))
	}
	return cmds
}

// Rset queues RSET, clearing server-side deletion marks.
func (e *Engine) Rset() *Command { return e.QueueCommand(NewCommand("RSET")) }

// Noop queues NOOP.
func (e *Engine) Noop() *Command { return e.QueueCommand(NewCommand("NOOP")) }

// Quit queues QUIT. The caller should Disconnect after Run completes
// regardless of the server's response.
func (e *Engine) Quit() *Command { return e.QueueCommand(NewCommand("QUIT")) }

// Lang queues LANG with no argument, listing available languages.
func (e *Engine) Lang(out *[]LangEntry) *Command {
	cmd := NewCommand("LANG")
	cmd.Handler = func(ctx context.Context, fs *FramedStream, cmd *Command) error {
		body, err := readMultilineBody(ctx, fs)
		if err != nil {
			return err
		}
		*out = (*out)[:0]
		for _, line := range splitLines(body) {
			if line == "" {
				continue
			}
			code, desc := ParseLangLine(line)
			*out = append(*out, LangEntry{Code: code, Description: desc})
		}
		return nil
	}
	return e.QueueCommand(cmd)
}

// LangEntry is one parsed LANG body row.
type LangEntry struct {
	Code        string
	Description string
}

// SetLang queues "LANG <code>", selecting the server's response language.
// code must be non-empty.
func (e *Engine) SetLang(code string) (*Command, error) {
	if code == "" {
		return nil, &ArgumentError{Arg: "code", Problem: "must not be empty"}
	}
	return e.QueueCommand(NewCommand("LANG %s", code)), nil
}

// splitLines splits a dot-stuff-decoded body on CRLF or LF boundaries
// without producing a trailing empty element for a final terminator.
func splitLines(body []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
