package pop3engine

import (
	"context"
	"io"

	"go.uber.org/atomic"
)

const (
	// inputBlockSize is the size of the main input buffer region, not
	// counting the read-ahead prefix or pad.
	inputBlockSize = 4096

	// lookaheadPrefix is reserved at the front of the input buffer so a
	// compaction never needs to shift data past index 0.
	lookaheadPrefix = 128

	// padSize leaves two spare bytes past the logical end of the input
	// buffer. Reads never fill them, and the dot-stuff/terminator scan does
	// not use them as a sentinel: it checks the unread length explicitly.
	padSize = 2

	// minDataLookahead is the smallest unread-region size below which the
	// data-mode reader must refill before it can disambiguate a possible
	// "." terminator line.
	minDataLookahead = 3

	// outputBlockSize bounds the command write buffer; a command that does
	// not fit forces a flush, which is the engine's only backpressure.
	outputBlockSize = 4096
)

// streamMode selects how FramedStream.ReadLine/ReadData interpret the
// buffered bytes.
type streamMode int

const (
	modeLine streamMode = iota
	modeData
)

// FramedStream provides the Engine with line-oriented reads, POP3 data-mode
// bulk reads with dot-stuffing/terminator decoding, and queued, flush-
// controlled command writes. It is owned exclusively by one Engine for the
// life of one session; upgrading to TLS replaces the inner io.ReadWriter in
// place (see UpgradeTransport).
type FramedStream struct {
	rw io.ReadWriter

	in       []byte // len == lookaheadPrefix + inputBlockSize + padSize
	inStart  int    // first unread byte
	inEnd    int    // one past last buffered byte
	midline  bool   // the last ReadLine call returned an incomplete line

	dataLineStart bool // ReadData is positioned at the start of a wire line

	out    []byte
	outLen int

	mode      streamMode
	endOfData atomic.Bool
	connected atomic.Bool
}

// NewFramedStream wraps rw. The stream starts in line mode, connected.
func NewFramedStream(rw io.ReadWriter) *FramedStream {
	fs := &FramedStream{
		rw:  rw,
		in:  make([]byte, lookaheadPrefix+inputBlockSize+padSize),
		out: make([]byte, outputBlockSize),
	}
	fs.inStart = lookaheadPrefix
	fs.inEnd = lookaheadPrefix
	fs.connected.Store(true)
	return fs
}

// Connected reports whether the stream is still usable.
func (fs *FramedStream) Connected() bool { return fs.connected.Load() }

// Underlying returns the current inner io.ReadWriter, for callers (such as
// the Connector) that need to splice in a TLS wrapper around the raw
// net.Conn after STLS. It must only be called between commands, when both
// buffers are empty.
func (fs *FramedStream) Underlying() io.ReadWriter { return fs.rw }

// SetDataMode switches the read side into POP3 data-mode framing and clears
// EndOfData for a new bulk response.
func (fs *FramedStream) SetDataMode() {
	fs.mode = modeData
	fs.endOfData.Store(false)
	fs.dataLineStart = true
}

// SetLineMode switches the read side back to plain line framing.
func (fs *FramedStream) SetLineMode() {
	fs.mode = modeLine
}

// EndOfData reports whether the data-mode terminator has been consumed.
func (fs *FramedStream) EndOfData() bool { return fs.endOfData.Load() }

// UpgradeTransport replaces the underlying io.ReadWriter in place, for use
// immediately after a successful STLS handshake. The caller must guarantee
// both buffers are empty (no partial line, no queued output); neither this
// method nor the Engine checks it, and any bytes still buffered are
// discarded.
func (fs *FramedStream) UpgradeTransport(rw io.ReadWriter) {
	fs.rw = rw
	fs.inStart = lookaheadPrefix
	fs.inEnd = lookaheadPrefix
	fs.midline = false
	fs.dataLineStart = true
	fs.outLen = 0
}

func (fs *FramedStream) fail(err error) error {
	fs.connected.Store(false)
	return err
}

// refill compacts the unread region to the reserved prefix and performs one
// underlying read to top up the buffer. A zero-length read (including one
// that reports io.EOF) is treated as an unexpected disconnect.
func (fs *FramedStream) refill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fs.fail(err)
	}

	unread := fs.inEnd - fs.inStart
	copy(fs.in[lookaheadPrefix-unread:lookaheadPrefix], fs.in[fs.inStart:fs.inEnd])
	fs.inStart = lookaheadPrefix - unread
	fs.inEnd = lookaheadPrefix

	n, err := fs.rw.Read(fs.in[fs.inEnd : lookaheadPrefix+inputBlockSize])
	if err != nil && err != io.EOF {
		return fs.fail(err)
	}
	if n == 0 {
		return fs.fail(protocolErrorf(io.ErrUnexpectedEOF, "server disconnected unexpectedly"))
	}
	fs.inEnd += n
	return nil
}

// ReadLine returns the next complete, CR/LF-stripped line. "complete"
// reports whether the returned bytes are a whole line (false means the
// caller must append and call again). ReadLine never returns bytes from
// past a line boundary.
func (fs *FramedStream) ReadLine(ctx context.Context) (line []byte, complete bool, err error) {
	if !fs.connected.Load() {
		return nil, false, ErrDisconnected
	}

	if fs.inStart == fs.inEnd {
		if err := fs.refill(ctx); err != nil {
			return nil, false, err
		}
	}

	buf := fs.in[fs.inStart:fs.inEnd]
	for i, b := range buf {
		if b == '\n' {
			end := i
			if end > 0 && buf[end-1] == '\r' {
				end--
			}
			line = buf[:end]
			fs.inStart += i + 1
			fs.midline = false
			return line, true, nil
		}
	}

	// No newline in the buffered region yet: hand back what we have and
	// ask the caller to keep appending.
	fs.midline = true
	out := make([]byte, len(buf))
	copy(out, buf)
	fs.inStart = fs.inEnd
	return out, false, nil
}

// ReadFullLine loops ReadLine until a complete line is assembled.
func (fs *FramedStream) ReadFullLine(ctx context.Context) (string, error) {
	var acc []byte
	for {
		chunk, complete, err := fs.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		acc = append(acc, chunk...)
		if complete {
			return string(acc), nil
		}
	}
}

// ReadData decodes POP3 data-mode framing into buf, returning the number of
// bytes written. It may return n < len(buf) with err == nil if more
// buffered input would be needed to disambiguate a terminator; callers loop
// until buf is full or EndOfData() is true. It accepts both "\r\n.\r\n" and
// "\n.\n"-style terminators and strips one leading '.' from dot-stuffed
// body lines.
func (fs *FramedStream) ReadData(ctx context.Context, buf []byte) (n int, err error) {
	if !fs.connected.Load() {
		return 0, ErrDisconnected
	}
	if fs.mode != modeData {
		return 0, ErrNotInDataMode
	}
	if fs.endOfData.Load() {
		return 0, nil
	}

	for n < len(buf) {
		if fs.inStart == fs.inEnd {
			if err := fs.refill(ctx); err != nil {
				return n, err
			}
		}

		unread := fs.in[fs.inStart:fs.inEnd]

		// Dot/terminator interpretation only applies at the start of a
		// wire line; once we are mid-line (including the remainder of a
		// dot-stuffed line) every byte, '.' included, is plain data.
		if fs.dataLineStart && unread[0] == '.' {
			if len(unread) >= 2 && unread[1] == '\n' {
				fs.inStart += 2
				fs.endOfData.Store(true)
				return n, nil
			}
			if len(unread) >= 3 && unread[1] == '\r' && unread[2] == '\n' {
				fs.inStart += 3
				fs.endOfData.Store(true)
				return n, nil
			}
			// Ambiguous with fewer than 3 bytes buffered and not yet a
			// known non-terminator: force a refill to get more lookahead.
			if len(unread) < minDataLookahead {
				if err := fs.refill(ctx); err != nil {
					return n, err
				}
				continue
			}
			// Not a terminator: this is a dot-stuffed line (or, per RFC
			// 1939, any other line a conforming server would not send
			// starting with '.'). Strip exactly the one leading dot
			// without emitting it; the remainder of the line, dots
			// included, is copied verbatim below.
			fs.inStart++
			fs.dataLineStart = false
			continue
		}

		// Copy verbatim bytes up to (but not including) the next line
		// start, i.e. up to and including the next '\n', or until buf/
		// unread is exhausted.
		avail := len(buf) - n
		copyLen := 0
		reachedLineEnd := false
		for copyLen < len(unread) && copyLen < avail {
			if unread[copyLen] == '\n' {
				copyLen++
				reachedLineEnd = true
				break
			}
			copyLen++
		}
		copy(buf[n:n+copyLen], unread[:copyLen])
		n += copyLen
		fs.inStart += copyLen
		if copyLen > 0 {
			fs.dataLineStart = reachedLineEnd
		}
	}

	return n, nil
}

// QueueCommand encodes text using encoding and appends it to the output
// buffer, flushing first if it would not otherwise fit. If text alone
// exceeds the output block size it is split across multiple flushes, but a
// flush is never interleaved between two different commands' bytes.
func (fs *FramedStream) QueueCommand(ctx context.Context, encoding CommandEncoding, text string) error {
	if !fs.connected.Load() {
		return ErrDisconnected
	}

	encoded, err := encoding.Encode(text)
	if err != nil {
		return err
	}

	for len(encoded) > 0 {
		room := len(fs.out) - fs.outLen
		if room == 0 {
			if err := fs.Flush(ctx); err != nil {
				return err
			}
			room = len(fs.out)
		}
		if len(encoded) > room && fs.outLen > 0 {
			if err := fs.Flush(ctx); err != nil {
				return err
			}
			room = len(fs.out)
		}

		n := len(encoded)
		if n > room {
			n = room
		}
		copy(fs.out[fs.outLen:fs.outLen+n], encoded[:n])
		fs.outLen += n
		encoded = encoded[n:]

		if len(encoded) > 0 {
			// The command alone exceeds the block size: flush this
			// filled chunk before copying the remainder.
			if err := fs.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes and flushes the accumulated output buffer.
func (fs *FramedStream) Flush(ctx context.Context) error {
	if fs.outLen == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fs.fail(err)
	}
	if _, err := fs.rw.Write(fs.out[:fs.outLen]); err != nil {
		return fs.fail(err)
	}
	fs.outLen = 0
	return nil
}

// Close marks the stream disconnected and closes the underlying transport
// if it is an io.Closer.
func (fs *FramedStream) Close() error {
	fs.connected.Store(false)
	if c, ok := fs.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
