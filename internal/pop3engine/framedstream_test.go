package pop3engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal io.ReadWriter backed by a fixed read buffer and a
// growable write buffer, standing in for a net.Conn in these unit tests.
type fakeConn struct {
	r   *bytes.Reader
	w   bytes.Buffer
}

func newFakeConn(readData string) *fakeConn {
	return &fakeConn{r: bytes.NewReader([]byte(readData))}
}

func (f *fakeConn) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error) { return f.w.Write(p) }

func TestFramedStreamReadFullLine(t *testing.T) {
	conn := newFakeConn("+OK POP3 ready\r\n-ERR no such message\r\n")
	fs := NewFramedStream(conn)

	line, err := fs.ReadFullLine(context.Background())
	require.NoError(t, err)
	require.Equal(t, "+OK POP3 ready", line)

	line, err = fs.ReadFullLine(context.Background())
	require.NoError(t, err)
	require.Equal(t, "-ERR no such message", line)
}

func TestFramedStreamReadFullLineLFOnly(t *testing.T) {
	conn := newFakeConn("+OK\n")
	fs := NewFramedStream(conn)

	line, err := fs.ReadFullLine(context.Background())
	require.NoError(t, err)
	require.Equal(t, "+OK", line)
}

func TestFramedStreamUnexpectedEOF(t *testing.T) {
	conn := newFakeConn("")
	fs := NewFramedStream(conn)

	_, err := fs.ReadFullLine(context.Background())
	require.Error(t, err)
	require.False(t, fs.Connected())

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestFramedStreamReadDataPlainBody(t *testing.T) {
	conn := newFakeConn("line one\r\nline two\r\n.\r\n")
	fs := NewFramedStream(conn)
	fs.SetDataMode()

	var out bytes.Buffer
	chunk := make([]byte, 8)
	for !fs.EndOfData() {
		n, err := fs.ReadData(context.Background(), chunk)
		require.NoError(t, err)
		out.Write(chunk[:n])
	}
	require.Equal(t, "line one\r\nline two\r\n", out.String())
}

func TestFramedStreamReadDataDotStuffed(t *testing.T) {
	conn := newFakeConn("..leading dot\r\nplain\r\n.\r\n")
	fs := NewFramedStream(conn)
	fs.SetDataMode()

	var out bytes.Buffer
	chunk := make([]byte, 4096)
	for !fs.EndOfData() {
		n, err := fs.ReadData(context.Background(), chunk)
		require.NoError(t, err)
		out.Write(chunk[:n])
		if n == 0 {
			break
		}
	}
	require.Equal(t, ".leading dot\r\nplain\r\n", out.String())
}

func TestFramedStreamReadDataSingleLeadingDot(t *testing.T) {
	conn := newFakeConn(".stuffed line\r\nplain\r\n.\r\n")
	fs := NewFramedStream(conn)
	fs.SetDataMode()

	var out bytes.Buffer
	chunk := make([]byte, 4096)
	for !fs.EndOfData() {
		n, err := fs.ReadData(context.Background(), chunk)
		require.NoError(t, err)
		out.Write(chunk[:n])
		if n == 0 {
			break
		}
	}
	require.Equal(t, "stuffed line\r\nplain\r\n", out.String())
}

// TestFramedStreamReadDataDotAcrossDestinationBoundary guards against
// misreading a body line that legitimately ends in '.' as a terminator when
// the caller's destination buffer fills exactly before that trailing byte,
// leaving inStart mid-line across the ReadData call boundary.
func TestFramedStreamReadDataDotAcrossDestinationBoundary(t *testing.T) {
	conn := newFakeConn("abc.\r\nnext line\r\n.\r\n")
	fs := NewFramedStream(conn)
	fs.SetDataMode()

	var out bytes.Buffer
	// 3 bytes exhausts the destination buffer on "abc" alone, leaving
	// inStart positioned exactly at the trailing '.' of "abc." across the
	// call boundary.
	chunk := make([]byte, 3)
	for !fs.EndOfData() {
		n, err := fs.ReadData(context.Background(), chunk)
		require.NoError(t, err)
		out.Write(chunk[:n])
		if n == 0 {
			break
		}
	}
	require.Equal(t, "abc.\r\nnext line\r\n", out.String())
}

func TestFramedStreamReadDataLFTerminator(t *testing.T) {
	conn := newFakeConn("body\n.\n")
	fs := NewFramedStream(conn)
	fs.SetDataMode()

	var out bytes.Buffer
	chunk := make([]byte, 4096)
	for !fs.EndOfData() {
		n, err := fs.ReadData(context.Background(), chunk)
		require.NoError(t, err)
		out.Write(chunk[:n])
		if n == 0 {
			break
		}
	}
	require.Equal(t, "body\n", out.String())
}

func TestFramedStreamQueueCommandAndFlush(t *testing.T) {
	conn := newFakeConn("")
	fs := NewFramedStream(conn)

	require.NoError(t, fs.QueueCommand(context.Background(), EncodingASCII, "USER alice"))
	require.NoError(t, fs.QueueCommand(context.Background(), EncodingASCII, "PASS hunter2"))
	require.NoError(t, fs.Flush(context.Background()))

	require.Equal(t, "USER alice\r\nPASS hunter2\r\n", conn.w.String())
}

func TestFramedStreamQueueCommandRejectsNonASCIIWithoutUTF8(t *testing.T) {
	conn := newFakeConn("")
	fs := NewFramedStream(conn)

	err := fs.QueueCommand(context.Background(), EncodingASCII, "USER café")
	require.Error(t, err)
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

func TestFramedStreamUpgradeTransportResetsBuffers(t *testing.T) {
	conn := newFakeConn("+OK\r\n")
	fs := NewFramedStream(conn)

	_, _, err := fs.ReadLine(context.Background())
	require.NoError(t, err)

	next := newFakeConn("+OK after upgrade\r\n")
	fs.UpgradeTransport(next)

	line, err := fs.ReadFullLine(context.Background())
	require.NoError(t, err)
	require.Equal(t, "+OK after upgrade", line)
}
