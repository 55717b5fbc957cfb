package pop3engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	events []Event
}

func (o *recordingObserver) Notify(ev Event) { o.events = append(o.events, ev) }

func (o *recordingObserver) kinds() []EventKind {
	kinds := make([]EventKind, len(o.events))
	for i, ev := range o.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestEngineConnectParsesGreetingAndApopToken(t *testing.T) {
	conn := newFakeConn("+OK POP3 server ready <1896.697170952@dbc.mtview.ca.us>\r\n")
	obs := &recordingObserver{}
	e := NewEngine(obs)

	require.NoError(t, e.Connect(context.Background(), conn))
	require.Equal(t, StateConnected, e.State())
	require.True(t, e.Capabilities().Has(CapApop))
	require.Equal(t, "<1896.697170952@dbc.mtview.ca.us>", e.Metadata().ApopToken)
	require.Contains(t, obs.kinds(), EventConnected)
}

func TestEngineConnectWithoutApopToken(t *testing.T) {
	conn := newFakeConn("+OK POP3 server ready\r\n")
	e := NewEngine(nil)

	require.NoError(t, e.Connect(context.Background(), conn))
	require.False(t, e.Capabilities().Has(CapApop))
}

func TestEngineConnectRejectsMalformedGreeting(t *testing.T) {
	conn := newFakeConn("HELLO THERE\r\n")
	obs := &recordingObserver{}
	e := NewEngine(obs)

	err := e.Connect(context.Background(), conn)
	require.Error(t, err)
	require.Equal(t, StateDisconnected, e.State())
	require.Contains(t, obs.kinds(), EventDisconnected)
}

func TestEngineConnectRejectsReconnect(t *testing.T) {
	conn := newFakeConn("+OK ready\r\n")
	e := NewEngine(nil)
	require.NoError(t, e.Connect(context.Background(), conn))

	err := e.Connect(context.Background(), conn)
	require.Error(t, err)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestEngineQueryCapabilitiesParsesBody(t *testing.T) {
	conn := newFakeConn("+OK ready\r\n" +
		"+OK Capability list follows\r\nTOP\r\nUIDL\r\nSASL PLAIN SCRAM-SHA-256\r\nPIPELINING\r\n.\r\n")
	e := NewEngine(nil)
	require.NoError(t, e.Connect(context.Background(), conn))

	e.QueryCapabilities()
	require.NoError(t, e.Run(context.Background(), true))

	require.True(t, e.Capabilities().Has(CapTop))
	require.True(t, e.Capabilities().Has(CapUIDL))
	require.True(t, e.Capabilities().Has(CapSasl))
	require.True(t, e.Capabilities().Has(CapPipelining))
	require.ElementsMatch(t, []string{"PLAIN", "SCRAM-SHA-256"}, e.Metadata().Mechanisms())
}

func TestEngineRunPipelinesMultipleCommands(t *testing.T) {
	conn := newFakeConn("+OK ready\r\n" +
		"+OK 2 320\r\n" +
		"+OK 2 messages\r\n1 120\r\n2 200\r\n.\r\n" +
		"+OK message 1 deleted\r\n")
	e := NewEngine(nil)
	require.NoError(t, e.Connect(context.Background(), conn))

	statCmd := e.Stat()
	var entries []ListEntry
	listCmd := e.ListAll(&entries)
	deleCmd := e.Dele(0)

	require.NoError(t, e.Run(context.Background(), true))

	require.Equal(t, StatusOk, statCmd.Status)
	count, ok := e.MessageCount()
	require.True(t, ok)
	require.Equal(t, 2, count)

	require.Equal(t, StatusOk, listCmd.Status)
	require.Equal(t, []ListEntry{{Index: 0, Size: 120}, {Index: 1, Size: 200}}, entries)

	require.Equal(t, StatusOk, deleCmd.Status)
}

func TestEngineDeleteRangeIsIndexToSeqIDCorrect(t *testing.T) {
	e := NewEngine(nil)
	cmds := e.DeleteRange(0, 3)
	require.Len(t, cmds, 3)
	require.Equal(t, "DELE 1", cmds[0].Text)
	require.Equal(t, "DELE 2", cmds[1].Text)
	require.Equal(t, "DELE 3", cmds[2].Text)
}

func TestEngineDeleteRangeEmptyIsNoop(t *testing.T) {
	e := NewEngine(nil)
	require.Nil(t, e.DeleteRange(3, 3))
	require.Nil(t, e.DeleteRange(5, 2))
}

func TestEngineRunFatalOnProtocolError(t *testing.T) {
	conn := newFakeConn("+OK ready\r\nGARBAGE\r\n")
	e := NewEngine(nil)
	require.NoError(t, e.Connect(context.Background(), conn))

	e.Noop()
	err := e.Run(context.Background(), false)
	require.Error(t, err)
	require.Equal(t, StateDisconnected, e.State())
}

func TestEngineDisconnectIsIdempotentAndNotifiesOnce(t *testing.T) {
	conn := newFakeConn("+OK ready\r\n")
	obs := &recordingObserver{}
	e := NewEngine(obs)
	require.NoError(t, e.Connect(context.Background(), conn))

	require.NoError(t, e.Disconnect(context.Background(), nil))
	require.NoError(t, e.Disconnect(context.Background(), nil))

	count := 0
	for _, k := range obs.kinds() {
		if k == EventDisconnected {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestUidMapRoundTrip(t *testing.T) {
	m := newUidMap()
	m.set(1, "uid-1")
	m.set(2, "uid-2")

	seqID, ok := m.SeqID("uid-2")
	require.True(t, ok)
	require.Equal(t, 2, seqID)

	uid, ok := m.UID(1)
	require.True(t, ok)
	require.Equal(t, "uid-1", uid)

	_, ok = m.SeqID("missing")
	require.False(t, ok)
}

func TestIndexToSeqID(t *testing.T) {
	require.Equal(t, 1, indexToSeqID(0))
	require.Equal(t, 42, indexToSeqID(41))
}
