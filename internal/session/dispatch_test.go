package session

import (
	"testing"
	"time"

	"respcore/internal/command"
	"respcore/internal/protocol"
	"respcore/internal/replication"
	"respcore/internal/store"

	"github.com/stretchr/testify/require"
)

func newDispatcher() (*Dispatcher, *replication.Controller, *store.Engine) {
	engine := store.NewEngine()
	interp := command.New(engine, &command.Info{Role: "master", ReplID: "deadbeef"})
	repl := replication.New()
	waiter := replication.NewStreamCoordinator(engine)
	return NewDispatcher(interp, repl, engine, waiter), repl, engine
}

func arr(parts ...string) protocol.Value {
	items := make([]protocol.Value, len(parts))
	for i, p := range parts {
		items[i] = protocol.BulkStr(p)
	}
	return protocol.Arr(items...)
}

func TestHandleFramePingOutsideTransaction(t *testing.T) {
	d, _, _ := newDispatcher()
	sess := New(1)
	out := d.HandleFrame(sess, arr("PING"), time.Now(), nil, "x")
	require.Equal(t, protocol.Encode(protocol.Str("PONG")), out.Reply)
}

func TestTransactionLifecycle(t *testing.T) {
	d, _, _ := newDispatcher()
	sess := New(1)

	out := d.HandleFrame(sess, arr("MULTI"), time.Now(), nil, "x")
	require.Equal(t, protocol.Encode(protocol.Str("OK")), out.Reply)
	require.NotNil(t, sess.Txn)

	out = d.HandleFrame(sess, arr("INCR", "k"), time.Now(), nil, "x")
	require.Equal(t, protocol.Encode(protocol.Str("QUEUED")), out.Reply)

	out = d.HandleFrame(sess, arr("INCR", "k"), time.Now(), nil, "x")
	require.Equal(t, protocol.Encode(protocol.Str("QUEUED")), out.Reply)

	out = d.HandleFrame(sess, arr("EXEC"), time.Now(), nil, "x")
	require.Equal(t, protocol.Encode(protocol.Arr(protocol.Int64(1), protocol.Int64(2))), out.Reply)
	require.Nil(t, sess.Txn)
}

func TestExecWithoutMultiIsError(t *testing.T) {
	d, _, _ := newDispatcher()
	sess := New(1)
	out := d.HandleFrame(sess, arr("EXEC"), time.Now(), nil, "x")
	require.Contains(t, string(out.Reply), "EXEC/DISCARD without MULTI")
}

func TestSetForwardsToReplicas(t *testing.T) {
	d, repl, _ := newDispatcher()
	var buf fakeWriter
	repl.AddReplica(2, &buf)
	sess := New(1)

	d.HandleFrame(sess, arr("SET", "k", "v"), time.Now(), nil, "x")
	require.Contains(t, string(buf.data), "SET")
	require.False(t, repl.Replicas[0].UpToDate)
}

func TestGetDoesNotForward(t *testing.T) {
	d, repl, _ := newDispatcher()
	var buf fakeWriter
	repl.AddReplica(2, &buf)
	sess := New(1)

	d.HandleFrame(sess, arr("GET", "k"), time.Now(), nil, "x")
	require.Empty(t, buf.data)
}

func TestWaitDefersReply(t *testing.T) {
	d, repl, _ := newDispatcher()
	sess := New(1)
	out := d.HandleFrame(sess, arr("WAIT", "0", "100"), time.Now(), nil, "x")
	require.Nil(t, out.Reply)
	require.NotNil(t, repl.Wait)
}

func TestPsyncRespondsWithFullresyncAndSnapshot(t *testing.T) {
	d, _, _ := newDispatcher()
	sess := New(1)
	out := d.HandleFrame(sess, arr("PSYNC", "?", "-1"), time.Now(), func() []byte { return []byte("abc") }, "deadbeef")
	require.Contains(t, string(out.Reply), "FULLRESYNC deadbeef 0")
	require.True(t, out.BecameReplica)
	require.Equal(t, []byte("$3\r\nabc"), out.ReplicaPayload)
}

type fakeWriter struct{ data []byte }

func (f *fakeWriter) Write(p []byte) (int, error) {
	f.data = append(f.data, p...)
	return len(p), nil
}
