package command

import (
	"testing"

	"respcore/internal/protocol"
	"respcore/internal/store"

	"github.com/stretchr/testify/require"
)

func newInterp() *Interpreter {
	return New(store.NewEngine(), &Info{
		Role:       "master",
		ReplID:     "0123456789012345678901234567890123456789",
		ReplOffset: 0,
		Dir:        "/tmp",
		DBFilename: "dump.rdb",
	})
}

func cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

func TestPing(t *testing.T) {
	in := newInterp()
	require.Equal(t, protocol.Str("PONG"), in.Execute(cmd("PING")))
}

func TestSetThenGet(t *testing.T) {
	in := newInterp()
	require.Equal(t, protocol.Str("OK"), in.Execute(cmd("SET", "k", "v")))
	require.Equal(t, protocol.Bulk([]byte("v")), in.Execute(cmd("GET", "k")))
}

func TestGetMissingIsNullBulk(t *testing.T) {
	in := newInterp()
	require.Equal(t, protocol.NullBulk(), in.Execute(cmd("GET", "missing")))
}

func TestSetWithPXExpires(t *testing.T) {
	in := newInterp()
	in.Execute(cmd("SET", "k", "v", "PX", "0"))
	reply := in.Execute(cmd("GET", "k"))
	require.Equal(t, protocol.NullBulk(), reply)
}

func TestIncrNewExistingAndError(t *testing.T) {
	in := newInterp()
	require.Equal(t, protocol.Int64(1), in.Execute(cmd("INCR", "n")))
	require.Equal(t, protocol.Int64(2), in.Execute(cmd("INCR", "n")))

	in.Execute(cmd("SET", "s", "not-a-number"))
	reply := in.Execute(cmd("INCR", "s"))
	require.Equal(t, protocol.SimpleError, reply.Kind)
}

func TestIncrWrongTypeOnStream(t *testing.T) {
	in := newInterp()
	in.Execute(cmd("XADD", "stream", "*", "f", "v"))
	reply := in.Execute(cmd("INCR", "stream"))
	require.Equal(t, protocol.SimpleError, reply.Kind)
}

func TestInfoReplication(t *testing.T) {
	in := newInterp()
	reply := in.Execute(cmd("INFO", "replication"))
	require.Equal(t, protocol.BulkString, reply.Kind)
	require.Contains(t, string(reply.Bulk), "role:master")
}

func TestConfigGetKnownAndUnknown(t *testing.T) {
	in := newInterp()
	reply := in.Execute(cmd("CONFIG", "GET", "dir"))
	require.Equal(t, protocol.Arr(protocol.BulkStr("dir"), protocol.BulkStr("/tmp")), reply)

	reply = in.Execute(cmd("CONFIG", "GET", "nope"))
	require.Equal(t, protocol.Array, reply.Kind)
	require.Len(t, reply.Items, 0)
}

func TestXaddThenXrange(t *testing.T) {
	in := newInterp()
	addReply := in.Execute(cmd("XADD", "events", "1-1", "temp", "90"))
	require.Equal(t, protocol.BulkStr("1-1"), addReply)

	reply := in.Execute(cmd("XRANGE", "events", "-", "+"))
	require.Equal(t, protocol.Array, reply.Kind)
	require.Len(t, reply.Items, 1)
	require.Equal(t, protocol.BulkStr("1-1"), reply.Items[0].Items[0])
}

func TestXreadNonBlockingReturnsNullWhenEmpty(t *testing.T) {
	in := newInterp()
	in.Execute(cmd("XADD", "events", "1-1", "f", "v"))
	reply := in.Execute(cmd("XREAD", "STREAMS", "events", "1-1"))
	require.Equal(t, protocol.NullBulk(), reply)
}

func TestXreadNonBlockingReturnsNewEntries(t *testing.T) {
	in := newInterp()
	in.Execute(cmd("XADD", "events", "1-1", "f", "v"))
	in.Execute(cmd("XADD", "events", "2-1", "f", "v2"))
	reply := in.Execute(cmd("XREAD", "STREAMS", "events", "1-1"))
	require.Equal(t, protocol.Array, reply.Kind)
	require.Len(t, reply.Items, 1)
	streamEntry := reply.Items[0]
	require.Equal(t, protocol.BulkStr("events"), streamEntry.Items[0])
}

func TestKeysWildcard(t *testing.T) {
	in := newInterp()
	in.Execute(cmd("SET", "a", "1"))
	in.Execute(cmd("SET", "b", "2"))
	reply := in.Execute(cmd("KEYS", "*"))
	require.Len(t, reply.Items, 2)
}

func TestTypeOf(t *testing.T) {
	in := newInterp()
	in.Execute(cmd("SET", "s", "v"))
	in.Execute(cmd("XADD", "st", "*", "f", "v"))
	require.Equal(t, protocol.Str("string"), in.Execute(cmd("TYPE", "s")))
	require.Equal(t, protocol.Str("stream"), in.Execute(cmd("TYPE", "st")))
	require.Equal(t, protocol.Str("none"), in.Execute(cmd("TYPE", "missing")))
}

func TestUnknownCommand(t *testing.T) {
	in := newInterp()
	reply := in.Execute(cmd("NOPE"))
	require.Equal(t, protocol.SimpleError, reply.Kind)
}

func TestArityErrors(t *testing.T) {
	in := newInterp()
	require.Equal(t, protocol.SimpleError, in.Execute(cmd("GET")).Kind)
	require.Equal(t, protocol.SimpleError, in.Execute(cmd("SET", "k")).Kind)
	require.Equal(t, protocol.SimpleError, in.Execute(cmd("PING", "extra")).Kind)
}
