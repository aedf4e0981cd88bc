package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []Value{
		Str("PONG"),
		Err("ERR boom"),
		Int64(42),
		Int64(-7),
		BulkStr("foo"),
		NullBulk(),
		BulkStrings("SET", "foo", "bar"),
		Arr(Arr(BulkStr("a")), Int64(1), NullBulk()),
	}

	for _, v := range cases {
		encoded := Encode(v)
		decoded, n, err := Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, len(encoded), n)
		require.Equal(t, v, decoded)
	}
}

func TestDecodeNeedsMore(t *testing.T) {
	full := Encode(BulkStrings("PING"))
	for i := 0; i < len(full); i++ {
		_, _, err := Decode(full[:i])
		require.ErrorIs(t, err, ErrNeedMore)
	}
}

func TestDecodeNeverPartiallyConsumesOnError(t *testing.T) {
	_, n, err := Decode([]byte("!nope\r\n"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNeedMore)
	require.Zero(t, n)
}

func TestDecodeInlinePingBytes(t *testing.T) {
	buf := []byte("*1\r\n$4\r\nPING\r\n")
	v, n, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, BulkStrings("PING"), v)
}

func TestRDBHeaderFraming(t *testing.T) {
	buf := []byte("$5\r\nhello")
	length, headerLen, err := RDBHeader(buf)
	require.NoError(t, err)
	require.Equal(t, 5, length)
	payload := buf[headerLen : headerLen+length]
	require.Equal(t, "hello", string(payload))
}

func TestRDBHeaderNeedsMore(t *testing.T) {
	_, _, err := RDBHeader([]byte("$5\r"))
	require.ErrorIs(t, err, ErrNeedMore)
}
