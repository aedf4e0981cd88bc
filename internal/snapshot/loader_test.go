package snapshot

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeLoadRoundTrip(t *testing.T) {
	records := []Record{
		{Key: "foo", Value: []byte("bar")},
		{Key: "with-ttl", Value: []byte("v"), ExpiresAtUnixMs: time.Now().Add(time.Hour).UnixMilli()},
	}

	encoded := Encode(records)
	loaded, err := (RDBLoader{}).Load(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "foo", loaded[0].Key)
	require.Equal(t, "bar", string(loaded[0].Value))
	require.Equal(t, "with-ttl", loaded[1].Key)
	require.NotZero(t, loaded[1].ExpiresAtUnixMs)
}

func TestLoadDropsExpiredKeys(t *testing.T) {
	records := []Record{
		{Key: "stale", Value: []byte("v"), ExpiresAtUnixMs: time.Now().Add(-time.Hour).UnixMilli()},
		{Key: "fresh", Value: []byte("v")},
	}
	loaded, err := (RDBLoader{}).Load(bytes.NewReader(Encode(records)))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "fresh", loaded[0].Key)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := (RDBLoader{}).Load(bytes.NewReader([]byte("NOTREDIS0011")))
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestLoadSkipsAuxFields(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opAux)
	writeString(&buf, "redis-ver")
	writeString(&buf, "7.0.0")
	buf.WriteByte(opSelectDB)
	buf.WriteByte(0)
	buf.WriteByte(opResizeDB)
	writeLength(&buf, 1)
	writeLength(&buf, 0)
	buf.WriteByte(typeString)
	writeString(&buf, "k")
	writeString(&buf, "v")
	buf.WriteByte(opEOF)
	buf.Write(make([]byte, 8))

	loaded, err := (RDBLoader{}).Load(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "k", loaded[0].Key)
}
