package replication

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestForwardMarksReplicasStaleAndWrites(t *testing.T) {
	c := New()
	var buf1, buf2 bytes.Buffer
	c.AddReplica(2, &buf1)
	c.AddReplica(3, &buf2)

	c.Forward([]byte("*1\r\n$4\r\nPING\r\n"))

	require.False(t, c.Replicas[0].UpToDate)
	require.False(t, c.Replicas[1].UpToDate)
	require.Equal(t, "*1\r\n$4\r\nPING\r\n", buf1.String())
	require.Equal(t, "*1\r\n$4\r\nPING\r\n", buf2.String())
}

func TestWaitResolvesWhenAckTargetReached(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	c.AddReplica(2, &buf)
	c.Forward([]byte("x")) // replica now stale

	now := time.Now()
	c.BeginWait(1, time.Second, 42, now)
	require.Contains(t, buf.String(), "GETACK")

	c.OnReplicaAck(2)
	resolved, acked, token := c.PollWait(now)
	require.True(t, resolved)
	require.Equal(t, 1, acked)
	require.Equal(t, 42, token)
}

func TestWaitResolvesOnTimeoutWithoutEnoughAcks(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	c.AddReplica(2, &buf)
	c.Forward([]byte("x"))

	started := time.Now()
	c.BeginWait(5, 10*time.Millisecond, 1, started)

	resolved, _, _ := c.PollWait(started)
	require.False(t, resolved)

	resolved, acked, _ := c.PollWait(started.Add(20 * time.Millisecond))
	require.True(t, resolved)
	require.Equal(t, 0, acked)
}

func TestAlreadyUpToDateReplicasSeedAckedCount(t *testing.T) {
	c := New()
	var stale, fresh bytes.Buffer
	c.AddReplica(2, &stale)
	c.AddReplica(3, &fresh)
	c.Forward([]byte("x"))       // both stale now
	c.Replicas[1].UpToDate = true // 3 catches up before WAIT starts

	c.BeginWait(2, time.Second, 0, time.Now())
	require.Equal(t, 1, c.Wait.Acked)
	require.Contains(t, stale.String(), "GETACK")
	require.NotContains(t, fresh.String(), "GETACK")
}

func TestRemoveReplica(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	c.AddReplica(2, &buf)
	c.RemoveReplica(2)
	require.Len(t, c.Replicas, 0)
}
