// Package replication implements the master-side Replication Controller:
// the replica list, write forwarding, and the WAIT command's ack
// accounting. The replica-side handshake driver lives in handshake.go.
package replication

import (
	"io"
	"time"

	"respcore/internal/protocol"
)

// Replica is a connected replica socket as seen from the master.
type Replica struct {
	Token    int
	Conn     io.Writer
	UpToDate bool
}

// WaitContext is the single in-flight WAIT a master may have open at a
// time; a second WAIT before the first resolves is not modeled since the
// spec treats it as at most one.
type WaitContext struct {
	Need       int
	Timeout    time.Duration
	Started    time.Time
	Acked      int
	ReplyToken int
}

// Controller holds every piece of process-wide replication state. It is
// mutated only from the event loop goroutine, so it carries no locks.
type Controller struct {
	Replicas []*Replica
	Wait     *WaitContext
}

func New() *Controller {
	return &Controller{}
}

func (c *Controller) AddReplica(token int, conn io.Writer) {
	c.Replicas = append(c.Replicas, &Replica{Token: token, Conn: conn, UpToDate: true})
}

func (c *Controller) RemoveReplica(token int) {
	for i, r := range c.Replicas {
		if r.Token == token {
			c.Replicas = append(c.Replicas[:i], c.Replicas[i+1:]...)
			return
		}
	}
}

func (c *Controller) replicaByToken(token int) *Replica {
	for _, r := range c.Replicas {
		if r.Token == token {
			return r
		}
	}
	return nil
}

// Forward marks every replica not up to date and writes the original
// command's RESP Array verbatim to each of them, fire-and-forget. encoded
// must already be RESP-encoded via protocol.Encode(command.ToValue()).
func (c *Controller) Forward(encoded []byte) {
	for _, r := range c.Replicas {
		r.UpToDate = false
		_, _ = r.Conn.Write(encoded)
	}
}

var getAckFrame = protocol.Encode(protocol.Arr(
	protocol.BulkStr("REPLCONF"), protocol.BulkStr("GETACK"), protocol.BulkStr("*"),
))

// BeginWait starts a new WaitContext: GETACK is broadcast only to
// replicas already known to be behind, and the already up-to-date count
// seeds the acked counter.
func (c *Controller) BeginWait(n int, timeout time.Duration, replyToken int, now time.Time) {
	initial := 0
	for _, r := range c.Replicas {
		if r.UpToDate {
			initial++
		} else {
			_, _ = r.Conn.Write(getAckFrame)
		}
	}
	c.Wait = &WaitContext{Need: n, Timeout: timeout, Started: now, Acked: initial, ReplyToken: replyToken}
}

// OnReplicaAck records one acknowledgement event on a replica-token
// socket while a WAIT is in flight - the event loop calls this without
// even decoding the bytes, per the outer-tick pseudocode.
func (c *Controller) OnReplicaAck(token int) {
	if c.Wait == nil {
		return
	}
	if r := c.replicaByToken(token); r != nil && !r.UpToDate {
		r.UpToDate = true
		c.Wait.Acked++
	}
}

// PollWait reports whether the in-flight WAIT should resolve now (ack
// target reached, or its deadline passed), clearing it if so.
func (c *Controller) PollWait(now time.Time) (resolved bool, ackCount, replyToken int) {
	w := c.Wait
	if w == nil {
		return false, 0, 0
	}
	if w.Acked >= w.Need || !now.Before(w.Started.Add(w.Timeout)) {
		c.Wait = nil
		return true, w.Acked, w.ReplyToken
	}
	return false, 0, 0
}
