package session

import (
	"strconv"
	"strings"
	"time"

	"respcore/internal/command"
	"respcore/internal/protocol"
	"respcore/internal/replication"
	"respcore/internal/store"

	"github.com/rs/zerolog/log"
)

// StreamWaiter is the subset of the blocking-XREAD coordinator the
// dispatcher needs: registering a pending read when a frame blocks, and
// poking it after an XADD lands.
type StreamWaiter interface {
	Register(token int, keys, ids []string, blockMs int64, now time.Time)
	Poke(key string, now time.Time)
}

// Dispatcher runs the per-frame algorithm from the connection state
// machine: it owns the one Interpreter and Replication Controller shared
// by every connection, since both are process-wide state mutated only
// from the event loop.
type Dispatcher struct {
	Interp  *command.Interpreter
	Repl    *replication.Controller
	Engine  *store.Engine
	Waiter  StreamWaiter
	IsReplicaOf bool // true when this process itself replicates a master
}

func NewDispatcher(interp *command.Interpreter, repl *replication.Controller, engine *store.Engine, waiter StreamWaiter) *Dispatcher {
	return &Dispatcher{Interp: interp, Repl: repl, Engine: engine, Waiter: waiter}
}

// Outcome is everything the caller (the event loop) needs to act on after
// one frame: bytes to write back to this connection (nil if the command
// deferred its reply, e.g. WAIT or a blocking XREAD), and whether this
// connection should now be registered as a replica.
type Outcome struct {
	Reply          []byte
	BecameReplica  bool
	ReplicaPayload []byte // snapshot framing to send right after Reply, PSYNC only
}

// HandleFrame runs one decoded command against a connection: queuing it
// if a transaction is open, otherwise executing it immediately and
// forwarding to replicas, beginning a WAIT, or blocking an XREAD as
// the command requires.
func (d *Dispatcher) HandleFrame(sess *Session, v protocol.Value, now time.Time, snapshotBytes func() []byte, replID string) Outcome {
	cmd, err := command.Parse(v)
	if err != nil {
		return Outcome{Reply: protocol.Encode(protocol.Err("ERR protocol error"))}
	}

	switch cmd.Name {
	case "MULTI":
		sess.BeginTransaction()
		return Outcome{Reply: protocol.Encode(protocol.Str("OK"))}
	case "EXEC", "DISCARD":
		if sess.Txn == nil {
			return Outcome{Reply: protocol.Encode(protocol.Err("ERR EXEC/DISCARD without MULTI"))}
		}
	}

	if sess.Txn != nil {
		return d.handleQueued(sess, cmd)
	}

	switch cmd.Name {
	case "WAIT":
		return d.handleWait(sess, cmd, now)
	case "XREAD":
		if blocked, outcome := d.maybeBlock(sess, cmd, now); blocked {
			return outcome
		}
	case "PSYNC":
		return d.handlePsync(cmd, replID, snapshotBytes)
	case "REPLCONF":
		if sess.IsReplica && len(cmd.Args) == 2 && cmd.Args[0] == "GETACK" && cmd.Args[1] == "*" {
			// Accounting convention: processed_bytes reflects everything
			// consumed up to and including this GETACK frame.
			ack := protocol.BulkStrings("REPLCONF", "ACK", strconv.FormatInt(d.processedBytes(), 10))
			return Outcome{Reply: protocol.Encode(ack)}
		}
	}

	reply := d.Interp.Execute(cmd)
	encoded := protocol.Encode(reply)

	if cmd.Name == "XADD" && reply.Kind != protocol.SimpleError && len(cmd.Args) > 0 {
		d.Waiter.Poke(cmd.Args[0], now)
	}

	if cmd.ShouldForward() {
		d.Repl.Forward(protocol.Encode(cmd.ToValue()))
	}

	if sess.IsReplica {
		// A replica applies commands from its master silently.
		return Outcome{}
	}
	return Outcome{Reply: encoded}
}

func (d *Dispatcher) handleQueued(sess *Session, cmd command.Command) Outcome {
	switch cmd.Name {
	case "DISCARD":
		sess.EndTransaction()
		return Outcome{Reply: protocol.Encode(protocol.Str("OK"))}
	case "EXEC":
		replies := make([]protocol.Value, len(sess.Txn.Queued))
		now := time.Now()
		for i, queued := range sess.Txn.Queued {
			replies[i] = d.Interp.Execute(queued)
			if queued.Name == "XADD" && replies[i].Kind != protocol.SimpleError && len(queued.Args) > 0 {
				d.Waiter.Poke(queued.Args[0], now)
			}
			if queued.ShouldForward() {
				d.Repl.Forward(protocol.Encode(queued.ToValue()))
			}
		}
		sess.EndTransaction()
		return Outcome{Reply: protocol.Encode(protocol.Arr(replies...))}
	default:
		sess.Txn.Queued = append(sess.Txn.Queued, cmd)
		return Outcome{Reply: protocol.Encode(protocol.Str("QUEUED"))}
	}
}

func (d *Dispatcher) handleWait(sess *Session, cmd command.Command, now time.Time) Outcome {
	if len(cmd.Args) != 2 {
		return Outcome{Reply: protocol.Encode(protocol.Err("ERR wrong number of arguments"))}
	}
	n := atoiOr(cmd.Args[0])
	timeoutMs := atoiOr(cmd.Args[1])
	d.Repl.BeginWait(n, time.Duration(timeoutMs)*time.Millisecond, sess.Token, now)
	log.Debug().Int("n", n).Int64("timeout_ms", int64(timeoutMs)).Msg("wait started")
	return Outcome{}
}

func (d *Dispatcher) maybeBlock(sess *Session, cmd command.Command, now time.Time) (bool, Outcome) {
	if len(cmd.Args) == 0 || strings.ToUpper(cmd.Args[0]) != "BLOCK" {
		return false, Outcome{}
	}
	blockMs := atoiOr(cmd.Args[1])
	keys, ids, ok := splitStreams(cmd.Args[2:])
	if !ok {
		return true, Outcome{Reply: protocol.Encode(protocol.Err("ERR wrong number of arguments"))}
	}
	for i, id := range ids {
		if id == "$" {
			ids[i] = d.Engine.StreamLastID(keys[i]).String()
		}
	}
	d.Waiter.Register(sess.Token, keys, ids, int64(blockMs), now)
	return true, Outcome{}
}

func (d *Dispatcher) handlePsync(cmd command.Command, replID string, snapshotBytes func() []byte) Outcome {
	header := protocol.Encode(protocol.Str("FULLRESYNC " + replID + " 0"))
	payload := snapshotBytes()
	framing := []byte("$" + strconv.Itoa(len(payload)) + "\r\n")
	framing = append(framing, payload...)
	return Outcome{Reply: header, BecameReplica: true, ReplicaPayload: framing}
}

// processedBytesFn is populated by the server layer via
// SetProcessedBytesSource once the handshake completes; nil means this process is a master.
var processedBytesFn func() int64

func (d *Dispatcher) processedBytes() int64 {
	if processedBytesFn == nil {
		return 0
	}
	return processedBytesFn()
}

// SetProcessedBytesSource wires the replica-side byte counter used by
// REPLCONF GETACK replies.
func SetProcessedBytesSource(f func() int64) { processedBytesFn = f }

func splitStreams(args []string) (keys, ids []string, ok bool) {
	if len(args) == 0 || strings.ToUpper(args[0]) != "STREAMS" {
		return nil, nil, false
	}
	rest := args[1:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return nil, nil, false
	}
	half := len(rest) / 2
	return rest[:half], rest[half:], true
}

func atoiOr(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
