// Package session owns the per-connection protocol state the event loop
// needs once a connection is past any handshake: the transaction queue a
// client may open with MULTI, and the buffering a partial RESP frame
// needs across two socket reads. The replica-side handshake
// (BeforePing/REPLCONF/PSYNC/snapshot body) runs to completion before a
// connection is ever handed to this package - see replication.Handshake -
// so there is no connection-state-machine enum here for it to drive.
package session

import "respcore/internal/command"

// Transaction is the queue MULTI opens on a connection. Its presence on a
// Session (non-nil) is what "a TransactionQueue exists for this
// connection" means in the per-frame algorithm.
type Transaction struct {
	Queued []command.Command
}

// Session is the per-connection record the event loop keeps keyed by
// token: socket handle lives in the caller (eventloop owns the fd/conn),
// this just holds protocol-level state.
type Session struct {
	Token int
	Buf   []byte // bytes read but not yet decoded into a frame
	Txn   *Transaction
	// IsReplica is true only on the one connection this process opens to
	// its own master when started with --replicaof; it governs the
	// apply-silently-except-GETACK behavior in the dispatcher.
	IsReplica bool
}

func New(token int) *Session {
	return &Session{Token: token}
}

// Feed appends freshly read bytes to the connection's buffer.
func (s *Session) Feed(b []byte) {
	s.Buf = append(s.Buf, b...)
}

// Consume drops the first n bytes of the buffer, called after the codec
// reports how much of it a decoded frame consumed.
func (s *Session) Consume(n int) {
	s.Buf = s.Buf[n:]
}

func (s *Session) BeginTransaction() {
	s.Txn = &Transaction{}
}

func (s *Session) EndTransaction() {
	s.Txn = nil
}
