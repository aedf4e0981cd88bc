// Package eventloop drives the single-threaded readiness loop described
// in the concurrency model: one epoll instance, non-blocking sockets, a
// fixed poll timeout, and a small token space that lets the loop tell a
// replica-origin event apart from a client one without decoding it.
package eventloop

import (
	"time"

	"respcore/internal/protocol"
	"respcore/internal/replication"
	"respcore/internal/session"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	TokenListener = 0
	TokenMaster   = 1
	replicaTokenLo = 2
	replicaTokenHi = 20
	pollTimeoutMs  = 50
)

// conn is one socket the loop owns: its raw fd plus the protocol-level
// session state that lives above it.
type conn struct {
	fd      int
	sess    *session.Session
	replica bool
}

// Loop is the event loop. It owns the epoll fd, the listener, the
// token<->fd mapping, and the process-wide pieces every frame needs:
// the dispatcher, the replication controller, and the stream
// coordinator's per-tick poll.
type Loop struct {
	epfd       int
	listenerFd int

	conns map[int]*conn // token -> conn

	dispatcher *session.Dispatcher
	repl       *replication.Controller
	streams    *replication.StreamCoordinator

	replID         string
	snapshotBytes  func() []byte
	nextClientTok  int
	nextReplicaTok int

	// masterProcessedBytes counts bytes of commands consumed from our own
	// master since the handshake completed - the REPLCONF GETACK ACK
	// accounting convention fixed in DESIGN.md.
	masterProcessedBytes int64
}

// MasterProcessedBytes reports the running total of master-connection
// bytes consumed; wired as the replica's REPLCONF ACK counter.
func (l *Loop) MasterProcessedBytes() int64 {
	return l.masterProcessedBytes
}

func New(listenerFd int, dispatcher *session.Dispatcher, repl *replication.Controller, streams *replication.StreamCoordinator, replID string, snapshotBytes func() []byte) (*Loop, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		epfd:           epfd,
		listenerFd:     listenerFd,
		conns:          make(map[int]*conn),
		dispatcher:     dispatcher,
		repl:           repl,
		streams:        streams,
		replID:         replID,
		snapshotBytes:  snapshotBytes,
		nextClientTok:  replicaTokenHi,
		nextReplicaTok: replicaTokenLo,
	}
	if err := unix.SetNonblock(listenerFd, true); err != nil {
		return nil, err
	}
	if err := l.addFd(TokenListener, listenerFd); err != nil {
		return nil, err
	}
	l.conns[TokenListener] = &conn{fd: listenerFd}
	return l, nil
}

// AddMasterConn registers the blocking-handshake connection to our own
// master as TokenMaster once the handshake has completed. leftover is
// whatever the handshake already read past the snapshot body - ordinary
// RESP frames from the master that must be processed now, not discarded.
func (l *Loop) AddMasterConn(fd int, leftover []byte) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	if err := l.addFd(TokenMaster, fd); err != nil {
		return err
	}
	sess := session.New(TokenMaster)
	sess.IsReplica = true
	l.conns[TokenMaster] = &conn{fd: fd, sess: sess}
	if len(leftover) > 0 {
		sess.Feed(leftover)
		l.drainFrames(TokenMaster, l.conns[TokenMaster])
	}
	return nil
}

func (l *Loop) addFd(token, fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(token)}
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Run blocks, driving ticks until stop is closed.
func (l *Loop) Run(stop <-chan struct{}) error {
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := unix.EpollWait(l.epfd, events, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		waiting := l.repl.Wait != nil
		for i := 0; i < n; i++ {
			token := int(events[i].Fd)
			switch {
			case token == TokenListener:
				l.acceptUntilWouldBlock()
			case token == TokenMaster:
				l.driveMasterConn()
			case waiting && token < replicaTokenHi:
				l.repl.OnReplicaAck(token)
			default:
				l.handleConnection(token)
			}
		}

		l.resolvePendingWait()
		l.resolvePendingStreams()
	}
}

func (l *Loop) acceptUntilWouldBlock() {
	for {
		fd, _, err := unix.Accept(l.listenerFd)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			log.Warn().Err(err).Msg("accept failed")
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fd)
			continue
		}
		token := l.nextClientTok
		l.nextClientTok++
		if err := l.addFd(token, fd); err != nil {
			_ = unix.Close(fd)
			continue
		}
		l.conns[token] = &conn{fd: fd, sess: session.New(token)}
	}
}

// handleConnection reads whatever is ready on token's socket and runs
// every complete frame it now contains through the dispatcher.
func (l *Loop) handleConnection(token int) {
	c, ok := l.conns[token]
	if !ok {
		return
	}
	buf := make([]byte, 64*1024)
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		l.closeConn(token)
		return
	}
	if n == 0 {
		l.closeConn(token)
		return
	}
	c.sess.Feed(buf[:n])
	l.drainFrames(token, c)
}

// drainFrames runs every complete frame currently buffered on c through
// the dispatcher, stopping when the buffer holds only a partial frame.
func (l *Loop) drainFrames(token int, c *conn) {
	for {
		v, consumed, derr := protocol.Decode(c.sess.Buf)
		if derr == protocol.ErrNeedMore {
			return
		}
		if derr != nil {
			_ = writeAll(c.fd, protocol.Encode(protocol.Err("ERR protocol error")))
			l.closeConn(token)
			return
		}
		c.sess.Consume(consumed)
		if token == TokenMaster {
			l.masterProcessedBytes += int64(consumed)
		}

		out := l.dispatcher.HandleFrame(c.sess, v, time.Now(), l.snapshotBytes, l.replID)
		if len(out.Reply) > 0 {
			if err := writeAll(c.fd, out.Reply); err != nil {
				l.closeConn(token)
				return
			}
		}
		if out.BecameReplica {
			if err := writeAll(c.fd, out.ReplicaPayload); err != nil {
				l.closeConn(token)
				return
			}
			l.promoteToReplica(token, c)
		}
	}
}

// promoteToReplica re-registers a post-PSYNC connection under a replica
// token so the outer tick can distinguish its events from client events
// without decoding them.
func (l *Loop) promoteToReplica(oldToken int, c *conn) {
	if l.nextReplicaTok >= replicaTokenHi {
		log.Warn().Msg("replica token space exhausted, keeping client token")
		l.repl.AddReplica(oldToken, fdWriter{c.fd})
		c.replica = true
		return
	}
	newToken := l.nextReplicaTok
	l.nextReplicaTok++

	delete(l.conns, oldToken)
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	c.sess.Token = newToken
	// IsReplica means "this session is our connection to our own master";
	// a connection that just became one of our replicas is the opposite.
	c.sess.IsReplica = false
	c.replica = true
	l.conns[newToken] = c
	_ = l.addFd(newToken, c.fd)
	l.repl.AddReplica(newToken, fdWriter{c.fd})
}

func (l *Loop) driveMasterConn() {
	if _, ok := l.conns[TokenMaster]; !ok {
		return
	}
	l.handleConnection(TokenMaster)
}

func (l *Loop) closeConn(token int) {
	c, ok := l.conns[token]
	if !ok {
		return
	}
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	_ = unix.Close(c.fd)
	delete(l.conns, token)
	if c.replica {
		l.repl.RemoveReplica(token)
	}
}

func (l *Loop) resolvePendingWait() {
	resolved, ack, token := l.repl.PollWait(time.Now())
	if !resolved {
		return
	}
	c, ok := l.conns[token]
	if !ok {
		return
	}
	_ = writeAll(c.fd, protocol.Encode(protocol.Int64(int64(ack))))
}

func (l *Loop) resolvePendingStreams() {
	for _, r := range l.streams.Poll(time.Now()) {
		c, ok := l.conns[r.Token]
		if !ok {
			continue
		}
		_ = writeAll(c.fd, protocol.Encode(r.Reply))
	}
}

// writeAll writes the entirety of buf to fd, retrying past EAGAIN and
// short writes instead of treating a partial unix.Write as done - the
// "best-effort write_all" the concurrency model requires, and the one a
// non-blocking socket needs for a reply or a PSYNC snapshot body that can
// legitimately exceed what the kernel's send buffer accepts in one call.
func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// fdWriter adapts a raw fd to io.Writer for the replication controller,
// which only ever needs to push bytes fire-and-forget - but still wants
// every byte actually written, so it goes through writeAll rather than a
// single unix.Write.
type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) {
	if err := writeAll(w.fd, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
