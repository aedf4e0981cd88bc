package server

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// fileDescriptor extracts the raw fd behind a TCP listener so the event
// loop can register it with epoll directly. tcpLn.File() duplicates the
// fd into a new *os.File, and that *os.File owns the duplicate: once it
// becomes unreachable, its finalizer closes the very fd the caller just
// read out of it, regardless of what int value was copied out of Fd().
// The caller MUST keep the returned *os.File alive (store it alongside
// the int) for as long as it uses the fd, or an unrelated GC pass can
// EBADF the listener out from under epoll.
func fileDescriptor(ln net.Listener) (int, *os.File, error) {
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return 0, nil, errUnsupportedListener
	}
	f, err := tcpLn.File()
	if err != nil {
		return 0, nil, err
	}
	return int(f.Fd()), f, nil
}

func fileDescriptorFromConn(conn net.Conn) (int, *os.File, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return 0, nil, errUnsupportedListener
	}
	f, err := tcpConn.File()
	if err != nil {
		return 0, nil, err
	}
	return int(f.Fd()), f, nil
}

var errUnsupportedListener = unix.ENOTSUP
