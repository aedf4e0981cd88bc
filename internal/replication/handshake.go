package replication

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"respcore/internal/protocol"
	"respcore/internal/snapshot"
	"respcore/internal/store"

	"github.com/pkg/errors"
)

// Result is what a completed handshake hands back to the server so it can
// register the connection as MASTER_CONN in the event loop.
type Result struct {
	Conn net.Conn
	// Leftover holds any bytes read past the snapshot body in the same
	// socket read - these are ordinary RESP frames from the master and
	// must be processed in the same turn, not discarded.
	Leftover []byte
}

// Handshake drives the replica side of the startup sequence against
// masterAddr: PING, REPLCONF listening-port, REPLCONF capa psync2, PSYNC,
// then reads and loads the snapshot body. It runs synchronously before
// the event loop starts, since nothing else can happen on this connection
// until the snapshot is in place.
func Handshake(masterAddr string, listenPort int, engine *store.Engine, loader snapshot.Loader) (*Result, error) {
	conn, err := net.DialTimeout("tcp", masterAddr, 5*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "dialing master")
	}

	buf := make([]byte, 0, 4096)
	fill := func() error {
		chunk := make([]byte, 4096)
		n, err := conn.Read(chunk)
		if err != nil {
			return err
		}
		buf = append(buf, chunk[:n]...)
		return nil
	}
	readFrame := func() (protocol.Value, error) {
		for {
			v, n, err := protocol.Decode(buf)
			if err == nil {
				buf = buf[n:]
				return v, nil
			}
			if !errors.Is(err, protocol.ErrNeedMore) {
				return protocol.Value{}, err
			}
			if err := fill(); err != nil {
				return protocol.Value{}, err
			}
		}
	}
	send := func(v protocol.Value) error {
		_, err := conn.Write(protocol.Encode(v))
		return err
	}

	if err := send(protocol.Arr(protocol.BulkStr("PING"))); err != nil {
		return nil, errors.Wrap(err, "sending PING")
	}
	if _, err := readFrame(); err != nil {
		return nil, errors.Wrap(err, "reading PING reply")
	}

	if err := send(protocol.BulkStrings("REPLCONF", "listening-port", fmt.Sprintf("%d", listenPort))); err != nil {
		return nil, errors.Wrap(err, "sending REPLCONF listening-port")
	}
	if _, err := readFrame(); err != nil {
		return nil, errors.Wrap(err, "reading REPLCONF listening-port reply")
	}

	if err := send(protocol.BulkStrings("REPLCONF", "capa", "psync2")); err != nil {
		return nil, errors.Wrap(err, "sending REPLCONF capa")
	}
	if _, err := readFrame(); err != nil {
		return nil, errors.Wrap(err, "reading REPLCONF capa reply")
	}

	if err := send(protocol.BulkStrings("PSYNC", "?", "-1")); err != nil {
		return nil, errors.Wrap(err, "sending PSYNC")
	}
	if _, err := readFrame(); err != nil {
		return nil, errors.Wrap(err, "reading FULLRESYNC reply")
	}

	for {
		n, hdrLen, err := protocol.RDBHeader(buf)
		if err == nil {
			for len(buf) < hdrLen+n {
				if err := fill(); err != nil {
					return nil, errors.Wrap(err, "reading snapshot body")
				}
			}
			body := buf[hdrLen : hdrLen+n]
			records, lerr := loader.Load(bytes.NewReader(body))
			if lerr != nil {
				return nil, errors.Wrap(lerr, "loading snapshot")
			}
			for _, rec := range records {
				engine.LoadSnapshotRecord(rec.Key, rec.Value, rec.ExpiresAtUnixMs)
			}
			return &Result{Conn: conn, Leftover: append([]byte(nil), buf[hdrLen+n:]...)}, nil
		}
		if !errors.Is(err, protocol.ErrNeedMore) {
			return nil, errors.Wrap(err, "reading snapshot header")
		}
		if err := fill(); err != nil {
			return nil, errors.Wrap(err, "reading snapshot header")
		}
	}
}
