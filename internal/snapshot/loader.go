// Package snapshot decodes (and, for the master's own handshake replies,
// encodes) the binary snapshot image exchanged on a replica's PSYNC
// handshake and read from the configured --dir/--dbfilename at startup.
// It is a pure function over bytes: Load never touches the key-value
// engine directly, it only produces an ordered list of Records for the
// caller to replay.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

const (
	opAux        = 0xFA
	opSelectDB   = 0xFE
	opResizeDB   = 0xFB
	opExpireMs   = 0xFC
	opExpireSecs = 0xFD
	opEOF        = 0xFF

	typeString = 0
)

// Record is one decoded key with its value and, if present, its absolute
// expiration in Unix milliseconds (0 means no expiration).
type Record struct {
	Key             string
	Value           []byte
	ExpiresAtUnixMs int64
}

// ParseError reports a fatal decode failure at a given byte offset, the
// shape prescribed for SnapshotParseError.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("snapshot parse error at offset %d: %s", e.Offset, e.Reason)
}

// Loader decodes a byte stream into an ordered sequence of Records. The
// concrete RDBLoader below is the only implementation the core ships with;
// callers depend on this interface so a different on-disk format could be
// substituted without touching the connection or replication code.
type Loader interface {
	Load(r io.Reader) ([]Record, error)
}

// RDBLoader decodes the subset of the Redis RDB format described in the
// snapshot section: magic + version, auxiliary fields, one database
// section (only db 0 is kept), per-key optional expiration, and the EOF
// trailer. Checksum bytes are read but not verified.
type RDBLoader struct{}

func (RDBLoader) Load(r io.Reader) ([]Record, error) {
	cr := &countingReader{r: r}

	magic := make([]byte, 5)
	if _, err := io.ReadFull(cr, magic); err != nil {
		return nil, parseErr(cr, "reading magic string")
	}
	if string(magic) != "REDIS" {
		return nil, parseErr(cr, "bad magic string")
	}
	version := make([]byte, 4)
	if _, err := io.ReadFull(cr, version); err != nil {
		return nil, parseErr(cr, "reading version")
	}

	var records []Record
	var currentDB int
	var pendingExpire int64

	for {
		op, err := readByte(cr)
		if err != nil {
			return nil, parseErr(cr, "reading opcode")
		}

		switch op {
		case opAux:
			if _, _, err := readString(cr); err != nil {
				return nil, parseErr(cr, "reading aux key")
			}
			if _, _, err := readString(cr); err != nil {
				return nil, parseErr(cr, "reading aux value")
			}

		case opSelectDB:
			n, _, err := readLength(cr)
			if err != nil {
				return nil, parseErr(cr, "reading db number")
			}
			currentDB = int(n)

		case opResizeDB:
			if _, _, err := readLength(cr); err != nil {
				return nil, parseErr(cr, "reading hash table size")
			}
			if _, _, err := readLength(cr); err != nil {
				return nil, parseErr(cr, "reading expire hash table size")
			}

		case opExpireMs:
			var ms uint64
			if err := binary.Read(cr, binary.LittleEndian, &ms); err != nil {
				return nil, parseErr(cr, "reading ms expiration")
			}
			pendingExpire = int64(ms)

		case opExpireSecs:
			var secs uint32
			if err := binary.Read(cr, binary.LittleEndian, &secs); err != nil {
				return nil, parseErr(cr, "reading seconds expiration")
			}
			pendingExpire = int64(secs) * 1000

		case opEOF:
			checksum := make([]byte, 8)
			_, _ = io.ReadFull(cr, checksum) // not verified, per spec
			return records, nil

		default:
			// op is a value-type code; 0 is string, everything else is
			// reserved and unsupported by this core.
			key, _, err := readString(cr)
			if err != nil {
				return nil, parseErr(cr, "reading key")
			}
			if op != typeString {
				return nil, parseErr(cr, fmt.Sprintf("unsupported value type code %d", op))
			}
			value, _, err := readString(cr)
			if err != nil {
				return nil, parseErr(cr, "reading value")
			}

			expire := pendingExpire
			pendingExpire = 0

			if currentDB != 0 {
				continue // core only consumes db 0
			}
			if expire != 0 && expire <= time.Now().UnixMilli() {
				continue // expired keys are dropped at load time
			}
			records = append(records, Record{Key: key, Value: value, ExpiresAtUnixMs: expire})
		}
	}
}

func parseErr(cr *countingReader, reason string) error {
	return errors.WithStack(&ParseError{Offset: cr.n, Reason: reason})
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// readLength decodes the plain (non integer-as-string) variable-length
// integer encoding: the top two bits of the first byte select 6-bit,
// 14-bit, or 32-bit lengths. Used by opcodes that are never followed by
// an integer-encoded string (db number, resize-db hints).
func readLength(r io.Reader) (uint32, bool, error) {
	first, err := readByte(r)
	if err != nil {
		return 0, false, err
	}
	return decodeLength(r, first)
}

func decodeLength(r io.Reader, first byte) (uint32, bool, error) {
	switch (first & 0xC0) >> 6 {
	case 0:
		return uint32(first & 0x3F), false, nil
	case 1:
		second, err := readByte(r)
		if err != nil {
			return 0, false, err
		}
		return uint32(first&0x3F)<<8 | uint32(second), false, nil
	case 2:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, false, err
		}
		return binary.BigEndian.Uint32(buf), false, nil
	default:
		return 0, true, nil // "11": integer-as-string, see readString
	}
}

// readString decodes one string-encoded field: a length (or, for the
// "11" prefix, an integer stored as its decimal string form) followed by
// that many raw bytes.
func readString(r io.Reader) (string, int, error) {
	first, err := readByte(r)
	if err != nil {
		return "", 0, err
	}

	if (first&0xC0)>>6 == 3 {
		switch first & 0x3F {
		case 0:
			v, err := readByte(r)
			if err != nil {
				return "", 0, err
			}
			return fmt.Sprintf("%d", v), 1, nil
		case 1:
			buf := make([]byte, 2)
			if _, err := io.ReadFull(r, buf); err != nil {
				return "", 0, err
			}
			return fmt.Sprintf("%d", binary.LittleEndian.Uint16(buf)), 2, nil
		case 2:
			buf := make([]byte, 4)
			if _, err := io.ReadFull(r, buf); err != nil {
				return "", 0, err
			}
			return fmt.Sprintf("%d", binary.LittleEndian.Uint32(buf)), 4, nil
		default:
			return "", 0, fmt.Errorf("unsupported integer string sub-encoding %d", first&0x3F)
		}
	}

	length, _, err := decodeLength(r, first)
	if err != nil {
		return "", 0, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", 0, err
	}
	return string(data), int(length), nil
}
