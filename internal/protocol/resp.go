// Package protocol implements the RESP (REdis Serialization Protocol) wire
// codec: a tagged-variant value type plus a buffer-oriented decoder suited to
// a non-blocking event loop (it never blocks on a reader, only ever
// inspects the bytes it has already been handed).
package protocol

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	SimpleString Kind = iota
	SimpleError
	Integer
	BulkString
	NullBulkString
	Array
)

// Value is a RESP value: parser output and serializer input alike. Arrays
// may nest arrays, mirroring the grammar in the wire protocol.
type Value struct {
	Kind  Kind
	Str   string  // SimpleString, SimpleError
	Int   int64   // Integer
	Bulk  []byte  // BulkString
	Items []Value // Array
}

func Str(s string) Value       { return Value{Kind: SimpleString, Str: s} }
func Err(s string) Value       { return Value{Kind: SimpleError, Str: s} }
func Int64(i int64) Value      { return Value{Kind: Integer, Int: i} }
func Bulk(b []byte) Value      { return Value{Kind: BulkString, Bulk: b} }
func BulkStr(s string) Value   { return Value{Kind: BulkString, Bulk: []byte(s)} }
func NullBulk() Value          { return Value{Kind: NullBulkString} }
func Arr(items ...Value) Value { return Value{Kind: Array, Items: items} }

// BulkStrings builds an Array of BulkStrings from plain strings, the shape
// every RESP command takes on the wire.
func BulkStrings(parts ...string) Value {
	items := make([]Value, len(parts))
	for i, p := range parts {
		items[i] = BulkStr(p)
	}
	return Arr(items...)
}

// ErrProtocol is returned for malformed framing; ErrNeedMore signals the
// buffer holds a prefix of a value and the caller should read more bytes
// before decoding again.
var (
	ErrProtocol = errors.New("ERR protocol error")
	ErrNeedMore = errors.New("need more data")
)

// Decode reads one Value from the front of buf and returns it along with
// the number of bytes consumed. On a truncated-but-well-formed prefix it
// returns ErrNeedMore and never consumes partial input; on malformed
// framing it returns ErrProtocol, also without partial consumption.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, ErrNeedMore
	}

	switch buf[0] {
	case '+':
		return decodeLine(buf, SimpleString)
	case '-':
		return decodeLine(buf, SimpleError)
	case ':':
		return decodeInteger(buf)
	case '$':
		return decodeBulkString(buf)
	case '*':
		return decodeArray(buf)
	default:
		return Value{}, 0, errors.Wrapf(ErrProtocol, "unexpected leading byte %q", buf[0])
	}
}

// findCRLF returns the index of the first "\r\n" in buf, or -1.
func findCRLF(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func decodeLine(buf []byte, kind Kind) (Value, int, error) {
	idx := findCRLF(buf)
	if idx == -1 {
		return Value{}, 0, ErrNeedMore
	}
	return Value{Kind: kind, Str: string(buf[1:idx])}, idx + 2, nil
}

func decodeInteger(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx == -1 {
		return Value{}, 0, ErrNeedMore
	}
	n, err := strconv.ParseInt(string(buf[1:idx]), 10, 64)
	if err != nil {
		return Value{}, 0, errors.Wrap(ErrProtocol, "invalid integer")
	}
	return Value{Kind: Integer, Int: n}, idx + 2, nil
}

func decodeBulkString(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx == -1 {
		return Value{}, 0, ErrNeedMore
	}
	length, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil {
		return Value{}, 0, errors.Wrap(ErrProtocol, "invalid bulk length")
	}
	if length < 0 {
		return Value{Kind: NullBulkString}, idx + 2, nil
	}
	start := idx + 2
	end := start + length
	if len(buf) < end+2 {
		return Value{}, 0, ErrNeedMore
	}
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return Value{}, 0, errors.Wrap(ErrProtocol, "bulk string missing trailing CRLF")
	}
	data := make([]byte, length)
	copy(data, buf[start:end])
	return Value{Kind: BulkString, Bulk: data}, end + 2, nil
}

func decodeArray(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx == -1 {
		return Value{}, 0, ErrNeedMore
	}
	count, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil {
		return Value{}, 0, errors.Wrap(ErrProtocol, "invalid array length")
	}
	pos := idx + 2
	if count < 0 {
		return Value{Kind: NullBulkString}, pos, nil
	}
	items := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		v, n, err := Decode(buf[pos:])
		if err != nil {
			return Value{}, 0, err
		}
		items = append(items, v)
		pos += n
	}
	return Value{Kind: Array, Items: items}, pos, nil
}

// RDBHeader parses a bare bulk-string length header "$<len>\r\n" used once,
// directly after FULLRESYNC, to frame the snapshot payload. It deliberately
// does not expect or consume a trailing CRLF after the payload - the caller
// reads exactly the returned length of raw bytes next.
func RDBHeader(buf []byte) (length int, headerLen int, err error) {
	if len(buf) == 0 || buf[0] != '$' {
		return 0, 0, ErrNeedMore
	}
	idx := findCRLF(buf)
	if idx == -1 {
		return 0, 0, ErrNeedMore
	}
	n, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil || n < 0 {
		return 0, 0, errors.Wrap(ErrProtocol, "invalid RDB payload length")
	}
	return n, idx + 2, nil
}

// Encode serializes v per the RESP grammar. decode(encode(v)) reproduces v
// and consumes exactly len(encode(v)) bytes for every well-formed v.
func Encode(v Value) []byte {
	switch v.Kind {
	case SimpleString:
		return []byte(fmt.Sprintf("+%s\r\n", v.Str))
	case SimpleError:
		return []byte(fmt.Sprintf("-%s\r\n", v.Str))
	case Integer:
		return []byte(fmt.Sprintf(":%d\r\n", v.Int))
	case BulkString:
		return encodeBulk(v.Bulk)
	case NullBulkString:
		return []byte("$-1\r\n")
	case Array:
		out := []byte(fmt.Sprintf("*%d\r\n", len(v.Items)))
		for _, item := range v.Items {
			out = append(out, Encode(item)...)
		}
		return out
	default:
		return nil
	}
}

func encodeBulk(b []byte) []byte {
	out := make([]byte, 0, len(b)+16)
	out = append(out, []byte(fmt.Sprintf("$%d\r\n", len(b)))...)
	out = append(out, b...)
	out = append(out, '\r', '\n')
	return out
}

// EncodeNilArray encodes the RESP null array "*-1\r\n". A blocking XREAD
// that times out replies with a null bulk string instead, not with this.
func EncodeNilArray() []byte {
	return []byte("*-1\r\n")
}

// RawArray wraps a slice of already-encoded RESP frames as a single array
// frame, without re-parsing them. EXEC does not use it: it encodes an Arr
// of the per-command reply values.
func RawArray(frames [][]byte) []byte {
	total := len(fmt.Sprintf("*%d\r\n", len(frames)))
	for _, f := range frames {
		total += len(f)
	}
	out := make([]byte, 0, total)
	out = append(out, []byte(fmt.Sprintf("*%d\r\n", len(frames)))...)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
