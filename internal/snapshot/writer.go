package snapshot

import (
	"bytes"
	"encoding/binary"
	"hash/crc64"
	"io"
)

// Encode serializes records into the same format RDBLoader decodes: magic,
// version, a single db-0 selector/resize section, each key (plain-length
// string encoding only - the writer never needs the integer-as-string
// shortcut), the EOF opcode, and a CRC64 trailer.
func Encode(records []Record) []byte {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")

	hasher := crc64.New(crc64.MakeTable(crc64.ECMA))
	w := io.MultiWriter(&buf, hasher)

	w.Write([]byte{opSelectDB, 0})
	w.Write([]byte{opResizeDB})
	writeLength(w, len(records))
	writeLength(w, 0)

	for _, rec := range records {
		if rec.ExpiresAtUnixMs > 0 {
			w.Write([]byte{opExpireMs})
			var tsBuf [8]byte
			binary.LittleEndian.PutUint64(tsBuf[:], uint64(rec.ExpiresAtUnixMs))
			w.Write(tsBuf[:])
		}
		w.Write([]byte{typeString})
		writeString(w, rec.Key)
		writeString(w, string(rec.Value))
	}

	w.Write([]byte{opEOF})

	checksum := hasher.Sum64()
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], checksum)
	buf.Write(sumBuf[:])

	return buf.Bytes()
}

func writeLength(w io.Writer, n int) {
	switch {
	case n < 1<<6:
		w.Write([]byte{byte(n)})
	case n < 1<<14:
		w.Write([]byte{0x40 | byte(n>>8), byte(n)})
	default:
		var b [5]byte
		b[0] = 0x80
		binary.BigEndian.PutUint32(b[1:], uint32(n))
		w.Write(b[:])
	}
}

func writeString(w io.Writer, s string) {
	writeLength(w, len(s))
	w.Write([]byte(s))
}
