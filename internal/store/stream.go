package store

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a stream entry identifier: a millisecond timestamp paired with a
// sequence number, totally ordered lexicographically on (timestamp, seq).
type ID struct {
	Ms  uint64
	Seq uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

// Less reports whether id sorts strictly before other.
func (id ID) Less(other ID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

func (id ID) Equal(other ID) bool { return id.Ms == other.Ms && id.Seq == other.Seq }

func (id ID) isZero() bool { return id.Ms == 0 && id.Seq == 0 }

var minID = ID{0, 0}
var maxID = ID{^uint64(0), ^uint64(0)}

// Field is a single field/value pair; entries keep them in insertion order
// so XRANGE/XREAD responses reproduce the order fields were appended with.
type Field struct {
	Name  string
	Value string
}

// Entry is one appended record in a Log.
type Entry struct {
	ID     ID
	Fields []Field
}

// Log is an append-only sequence of stream Entries with monotonically
// increasing IDs, grounded on the resolve/append/range shape of a classic
// single-writer stream structure.
type Log struct {
	entries []Entry
}

// NewLog returns an empty stream log.
func NewLog() *Log { return &Log{} }

// LastID returns the most recently appended ID, or the zero ID if the log
// is empty.
func (l *Log) LastID() ID {
	if len(l.entries) == 0 {
		return minID
	}
	return l.entries[len(l.entries)-1].ID
}

// ResolveID turns an ID spec ("*", "<ts>-*", "<ts>-<seq>", "<ts>", "-", "+")
// into a concrete ID. now is the caller's wall-clock reading in ms, used
// only by the "*" append-time spec.
func (l *Log) ResolveID(spec string, nowMs uint64) (ID, error) {
	switch spec {
	case "*":
		last := l.LastID()
		ts := nowMs
		if ts < last.Ms {
			ts = last.Ms
		}
		seq := uint64(0)
		if ts == last.Ms {
			seq = last.Seq + 1
		}
		return ID{ts, seq}, nil
	case "-":
		return minID, nil
	case "+":
		return maxID, nil
	}

	tsPart, seqPart, hasSeq := strings.Cut(spec, "-")
	ts, err := strconv.ParseUint(tsPart, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	if !hasSeq {
		return ID{ts, 0}, nil
	}
	if seqPart == "*" {
		last := l.LastID()
		switch {
		case ts == last.Ms:
			return ID{ts, last.Seq + 1}, nil
		case ts == 0:
			return ID{ts, 1}, nil
		default:
			return ID{ts, 0}, nil
		}
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return ID{ts, seq}, nil
}

// Append resolves idSpec against the current tail and, if it is strictly
// greater, appends a new entry carrying fields.
func (l *Log) Append(fields []Field, idSpec string, nowMs uint64) (ID, error) {
	id, err := l.ResolveID(idSpec, nowMs)
	if err != nil {
		return ID{}, err
	}
	if id.isZero() {
		return ID{}, ErrStreamIDMustBeNonZero
	}
	if !l.LastID().Less(id) {
		return ID{}, ErrStreamIDMustBeGreater
	}
	l.entries = append(l.entries, Entry{ID: id, Fields: append([]Field(nil), fields...)})
	return id, nil
}

// Range returns every entry with start <= id <= end, both ends resolved
// through ResolveID so "-" and "+" work as open bounds.
func (l *Log) Range(startSpec, endSpec string) ([]Entry, error) {
	start, err := l.ResolveID(startSpec, 0)
	if err != nil {
		return nil, err
	}
	end, err := l.ResolveID(endSpec, 0)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range l.entries {
		if (e.ID.Equal(start) || start.Less(e.ID)) && (e.ID.Equal(end) || e.ID.Less(end)) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Tail returns every entry strictly greater than the resolved start spec -
// the shape XREAD needs, as opposed to XRANGE's inclusive start.
func (l *Log) Tail(startSpec string) ([]Entry, error) {
	start, err := l.ResolveID(startSpec, 0)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range l.entries {
		if start.Less(e.ID) {
			out = append(out, e)
		}
	}
	return out, nil
}
