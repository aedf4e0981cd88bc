// Package store implements the in-memory key-value engine: string values
// with per-key TTL and stream values backed by a monotonic-ID log. It has
// no internal locking - the event loop is single-threaded, so every
// Engine method runs to completion before the next one starts.
package store

import (
	"strconv"
	"time"
)

// Kind tags which variant a keyed Value holds.
type Kind int

const (
	KindString Kind = iota
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindStream:
		return "stream"
	default:
		return "none"
	}
}

type keyEntry struct {
	kind      Kind
	str       []byte
	stream    *Log
	expiresAt *time.Time // nil means no expiry
}

func (e *keyEntry) expired(now time.Time) bool {
	return e.expiresAt != nil && !now.Before(*e.expiresAt)
}

// Engine is the process-wide key space. Mutated only from the event loop
// goroutine - see the concurrency model in the package doc.
type Engine struct {
	data map[string]*keyEntry
}

// NewEngine returns an empty key space.
func NewEngine() *Engine {
	return &Engine{data: make(map[string]*keyEntry)}
}

// Set upserts a string value. A nil ttl clears any existing expiration;
// a non-nil ttl installs a new one regardless of what was there before.
func (e *Engine) Set(key string, value []byte, ttl *time.Duration) {
	entry := &keyEntry{kind: KindString, str: append([]byte(nil), value...)}
	if ttl != nil {
		deadline := time.Now().Add(*ttl)
		entry.expiresAt = &deadline
	}
	e.data[key] = entry
}

// Get returns the string stored at key. It lazily evicts (and reports
// absence for) a key whose deadline has passed.
func (e *Engine) Get(key string) ([]byte, bool, error) {
	entry, ok := e.lookup(key)
	if !ok {
		return nil, false, nil
	}
	if entry.kind != KindString {
		return nil, false, ErrWrongType
	}
	return entry.str, true, nil
}

// lookup fetches the raw entry, evicting it first if its deadline passed.
func (e *Engine) lookup(key string) (*keyEntry, bool) {
	entry, ok := e.data[key]
	if !ok {
		return nil, false
	}
	if entry.expired(time.Now()) {
		delete(e.data, key)
		return nil, false
	}
	return entry, true
}

// Incr parses the string at key as a signed 64-bit integer and replaces it
// with n+1 (treating an absent key as 0), keeping the stored type a
// string as real Redis does.
func (e *Engine) Incr(key string) (int64, error) {
	entry, ok := e.lookup(key)
	if ok && entry.kind != KindString {
		return 0, ErrWrongType
	}

	var current int64
	if ok {
		n, err := strconv.ParseInt(string(entry.str), 10, 64)
		if err != nil {
			return 0, ErrNotAnInteger
		}
		current = n
	}

	next := current + 1
	e.data[key] = &keyEntry{kind: KindString, str: []byte(strconv.FormatInt(next, 10))}
	return next, nil
}

// Keys returns every non-expired key matching pattern. Only the "*"
// wildcard (meaning "everything") is implemented; see the Open Questions
// in DESIGN.md for the full-glob gap.
func (e *Engine) Keys(pattern string) []string {
	now := time.Now()
	var out []string
	for key, entry := range e.data {
		if entry.expired(now) {
			delete(e.data, key)
			continue
		}
		if pattern == "*" || key == pattern {
			out = append(out, key)
		}
	}
	return out
}

// TypeOf reports the RESP TYPE name for key: "string", "stream", or "none".
func (e *Engine) TypeOf(key string) string {
	entry, ok := e.lookup(key)
	if !ok {
		return "none"
	}
	return entry.kind.String()
}

// streamFor fetches the stream at key, creating an empty one on first use,
// and rejects a key already holding a non-stream value.
func (e *Engine) streamFor(key string) (*Log, error) {
	entry, ok := e.lookup(key)
	if !ok {
		entry = &keyEntry{kind: KindStream, stream: NewLog()}
		e.data[key] = entry
		return entry.stream, nil
	}
	if entry.kind != KindStream {
		return nil, ErrWrongType
	}
	return entry.stream, nil
}

// XAdd appends fields to the stream at key under the given ID spec,
// creating the stream if the key is absent.
func (e *Engine) XAdd(key string, idSpec string, fields []Field) (ID, error) {
	log, err := e.streamFor(key)
	if err != nil {
		return ID{}, err
	}
	return log.Append(fields, idSpec, uint64(time.Now().UnixMilli()))
}

// XRange returns the inclusive range [start, end] of the stream at key.
func (e *Engine) XRange(key, start, end string) ([]Entry, error) {
	log, err := e.streamFor(key)
	if err != nil {
		return nil, err
	}
	return log.Range(start, end)
}

// XRead returns every entry in the stream at key strictly after start.
func (e *Engine) XRead(key, start string) ([]Entry, error) {
	log, err := e.streamFor(key)
	if err != nil {
		return nil, err
	}
	return log.Tail(start)
}

// StreamLastID reports the tail ID of the stream at key (zero ID if the
// key is absent or empty), used to resolve XREAD's "$" sentinel.
func (e *Engine) StreamLastID(key string) ID {
	entry, ok := e.lookup(key)
	if !ok || entry.kind != KindStream {
		return ID{}
	}
	return entry.stream.LastID()
}

// LoadSnapshotRecord installs a decoded snapshot record directly as a
// string value with an absolute Unix-ms deadline (0 means none) - used
// only while replaying a snapshot.Loader result at handshake/startup time.
func (e *Engine) LoadSnapshotRecord(key string, value []byte, expiresAtUnixMs int64) {
	entry := &keyEntry{kind: KindString, str: value}
	if expiresAtUnixMs > 0 {
		deadline := time.UnixMilli(expiresAtUnixMs)
		entry.expiresAt = &deadline
	}
	e.data[key] = entry
}

// Flush discards every key.
func (e *Engine) Flush() {
	e.data = make(map[string]*keyEntry)
}
