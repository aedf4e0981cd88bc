// Package command turns a decoded RESP array into a typed Command and
// executes the closed set the core understands against the key-value
// engine. MULTI/EXEC/DISCARD/WAIT and blocking XREAD are intercepted one
// layer up, in the connection state machine, because they need
// connection- and server-wide state the interpreter does not carry.
package command

import (
	"strings"

	"respcore/internal/protocol"

	"github.com/pkg/errors"
)

// ErrInvalidCommand carries the arity-failure text. Nothing in this
// package returns it: the interpreter answers arity failures with a
// SimpleError reply (arityErr), and Parse reports non-bulk elements as
// protocol.ErrProtocol.
var ErrInvalidCommand = errors.New("ERR wrong number of arguments")

// Command is a parsed RESP array: a case-insensitively matched name plus
// its remaining arguments. raw, when set, is the exact array Parse saw -
// kept around so a write can be forwarded to replicas byte-identical to
// what the client actually sent, case included, rather than reassembled
// from the case-normalized Name.
type Command struct {
	Name string // upper-cased
	Args []string
	raw  *protocol.Value
}

// Parse maps a decoded RESP Array of BulkStrings onto a Command. Arrays
// containing anything else, or a non-Array value, are a protocol error.
func Parse(v protocol.Value) (Command, error) {
	if v.Kind != protocol.Array || len(v.Items) == 0 {
		return Command{}, errors.Wrap(protocol.ErrProtocol, "command must be a non-empty array")
	}
	args := make([]string, len(v.Items))
	for i, item := range v.Items {
		if item.Kind != protocol.BulkString {
			return Command{}, errors.Wrap(protocol.ErrProtocol, "command elements must be bulk strings")
		}
		args[i] = string(item.Bulk)
	}
	return Command{Name: strings.ToUpper(args[0]), Args: args[1:], raw: &v}, nil
}

// ToValue returns the RESP array this Command forwards to replicas as: the
// exact array Parse decoded, if there is one, so "set k v" forwards as
// "set k v" rather than the normalized "SET k v" the interpreter dispatches
// on. A Command built directly (tests, the interpreter's own internal
// commands) has no raw array to fall back to, so it's reassembled from
// Name/Args instead.
func (c Command) ToValue() protocol.Value {
	if c.raw != nil {
		return *c.raw
	}
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	parts = append(parts, c.Args...)
	return protocol.BulkStrings(parts...)
}

// ShouldForward reports whether this command must be propagated to
// replicas verbatim. Only SET is forwarded - see the Open Questions
// entry in DESIGN.md about whether INCR/XADD should join it.
func (c Command) ShouldForward() bool {
	return c.Name == "SET"
}
