package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"respcore/internal/protocol"
	"respcore/internal/store"
)

// Info carries the replication-facing facts INFO/CONFIG GET expose. The
// server layer fills it in once at startup (role from --replicaof) and
// nothing mutates it afterwards; ReplOffset keeps its startup value. It is
// only read here.
type Info struct {
	Role            string // "master" or "slave"
	ReplID          string
	ReplOffset      int64
	Dir             string
	DBFilename      string
	ProcessedBytes  func() int64 // not set by the server; GETACK replies use session.SetProcessedBytesSource
}

// Interpreter executes the non-control subset of the closed command set
// against a single Engine. MULTI/EXEC/DISCARD/WAIT and blocking XREAD are
// intercepted by the connection state machine before reaching Execute -
// see its per-frame algorithm.
type Interpreter struct {
	Engine *store.Engine
	Info   *Info
}

func New(engine *store.Engine, info *Info) *Interpreter {
	return &Interpreter{Engine: engine, Info: info}
}

// Execute dispatches cmd and returns its RESP reply. Commands the
// connection state machine intercepts (MULTI, EXEC, DISCARD, WAIT and
// PSYNC) are not handled here; calling Execute with one of them returns
// the unknown-command error reply. An XREAD carrying a BLOCK clause is
// answered here as a non-blocking read.
func (in *Interpreter) Execute(cmd Command) protocol.Value {
	switch cmd.Name {
	case "PING":
		return in.ping(cmd)
	case "ECHO":
		return in.echo(cmd)
	case "SET":
		return in.set(cmd)
	case "GET":
		return in.get(cmd)
	case "INCR":
		return in.incr(cmd)
	case "INFO":
		return in.info(cmd)
	case "REPLCONF":
		return in.replconf(cmd)
	case "CONFIG":
		return in.config(cmd)
	case "KEYS":
		return in.keys(cmd)
	case "TYPE":
		return in.typeOf(cmd)
	case "XADD":
		return in.xadd(cmd)
	case "XRANGE":
		return in.xrange(cmd)
	case "XREAD":
		return in.xread(cmd)
	default:
		return protocol.Err(fmt.Sprintf("ERR unknown command '%s'", cmd.Name))
	}
}

func arityErr() protocol.Value {
	return protocol.Err("ERR wrong number of arguments")
}

func (in *Interpreter) ping(cmd Command) protocol.Value {
	if len(cmd.Args) != 0 {
		return arityErr()
	}
	return protocol.Str("PONG")
}

func (in *Interpreter) echo(cmd Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return arityErr()
	}
	return protocol.BulkStr(cmd.Args[0])
}

func (in *Interpreter) set(cmd Command) protocol.Value {
	if len(cmd.Args) != 2 && len(cmd.Args) != 4 {
		return arityErr()
	}
	key, value := cmd.Args[0], cmd.Args[1]
	var ttl *time.Duration
	if len(cmd.Args) == 4 {
		if strings.ToUpper(cmd.Args[2]) != "PX" {
			return protocol.Err("ERR syntax error")
		}
		ms, err := strconv.ParseInt(cmd.Args[3], 10, 64)
		if err != nil {
			return protocol.Err("ERR value is not an integer or out of range")
		}
		d := time.Duration(ms) * time.Millisecond
		ttl = &d
	}
	in.Engine.Set(key, []byte(value), ttl)
	return protocol.Str("OK")
}

func (in *Interpreter) get(cmd Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return arityErr()
	}
	v, ok, err := in.Engine.Get(cmd.Args[0])
	if err != nil {
		return wrongTypeOrErr(err)
	}
	if !ok {
		return protocol.NullBulk()
	}
	return protocol.Bulk(v)
}

func (in *Interpreter) incr(cmd Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return arityErr()
	}
	n, err := in.Engine.Incr(cmd.Args[0])
	if err != nil {
		return wrongTypeOrErr(err)
	}
	return protocol.Int64(n)
}

func (in *Interpreter) info(cmd Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return arityErr()
	}
	if strings.ToLower(cmd.Args[0]) != "replication" {
		return protocol.BulkStr("")
	}
	body := fmt.Sprintf("role:%s\r\nmaster_replid:%s\r\nmaster_repl_offset:%d\r\n",
		in.Info.Role, in.Info.ReplID, in.Info.ReplOffset)
	return protocol.BulkStr(body)
}

// replconf implements the master-side view: any REPLCONF other than
// GETACK always replies +OK. REPLCONF GETACK * addressed to a replica is
// handled one layer up (the session owns the reply since it must read
// the live processed-bytes counter at the instant before executing this
// command, per the GETACK accounting convention in DESIGN.md).
func (in *Interpreter) replconf(cmd Command) protocol.Value {
	if len(cmd.Args) < 2 {
		return arityErr()
	}
	return protocol.Str("OK")
}

func (in *Interpreter) config(cmd Command) protocol.Value {
	if len(cmd.Args) != 2 || strings.ToUpper(cmd.Args[0]) != "GET" {
		return arityErr()
	}
	name := cmd.Args[1]
	var value string
	switch name {
	case "dir":
		value = in.Info.Dir
	case "dbfilename":
		value = in.Info.DBFilename
	default:
		return protocol.Arr()
	}
	return protocol.BulkStrings(name, value)
}

func (in *Interpreter) keys(cmd Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return arityErr()
	}
	keys := in.Engine.Keys(cmd.Args[0])
	return protocol.BulkStrings(keys...)
}

func (in *Interpreter) typeOf(cmd Command) protocol.Value {
	if len(cmd.Args) != 1 {
		return arityErr()
	}
	return protocol.Str(in.Engine.TypeOf(cmd.Args[0]))
}

func (in *Interpreter) xadd(cmd Command) protocol.Value {
	if len(cmd.Args) < 4 || len(cmd.Args)%2 != 0 {
		return arityErr()
	}
	key, idSpec := cmd.Args[0], cmd.Args[1]
	fieldArgs := cmd.Args[2:]
	fields := make([]store.Field, 0, len(fieldArgs)/2)
	for i := 0; i < len(fieldArgs); i += 2 {
		fields = append(fields, store.Field{Name: fieldArgs[i], Value: fieldArgs[i+1]})
	}
	id, err := in.Engine.XAdd(key, idSpec, fields)
	if err != nil {
		return wrongTypeOrErr(err)
	}
	return protocol.BulkStr(id.String())
}

func (in *Interpreter) xrange(cmd Command) protocol.Value {
	if len(cmd.Args) != 3 {
		return arityErr()
	}
	entries, err := in.Engine.XRange(cmd.Args[0], cmd.Args[1], cmd.Args[2])
	if err != nil {
		return wrongTypeOrErr(err)
	}
	return encodeEntries(entries)
}

func (in *Interpreter) xread(cmd Command) protocol.Value {
	keys, ids, ok := parseXReadStreams(cmd.Args)
	if !ok {
		return arityErr()
	}
	items := make([]protocol.Value, 0, len(keys))
	for i, key := range keys {
		start := ids[i]
		if start == "$" {
			start = in.Engine.StreamLastID(key).String()
		}
		entries, err := in.Engine.XRead(key, start)
		if err != nil {
			return wrongTypeOrErr(err)
		}
		if len(entries) == 0 {
			continue
		}
		items = append(items, protocol.Arr(protocol.BulkStr(key), encodeEntries(entries)))
	}
	if len(items) == 0 {
		return protocol.NullBulk()
	}
	return protocol.Arr(items...)
}

// parseXReadStreams splits "[BLOCK ms] STREAMS k1 k2 id1 id2" into parallel
// key/id slices, skipping a leading BLOCK clause. The session layer parks
// every XREAD that carries BLOCK itself and never passes it to Execute, so
// in the running server this only sees the non-blocking form.
func parseXReadStreams(args []string) (keys, ids []string, ok bool) {
	i := 0
	if i < len(args) && strings.ToUpper(args[i]) == "BLOCK" {
		i += 2
	}
	if i >= len(args) || strings.ToUpper(args[i]) != "STREAMS" {
		return nil, nil, false
	}
	rest := args[i+1:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return nil, nil, false
	}
	half := len(rest) / 2
	return rest[:half], rest[half:], true
}

func encodeEntries(entries []store.Entry) protocol.Value {
	items := make([]protocol.Value, len(entries))
	for i, e := range entries {
		flat := make([]string, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			flat = append(flat, f.Name, f.Value)
		}
		items[i] = protocol.Arr(protocol.BulkStr(e.ID.String()), protocol.BulkStrings(flat...))
	}
	return protocol.Arr(items...)
}

func wrongTypeOrErr(err error) protocol.Value {
	return protocol.Err(err.Error())
}
