package replication

import (
	"time"

	"respcore/internal/protocol"
	"respcore/internal/store"
)

// pendingRead is one blocking XREAD registered by the session dispatcher.
// lastIDs holds the ids the client already has, so a later poll only
// needs to ask the engine for entries strictly after them.
type pendingRead struct {
	token    int
	keys     []string
	lastIDs  []string
	deadline time.Time
}

// StreamCoordinator tracks every connection parked on XREAD BLOCK and
// resolves it once a watched stream advances or its deadline passes.
type StreamCoordinator struct {
	engine  *store.Engine
	pending []*pendingRead
}

func NewStreamCoordinator(engine *store.Engine) *StreamCoordinator {
	return &StreamCoordinator{engine: engine}
}

// Register parks a connection on the given stream/id pairs. A blockMs of
// 0 ("block forever") is represented as a deadline 24 hours out; Poke
// shortens it to 1ms, the next tick after the moment any watched stream
// advances.
func (c *StreamCoordinator) Register(token int, keys, ids []string, blockMs int64, now time.Time) {
	deadline := now.Add(24 * time.Hour)
	if blockMs > 0 {
		deadline = now.Add(time.Duration(blockMs) * time.Millisecond)
	}
	c.pending = append(c.pending, &pendingRead{token: token, keys: keys, lastIDs: ids, deadline: deadline})
}

// Poke is called after an XADD lands on key; every pending read watching
// key that isn't already due gets its deadline pulled to 1ms out so it
// resolves on the very next tick.
func (c *StreamCoordinator) Poke(key string, now time.Time) {
	for _, p := range c.pending {
		for _, k := range p.keys {
			if k == key {
				shortened := now.Add(time.Millisecond)
				if shortened.Before(p.deadline) {
					p.deadline = shortened
				}
				break
			}
		}
	}
}

// Resolved is one XREAD that's ready to reply: either it found fresh
// entries, or its deadline passed with nothing new (Reply is a null
// bulk in that case).
type Resolved struct {
	Token int
	Reply protocol.Value
}

// Poll resolves and removes every pending read whose deadline has passed
// or that now has data, called once per event-loop tick.
func (c *StreamCoordinator) Poll(now time.Time) []Resolved {
	var resolved []Resolved
	var remaining []*pendingRead

	for _, p := range c.pending {
		items := c.collect(p)
		if len(items) > 0 {
			resolved = append(resolved, Resolved{Token: p.token, Reply: protocol.Arr(items...)})
			continue
		}
		if !now.Before(p.deadline) {
			resolved = append(resolved, Resolved{Token: p.token, Reply: protocol.NullBulk()})
			continue
		}
		remaining = append(remaining, p)
	}
	c.pending = remaining
	return resolved
}

func (c *StreamCoordinator) collect(p *pendingRead) []protocol.Value {
	var items []protocol.Value
	for i, key := range p.keys {
		entries, err := c.engine.XRead(key, p.lastIDs[i])
		if err != nil || len(entries) == 0 {
			continue
		}
		encoded := make([]protocol.Value, len(entries))
		for j, e := range entries {
			flat := make([]protocol.Value, 0, len(e.Fields)*2)
			for _, f := range e.Fields {
				flat = append(flat, protocol.BulkStr(f.Name), protocol.BulkStr(f.Value))
			}
			encoded[j] = protocol.Arr(protocol.BulkStr(e.ID.String()), protocol.Arr(flat...))
		}
		items = append(items, protocol.Arr(protocol.BulkStr(key), protocol.Arr(encoded...)))
	}
	return items
}
