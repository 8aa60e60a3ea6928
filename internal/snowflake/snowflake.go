package snowflake

import (
	"fmt"
	"sync"
	"time"
)

// Layout: 42 bits of milliseconds since the custom epoch, 10 bits of node id,
// 12 bits of per-millisecond sequence. Ids sort by creation time, which the
// outbox drain order and message pagination cursors rely on.
const (
	customEpochMs = int64(1704067200000) // 2024-01-01T00:00:00Z

	nodeIDBits   = 10
	sequenceBits = 12

	maxNodeID   = (1 << nodeIDBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	timestampShift = nodeIDBits + sequenceBits
	nodeIDShift    = sequenceBits
)

// Generator produces time-ordered unique ids, monotonic per node.
type Generator struct {
	mu            sync.Mutex
	nodeID        int64
	sequence      int64
	lastTimestamp int64
	now           func() int64
}

// NewGenerator builds a Generator for the given node id.
func NewGenerator(nodeID int) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("node id must be between 0 and %d, got %d", maxNodeID, nodeID)
	}
	return &Generator{
		nodeID:        int64(nodeID),
		lastTimestamp: -1,
		now:           func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Next returns a new id or an error when the wall clock moved backwards.
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now() - customEpochMs
	if ts < g.lastTimestamp {
		return 0, fmt.Errorf("clock moved backwards, refusing to generate id for %dms", g.lastTimestamp-ts)
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ts <= g.lastTimestamp {
				ts = g.now() - customEpochMs
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTimestamp = ts
	return ts<<timestampShift | g.nodeID<<nodeIDShift | g.sequence, nil
}

// Parse decomposes an id into its timestamp, node id and sequence.
func Parse(id int64) (ts time.Time, nodeID int, sequence int) {
	ms := id>>timestampShift + customEpochMs
	return time.UnixMilli(ms), int((id >> nodeIDShift) & maxNodeID), int(id & maxSequence)
}
