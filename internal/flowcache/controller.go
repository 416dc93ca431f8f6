package flowcache

import (
	"sync"
	"sync/atomic"

	"firestige.xyz/flowcache/internal/core"
)

// DefaultLockStripes is the number of slot lock stripes when none is given.
const DefaultLockStripes = 256

// Observation is the flow cache input for one packet. Timestamp is the
// ingress time in microseconds.
type Observation struct {
	Key       FlowKey
	Length    uint64
	Timestamp uint64
}

// ObservationFrom builds the observation of a decoded packet. Length is the
// IPv4 total length.
func ObservationFrom(pkt *core.DecodedPacket) Observation {
	obs := Observation{
		Key:       KeyFromHeaders(&pkt.Headers),
		Timestamp: pkt.IngressMicros(),
	}
	if pkt.Headers.IPv4Valid {
		obs.Length = uint64(pkt.Headers.IPv4.TotalLen)
	}
	return obs
}

// Result describes what Observe did.
type Result struct {
	Index    Index
	Inserted bool
	// Regressed is set when the packet was older than the slot's first
	// packet. Duration was saturated to zero.
	Regressed bool
}

// Options configures a Controller.
type Options struct {
	Capacity    int
	LockStripes int
}

// Stats is a point-in-time view of controller counters.
type Stats struct {
	Capacity    int    `json:"capacity"`
	Occupied    uint64 `json:"occupied"`
	Inserts     uint64 `json:"inserts"`
	Updates     uint64 `json:"updates"`
	Regressions uint64 `json:"regressions"`
	Packets     uint32 `json:"packets"`
}

// Controller owns the flow table and the global packet counter and applies
// the insert/update algorithm to each observation.
//
// Observe may be called from several goroutines. Every slot maps to one
// lock stripe, so the exists check and the writes that follow it are
// serialized for packets sharing a slot.
type Controller struct {
	hasher  *Hasher
	table   *Table
	counter PacketCounter
	stripes []sync.Mutex

	occupied    atomic.Uint64
	inserts     atomic.Uint64
	updates     atomic.Uint64
	regressions atomic.Uint64
}

// NewController creates a controller with an empty table.
func NewController(opts Options) (*Controller, error) {
	h, err := NewHasher(opts.Capacity)
	if err != nil {
		return nil, err
	}

	stripes := opts.LockStripes
	if stripes <= 0 {
		stripes = DefaultLockStripes
	}
	if stripes > opts.Capacity {
		stripes = opts.Capacity
	}

	return &Controller{
		hasher:  h,
		table:   newTable(opts.Capacity),
		stripes: make([]sync.Mutex, stripes),
	}, nil
}

// Hasher returns the hasher bound to this controller's table.
func (c *Controller) Hasher() *Hasher { return c.hasher }

// Capacity returns the number of table slots.
func (c *Controller) Capacity() int { return c.table.Capacity() }

func (c *Controller) lock(i Index) *sync.Mutex {
	return &c.stripes[i.v%uint32(len(c.stripes))]
}

// Observe hashes the observation's key and runs the insert or update path
// on its slot, then counts the packet. It never fails.
func (c *Controller) Observe(obs Observation) Result {
	idx := c.hasher.Index(obs.Key)
	res := Result{Index: idx}
	t := c.table

	mu := c.lock(idx)
	mu.Lock()
	if !t.exists.Read(idx) {
		t.srcAddr.Write(idx, obs.Key.SrcAddr)
		t.dstAddr.Write(idx, obs.Key.DstAddr)
		t.srcPort.Write(idx, obs.Key.SrcPort)
		t.dstPort.Write(idx, obs.Key.DstPort)
		t.firstSeen.Write(idx, obs.Timestamp)
		t.lastSeen.Write(idx, obs.Timestamp)
		t.totalSize.Write(idx, obs.Length)
		t.exists.Write(idx, true)
		res.Inserted = true
	} else {
		// Endpoints keep the values of the packet that created the slot.
		first := t.firstSeen.Read(idx)
		t.lastSeen.Write(idx, obs.Timestamp)
		if obs.Timestamp >= first {
			t.duration.Write(idx, obs.Timestamp-first)
		} else {
			t.duration.Write(idx, 0)
			res.Regressed = true
		}
		t.totalSize.Write(idx, t.totalSize.Read(idx)+obs.Length)
	}
	mu.Unlock()

	c.counter.Increment()
	if res.Inserted {
		c.occupied.Add(1)
		c.inserts.Add(1)
	} else {
		c.updates.Add(1)
	}
	if res.Regressed {
		c.regressions.Add(1)
	}
	return res
}

// Slot returns a copy of one slot.
func (c *Controller) Slot(slot int) (Record, error) {
	idx, err := c.table.IndexOf(slot)
	if err != nil {
		return Record{}, err
	}
	return c.read(idx), nil
}

func (c *Controller) read(idx Index) Record {
	mu := c.lock(idx)
	mu.Lock()
	defer mu.Unlock()
	return c.table.record(idx)
}

// Range calls fn for every occupied slot in index order until fn returns
// false. Each record is consistent on its own; the walk as a whole is not
// a snapshot.
func (c *Controller) Range(fn func(Record) bool) {
	c.rangeFrom(0, fn)
}

func (c *Controller) rangeFrom(start int, fn func(Record) bool) {
	for slot := max(start, 0); slot < c.table.Capacity(); slot++ {
		rec := c.read(Index{v: uint32(slot)})
		if !rec.Exists {
			continue
		}
		if !fn(rec) {
			return
		}
	}
}

// Records returns up to limit occupied slots starting at slot offset.
// A limit of zero or less means no limit.
func (c *Controller) Records(offset, limit int) []Record {
	var out []Record
	c.rangeFrom(offset, func(r Record) bool {
		out = append(out, r)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// PacketCount returns the global packet counter.
func (c *Controller) PacketCount() uint32 { return c.counter.Read() }

// Counter exposes the global packet counter.
func (c *Controller) Counter() *PacketCounter { return &c.counter }

// Regressions returns how many updates saw a timestamp older than the
// slot's first packet.
func (c *Controller) Regressions() uint64 { return c.regressions.Load() }

// Stats returns the controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Capacity:    c.table.Capacity(),
		Occupied:    c.occupied.Load(),
		Inserts:     c.inserts.Load(),
		Updates:     c.updates.Load(),
		Regressions: c.regressions.Load(),
		Packets:     c.counter.Read(),
	}
}
