package pipeline

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"

	"firestige.xyz/flowcache/internal/core"
	"firestige.xyz/flowcache/internal/core/decoder"
	"firestige.xyz/flowcache/internal/flowcache"
)

// Dispatch strategy names.
const (
	StrategySlotAffinity   = "slot-affinity"
	StrategyConsistentHash = "consistent-hash"
	StrategyRoundRobin     = "round-robin"
)

// DispatchStrategy determines how packets are distributed across pipelines.
type DispatchStrategy interface {
	// Dispatch returns the pipeline index (0-based) for the given packet.
	// numPipelines is guaranteed to be > 0.
	Dispatch(pkt core.RawPacket, numPipelines int) int

	// Name returns the strategy name for logging/metrics.
	Name() string
}

// flowKeyOf parses just enough of pkt to build its flow key. Frames that
// fail to parse get the zero key.
func flowKeyOf(dec decoder.Decoder, pkt core.RawPacket) flowcache.FlowKey {
	decoded, err := dec.Decode(pkt)
	if err != nil {
		return flowcache.FlowKey{}
	}
	return flowcache.KeyFromHeaders(&decoded.Headers)
}

// SlotAffinityStrategy sends every packet of a flow table slot to the same
// pipeline, so all writers of a slot live on one goroutine.
type SlotAffinityStrategy struct {
	hasher  *flowcache.Hasher
	decoder decoder.Decoder
}

// NewSlotAffinityStrategy creates a strategy keyed by hasher's slot index.
func NewSlotAffinityStrategy(hasher *flowcache.Hasher) *SlotAffinityStrategy {
	return &SlotAffinityStrategy{
		hasher:  hasher,
		decoder: decoder.NewStandardDecoder(decoder.Config{SkipChecksum: true}),
	}
}

func (s *SlotAffinityStrategy) Dispatch(pkt core.RawPacket, numPipelines int) int {
	idx := s.hasher.Index(flowKeyOf(s.decoder, pkt))
	return idx.Int() % numPipelines
}

func (s *SlotAffinityStrategy) Name() string { return StrategySlotAffinity }

// ConsistentHashStrategy places flows on a hash ring of pipelines.
// Same flow always goes to the same pipeline (flow affinity).
type ConsistentHashStrategy struct {
	decoder decoder.Decoder

	mu    sync.Mutex
	size  int
	ring  *hashring.HashRing
	nodes map[string]int
}

func NewConsistentHashStrategy() *ConsistentHashStrategy {
	return &ConsistentHashStrategy{
		decoder: decoder.NewStandardDecoder(decoder.Config{SkipChecksum: true}),
	}
}

func (s *ConsistentHashStrategy) Dispatch(pkt core.RawPacket, numPipelines int) int {
	key := flowKeyOf(s.decoder, pkt).String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ring == nil || s.size != numPipelines {
		names := make([]string, numPipelines)
		s.nodes = make(map[string]int, numPipelines)
		for i := range names {
			names[i] = "pipeline-" + strconv.Itoa(i)
			s.nodes[names[i]] = i
		}
		s.ring = hashring.New(names)
		s.size = numPipelines
	}

	node, ok := s.ring.GetNode(key)
	if !ok {
		return 0
	}
	return s.nodes[node]
}

func (s *ConsistentHashStrategy) Name() string { return StrategyConsistentHash }

// RoundRobinStrategy distributes packets in round-robin order.
// Provides even load distribution but no flow affinity.
type RoundRobinStrategy struct {
	counter atomic.Uint64
}

func (s *RoundRobinStrategy) Dispatch(_ core.RawPacket, numPipelines int) int {
	return int(s.counter.Add(1) % uint64(numPipelines))
}

func (s *RoundRobinStrategy) Name() string { return StrategyRoundRobin }

// NewDispatchStrategy creates a dispatch strategy by name.
// Supported strategies: "slot-affinity" (default), "consistent-hash",
// "round-robin".
func NewDispatchStrategy(name string, hasher *flowcache.Hasher) DispatchStrategy {
	switch name {
	case StrategyRoundRobin:
		return &RoundRobinStrategy{}
	case StrategyConsistentHash:
		return NewConsistentHashStrategy()
	default:
		return NewSlotAffinityStrategy(hasher)
	}
}
