// Package forward implements the match-action forwarding stage: an exact
// match table on ingress port and a longest-prefix-match table on IPv4
// destination address, both defaulting to drop.
package forward

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/gaissmai/bart"

	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/core"
)

// Table names reported in core.Decision.
const (
	TablePortFwd = "port_fwd"
	TableIPv4LPM = "ipv4_lpm"
)

// PortRule forwards every packet arriving on IngressPort to EgressPort.
type PortRule struct {
	IngressPort uint16
	EgressPort  uint16
}

// Route forwards packets whose destination falls in Prefix to Port, with
// the Ethernet destination rewritten to DstMAC.
type Route struct {
	Prefix netip.Prefix
	DstMAC [6]byte
	Port   uint16
}

type nextHop struct {
	dstMAC [6]byte
	port   uint16
}

// Forwarder holds immutable table contents. Apply is safe for concurrent
// use.
type Forwarder struct {
	ports  map[uint16]uint16
	lpm    bart.Table[nextHop]
	routes int
}

// New builds a forwarder from table entries. Later port rules for the
// same ingress port replace earlier ones, as do later routes for an equal
// prefix.
func New(rules []PortRule, routes []Route) *Forwarder {
	f := &Forwarder{ports: make(map[uint16]uint16, len(rules))}
	for _, r := range rules {
		f.ports[r.IngressPort] = r.EgressPort
	}
	for _, r := range routes {
		f.lpm.Insert(r.Prefix.Masked(), nextHop{dstMAC: r.DstMAC, port: r.Port})
	}
	f.routes = len(routes)
	return f
}

// FromConfig builds a forwarder from validated configuration.
func FromConfig(cfg config.ForwardingConfig) (*Forwarder, error) {
	rules := make([]PortRule, 0, len(cfg.PortRules))
	for _, r := range cfg.PortRules {
		rules = append(rules, PortRule{IngressPort: r.IngressPort, EgressPort: r.EgressPort})
	}

	routes := make([]Route, 0, len(cfg.Routes))
	for i, r := range cfg.Routes {
		pfx, err := netip.ParsePrefix(r.Prefix)
		if err != nil {
			return nil, fmt.Errorf("%w: route %d: %v", core.ErrConfigInvalid, i, err)
		}
		if !pfx.Addr().Is4() {
			return nil, fmt.Errorf("%w: route %d: %s is not IPv4", core.ErrConfigInvalid, i, r.Prefix)
		}
		hw, err := net.ParseMAC(r.DstMAC)
		if err != nil || len(hw) != 6 {
			return nil, fmt.Errorf("%w: route %d: bad dst_mac %q", core.ErrConfigInvalid, i, r.DstMAC)
		}
		var mac [6]byte
		copy(mac[:], hw)
		routes = append(routes, Route{Prefix: pfx, DstMAC: mac, Port: r.Port})
	}

	return New(rules, routes), nil
}

// Apply decides the fate of pkt. The port table is consulted first; on a
// miss, valid IPv4 packets go through the LPM table, whose action rewrites
// the Ethernet addresses and decrements TTL in pkt.Headers. Everything
// else is dropped.
func (f *Forwarder) Apply(pkt *core.DecodedPacket) core.Decision {
	if egress, ok := f.ports[pkt.IngressPort]; ok {
		return core.Decision{Action: core.ActionForward, EgressPort: egress, Table: TablePortFwd}
	}

	rec := &pkt.Headers
	if !rec.IPv4Valid || f.routes == 0 {
		return core.Decision{Action: core.ActionDrop}
	}

	hop, ok := f.lpm.Lookup(rec.IPv4.DstIP())
	if !ok {
		return core.Decision{Action: core.ActionDrop}
	}
	if rec.IPv4.TTL <= 1 {
		return core.Decision{Action: core.ActionDrop, Table: TableIPv4LPM}
	}

	rec.Ethernet.SrcMAC = rec.Ethernet.DstMAC
	rec.Ethernet.DstMAC = hop.dstMAC
	rec.IPv4.TTL--

	return core.Decision{Action: core.ActionForward, EgressPort: hop.port, Table: TableIPv4LPM}
}

// Size returns the number of port rules and routes.
func (f *Forwarder) Size() (ports, routes int) {
	return len(f.ports), f.routes
}
