// Package sink receives forwarded frames on their egress port.
package sink

import (
	"fmt"
	"time"

	"firestige.xyz/flowcache/internal/config"
	"firestige.xyz/flowcache/internal/core"
)

// Sink accepts deparsed frames. Send must be safe for concurrent use and
// must not retain frame after returning.
type Sink interface {
	Send(port uint16, frame []byte, ts time.Time) error
	Close() error
}

// New creates the sink selected by cfg.
func New(cfg config.EgressConfig) (Sink, error) {
	switch cfg.Type {
	case config.EgressTypeDiscard, "":
		return NewDiscard(), nil
	case config.EgressTypePcap:
		return NewPcap(cfg.Dir, cfg.SnapLen)
	default:
		return nil, fmt.Errorf("%w: unsupported egress type %q", core.ErrConfigInvalid, cfg.Type)
	}
}
