package pipeline

import (
	"firestige.xyz/flowcache/internal/core/decoder"
	"firestige.xyz/flowcache/internal/flowcache"
	"firestige.xyz/flowcache/internal/sink"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithID sets the pipeline ID.
func (b *Builder) WithID(id int) *Builder {
	b.config.ID = id
	return b
}

// WithDecoder sets the packet decoder.
func (b *Builder) WithDecoder(d decoder.Decoder) *Builder {
	b.config.Decoder = d
	return b
}

// WithCache sets the shared flow cache.
func (b *Builder) WithCache(c *flowcache.Controller) *Builder {
	b.config.Cache = c
	return b
}

// WithForwarder sets the forwarding stage.
func (b *Builder) WithForwarder(f Forwarder) *Builder {
	b.config.Forwarder = f
	return b
}

// WithSink sets the egress sink.
func (b *Builder) WithSink(s sink.Sink) *Builder {
	b.config.Sink = s
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.config)
}
