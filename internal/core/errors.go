// Package core defines sentinel errors.
package core

import "errors"

var (
	// Pipeline errors
	ErrPipelineStopped = errors.New("flowcache: pipeline stopped")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("flowcache: packet too short")
	ErrUnsupportedProto = errors.New("flowcache: unsupported protocol")

	// Flow table errors
	ErrSlotOutOfRange = errors.New("flowcache: slot index out of range")

	// Egress errors
	ErrSinkClosed = errors.New("flowcache: sink closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("flowcache: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("flowcache: daemon not running")
)
