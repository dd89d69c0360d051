// Package core defines sentinel errors shared by every pktedit package.
package core

import "errors"

// Sentinel errors. Public packages re-export the ones their callers need so
// that errors.Is works without importing an internal package.
var (
	// Buffer errors
	ErrAllocationFailure    = errors.New("pktedit: allocation failure")
	ErrInvalidArgument      = errors.New("pktedit: invalid argument")
	ErrInsufficientCapacity = errors.New("pktedit: insufficient buffer capacity")
	ErrCapacityExceeded     = errors.New("pktedit: fixed buffer capacity exceeded")

	// Layer chain errors
	ErrLayerAttached    = errors.New("pktedit: layer already attached to a packet")
	ErrLayerNotInPacket = errors.New("pktedit: layer does not belong to this packet")
	ErrNullPacket       = errors.New("pktedit: packet has no raw packet")

	// Packet decoding errors
	ErrPacketTooShort      = errors.New("pktedit: packet too short")
	ErrUnsupportedProto    = errors.New("pktedit: unsupported protocol")
	ErrUnsupportedLinkType = errors.New("pktedit: unsupported link-layer type")

	// Configuration errors
	ErrConfigInvalid = errors.New("pktedit: invalid configuration")
)
