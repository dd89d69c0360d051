package packet

import (
	"firestige.xyz/pktedit/internal/core"
	"firestige.xyz/pktedit/pkg/buffer"
)

// Errors returned by packet operations. Buffer errors pass through unchanged
// and can be matched with errors.Is against the buffer package sentinels.
var (
	ErrAllocationFailure   = buffer.ErrAllocationFailure
	ErrInvalidArgument     = buffer.ErrInvalidArgument
	ErrLayerAttached       = core.ErrLayerAttached
	ErrLayerNotInPacket    = core.ErrLayerNotInPacket
	ErrNullPacket          = core.ErrNullPacket
	ErrPacketTooShort      = core.ErrPacketTooShort
	ErrUnsupportedProto    = core.ErrUnsupportedProto
	ErrUnsupportedLinkType = core.ErrUnsupportedLinkType
)
