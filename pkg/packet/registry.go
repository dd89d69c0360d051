package packet

import (
	"log/slog"
	"sync"
)

// DecodeFunc builds a detached layer over data. The layer must view data
// directly rather than a copy; its header length may not exceed len(data).
type DecodeFunc func(data []byte) (Layer, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[ProtocolType]DecodeFunc{
		GenericPayload: decodePayload,
	}
)

// RegisterLayer installs the decoder for proto, replacing any previous one.
// Protocol packages call it from init.
func RegisterLayer(proto ProtocolType, fn DecodeFunc) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[proto] = fn
}

// IsRegistered reports whether a decoder exists for proto.
func IsRegistered(proto ProtocolType) bool {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	_, ok := decoders[proto]
	return ok
}

// RegisteredProtocols returns the mask of every protocol with a decoder.
func RegisteredProtocols() ProtocolType {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	var mask ProtocolType
	for proto := range decoders {
		mask |= proto
	}
	return mask
}

// DecodeLayer decodes data as proto. Unknown protocols and data the decoder
// rejects become a PayloadLayer; empty data yields nil.
func DecodeLayer(proto ProtocolType, data []byte) Layer {
	if len(data) == 0 {
		return nil
	}
	decodersMu.RLock()
	fn, ok := decoders[proto]
	decodersMu.RUnlock()

	if ok {
		l, err := fn(data)
		if err == nil && l != nil {
			return l
		}
		slog.Debug("layer decode fell back to payload", "protocol", proto, "len", len(data), "error", err)
	}
	l, _ := decodePayload(data)
	return l
}

// decodeFirstLayer picks the first layer of a raw packet from its link type.
// Raw IP is told apart by the version nibble.
func decodeFirstLayer(linkType LinkLayerType, data []byte) Layer {
	if len(data) == 0 {
		return nil
	}
	switch linkType {
	case LinkEthernet:
		return DecodeLayer(Ethernet, data)
	case LinkLinuxSLL:
		return DecodeLayer(LinuxSLL, data)
	case LinkNull:
		return DecodeLayer(NullLoopback, data)
	case LinkRaw, LinkIPv4, LinkIPv6:
		switch data[0] >> 4 {
		case 4:
			return DecodeLayer(IPv4, data)
		case 6:
			return DecodeLayer(IPv6, data)
		}
	}
	return DecodeLayer(GenericPayload, data)
}
