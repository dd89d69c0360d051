package layers

import (
	"fmt"

	"firestige.xyz/pktedit/pkg/packet"
	"github.com/google/gopacket/layers"
)

// ICMPv4Layer is the 8-byte ICMP header. The message body is payload.
type ICMPv4Layer struct {
	packet.LayerBase
}

// NewICMPv4Layer builds a detached ICMP header from h.
func NewICMPv4Layer(h *layers.ICMPv4) (*ICMPv4Layer, error) {
	return newDetached(h, decodeICMPv4)
}

func decodeICMPv4(data []byte) (*ICMPv4Layer, error) {
	n, err := decodeHeader("icmpv4", &layers.ICMPv4{}, data)
	if err != nil {
		return nil, err
	}
	l := &ICMPv4Layer{}
	l.Init(data, n, packet.ICMPv4, packet.OsiNetwork)
	return l, nil
}

func (l *ICMPv4Layer) Decoded() (*layers.ICMPv4, error) {
	icmp := &layers.ICMPv4{}
	if _, err := decodeHeader("icmpv4", icmp, l.Data()); err != nil {
		return nil, err
	}
	return icmp, nil
}

func (l *ICMPv4Layer) ParseNextLayer() packet.Layer {
	return packet.DecodeLayer(packet.GenericPayload, l.LayerPayload())
}

// ComputeCalculatedFields recomputes the checksum over header and body.
func (l *ICMPv4Layer) ComputeCalculatedFields() {
	icmp, err := l.Decoded()
	if err != nil {
		return
	}
	rewriteHeader(l.Header(), l.LayerPayload(), icmp, fixAll)
}

func (l *ICMPv4Layer) String() string {
	icmp, err := l.Decoded()
	if err != nil {
		return "ICMP Layer, malformed"
	}
	return fmt.Sprintf("ICMP Layer, %s, Id: %d, Seq: %d", icmp.TypeCode, icmp.Id, icmp.Seq)
}

// ICMPv6Layer is the 4-byte ICMPv6 header. The message body is payload.
type ICMPv6Layer struct {
	packet.LayerBase
}

func decodeICMPv6(data []byte) (*ICMPv6Layer, error) {
	n, err := decodeHeader("icmpv6", &layers.ICMPv6{}, data)
	if err != nil {
		return nil, err
	}
	l := &ICMPv6Layer{}
	l.Init(data, n, packet.ICMPv6, packet.OsiNetwork)
	return l, nil
}

func (l *ICMPv6Layer) Decoded() (*layers.ICMPv6, error) {
	icmp := &layers.ICMPv6{}
	if _, err := decodeHeader("icmpv6", icmp, l.Data()); err != nil {
		return nil, err
	}
	return icmp, nil
}

func (l *ICMPv6Layer) ParseNextLayer() packet.Layer {
	return packet.DecodeLayer(packet.GenericPayload, l.LayerPayload())
}

// ComputeCalculatedFields recomputes the checksum against the closest IPv6
// header before it.
func (l *ICMPv6Layer) ComputeCalculatedFields() {
	icmp, err := l.Decoded()
	if err != nil {
		return
	}
	opts := checksumOptions(l, icmp)
	if !opts.ComputeChecksums {
		return
	}
	rewriteHeader(l.Header(), l.LayerPayload(), icmp, opts)
}

func (l *ICMPv6Layer) String() string {
	icmp, err := l.Decoded()
	if err != nil {
		return "ICMPv6 Layer, malformed"
	}
	return fmt.Sprintf("ICMPv6 Layer, %s", icmp.TypeCode)
}
