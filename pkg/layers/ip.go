package layers

import (
	"encoding/binary"
	"fmt"
	"net"

	"firestige.xyz/pktedit/pkg/packet"
	"github.com/google/gopacket/layers"
)

const (
	ipv4MinHeaderLen = 20
	ipv4MaxHeaderLen = 60
	ipv6HeaderLen    = 40
)

// IPv4Layer is an IPv4 header including its options.
type IPv4Layer struct {
	packet.LayerBase
}

// NewIPv4Layer builds a detached IPv4 header from h. A zero Version is
// taken as 4.
func NewIPv4Layer(h *layers.IPv4) (*IPv4Layer, error) {
	ip := *h
	if ip.Version == 0 {
		ip.Version = 4
	}
	return newDetached(&ip, decodeIPv4)
}

func decodeIPv4(data []byte) (*IPv4Layer, error) {
	n, err := decodeHeader("ipv4", &layers.IPv4{}, data)
	if err != nil {
		return nil, err
	}
	l := &IPv4Layer{}
	l.Init(data, n, packet.IPv4, packet.OsiNetwork)
	return l, nil
}

// Decoded returns the header as decoded by gopacket.
func (l *IPv4Layer) Decoded() (*layers.IPv4, error) {
	ip := &layers.IPv4{}
	if _, err := decodeHeader("ipv4", ip, l.Data()); err != nil {
		return nil, err
	}
	return ip, nil
}

// IsFragment reports whether the header belongs to a fragmented datagram.
func (l *IPv4Layer) IsFragment() bool {
	ip, err := l.Decoded()
	return err == nil && isFragment(ip)
}

func isFragment(ip *layers.IPv4) bool {
	return ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0
}

// ParseNextLayer decodes the transport header. Fragments carry a plain
// payload.
func (l *IPv4Layer) ParseNextLayer() packet.Layer {
	ip, err := l.Decoded()
	if err != nil {
		return nil
	}
	payload := l.LayerPayload()
	if isFragment(ip) {
		return packet.DecodeLayer(packet.GenericPayload, payload)
	}
	return nextByIPProtocol(ip.Protocol, payload)
}

// ComputeCalculatedFields sets the header length, total length and protocol
// fields, then recomputes the header checksum.
func (l *IPv4Layer) ComputeCalculatedFields() {
	h := l.Header()
	if len(h) < ipv4MinHeaderLen {
		return
	}
	if n := len(h); n%4 == 0 && n <= ipv4MaxHeaderLen {
		h[0] = h[0]&0xF0 | byte(n/4)
	}
	binary.BigEndian.PutUint16(h[2:4], uint16(len(l.Data())))
	if next := l.Next(); next != nil {
		if p, ok := ipProtocolOf[next.Protocol()]; ok {
			h[9] = byte(p)
		}
	}
	ip, err := l.Decoded()
	if err != nil {
		return
	}
	rewriteHeader(h, l.LayerPayload(), ip, fixAll)
}

func (l *IPv4Layer) String() string {
	h := l.Header()
	if len(h) < ipv4MinHeaderLen {
		return "IPv4 Layer, malformed"
	}
	return fmt.Sprintf("IPv4 Layer, Src: %s, Dst: %s", net.IP(h[12:16]), net.IP(h[16:20]))
}

// IPv6Layer is the fixed IPv6 header. Extension headers are left to the
// payload.
type IPv6Layer struct {
	packet.LayerBase
}

// NewIPv6Layer builds a detached IPv6 header from h. A zero Version is
// taken as 6.
func NewIPv6Layer(h *layers.IPv6) (*IPv6Layer, error) {
	ip := *h
	if ip.Version == 0 {
		ip.Version = 6
	}
	ip.HopByHop = nil
	return newDetached(&ip, decodeIPv6)
}

// decodeIPv6 reads the fixed header directly. A zero payload length, as left
// by edits until the fields are recomputed, is accepted.
func decodeIPv6(data []byte) (*IPv6Layer, error) {
	if len(data) < ipv6HeaderLen {
		return nil, fmt.Errorf("decode ipv6 header of %d bytes: %w", len(data), packet.ErrPacketTooShort)
	}
	l := &IPv6Layer{}
	l.Init(data, ipv6HeaderLen, packet.IPv6, packet.OsiNetwork)
	return l, nil
}

// Decoded returns the header as decoded by gopacket.
func (l *IPv6Layer) Decoded() (*layers.IPv6, error) {
	ip := &layers.IPv6{}
	if _, err := decodeHeader("ipv6", ip, l.Data()); err != nil {
		return nil, err
	}
	return ip, nil
}

func (l *IPv6Layer) ParseNextLayer() packet.Layer {
	h := l.Header()
	if len(h) < ipv6HeaderLen {
		return nil
	}
	return nextByIPProtocol(layers.IPProtocol(h[6]), l.LayerPayload())
}

// ComputeCalculatedFields sets the payload length and next header fields.
func (l *IPv6Layer) ComputeCalculatedFields() {
	h := l.Header()
	if len(h) < ipv6HeaderLen {
		return
	}
	binary.BigEndian.PutUint16(h[4:6], uint16(len(l.LayerPayload())))
	if next := l.Next(); next != nil {
		if p, ok := ipProtocolOf[next.Protocol()]; ok {
			h[6] = byte(p)
		}
	}
}

func (l *IPv6Layer) String() string {
	h := l.Header()
	if len(h) < ipv6HeaderLen {
		return "IPv6 Layer, malformed"
	}
	return fmt.Sprintf("IPv6 Layer, Src: %s, Dst: %s", net.IP(h[8:24]), net.IP(h[24:40]))
}
