// Package layers supplies the concrete protocol layers of a packet.
//
// Header boundaries and field access are delegated to gopacket's decoders,
// and the length and checksum fixups of ComputeCalculatedFields to its
// serializers. Importing the package registers every layer with
// packet.RegisterLayer.
package layers

import (
	"fmt"
	"log/slog"
	"net"

	"firestige.xyz/pktedit/pkg/packet"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func init() {
	register(packet.Ethernet, decodeEthernet)
	register(packet.LinuxSLL, decodeLinuxSLL)
	register(packet.NullLoopback, decodeLoopback)
	register(packet.VLAN, decodeVLAN)
	register(packet.ARP, decodeARP)
	register(packet.IPv4, decodeIPv4)
	register(packet.IPv6, decodeIPv6)
	register(packet.TCP, decodeTCP)
	register(packet.UDP, decodeUDP)
	register(packet.ICMPv4, decodeICMPv4)
	register(packet.ICMPv6, decodeICMPv6)
}

func register[L packet.Layer](proto packet.ProtocolType, decode func([]byte) (L, error)) {
	packet.RegisterLayer(proto, func(data []byte) (packet.Layer, error) {
		l, err := decode(data)
		if err != nil {
			return nil, err
		}
		return l, nil
	})
}

var (
	etherTypes = map[layers.EthernetType]packet.ProtocolType{
		layers.EthernetTypeIPv4:  packet.IPv4,
		layers.EthernetTypeIPv6:  packet.IPv6,
		layers.EthernetTypeARP:   packet.ARP,
		layers.EthernetTypeDot1Q: packet.VLAN,
		layers.EthernetTypeQinQ:  packet.VLAN,
	}
	etherTypeOf = map[packet.ProtocolType]layers.EthernetType{
		packet.IPv4: layers.EthernetTypeIPv4,
		packet.IPv6: layers.EthernetTypeIPv6,
		packet.ARP:  layers.EthernetTypeARP,
		packet.VLAN: layers.EthernetTypeDot1Q,
	}

	ipProtocols = map[layers.IPProtocol]packet.ProtocolType{
		layers.IPProtocolTCP:    packet.TCP,
		layers.IPProtocolUDP:    packet.UDP,
		layers.IPProtocolICMPv4: packet.ICMPv4,
		layers.IPProtocolICMPv6: packet.ICMPv6,
		layers.IPProtocolIPv4:   packet.IPv4,
		layers.IPProtocolIPv6:   packet.IPv6,
	}
	ipProtocolOf = map[packet.ProtocolType]layers.IPProtocol{
		packet.TCP:    layers.IPProtocolTCP,
		packet.UDP:    layers.IPProtocolUDP,
		packet.ICMPv4: layers.IPProtocolICMPv4,
		packet.ICMPv6: layers.IPProtocolICMPv6,
		packet.IPv4:   layers.IPProtocolIPv4,
		packet.IPv6:   layers.IPProtocolIPv6,
	}
)

// nextByEtherType decodes payload as the protocol an EtherType names.
func nextByEtherType(t layers.EthernetType, payload []byte) packet.Layer {
	if proto, ok := etherTypes[t]; ok {
		return packet.DecodeLayer(proto, payload)
	}
	return packet.DecodeLayer(packet.GenericPayload, payload)
}

// nextByIPProtocol decodes payload as the protocol an IP header names.
func nextByIPProtocol(p layers.IPProtocol, payload []byte) packet.Layer {
	if proto, ok := ipProtocols[p]; ok {
		return packet.DecodeLayer(proto, payload)
	}
	return packet.DecodeLayer(packet.GenericPayload, payload)
}

// nextEtherType reports the EtherType matching the layer after l.
func nextEtherType(l packet.Layer) (layers.EthernetType, bool) {
	next := l.Next()
	if next == nil {
		return 0, false
	}
	t, ok := etherTypeOf[next.Protocol()]
	return t, ok
}

type contentsLayer interface {
	gopacket.DecodingLayer
	LayerContents() []byte
}

// decodeHeader runs dl over data and returns the length of the header it
// recognized.
func decodeHeader(name string, dl contentsLayer, data []byte) (int, error) {
	if err := dl.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return 0, fmt.Errorf("decode %s header: %w", name, err)
	}
	return len(dl.LayerContents()), nil
}

var (
	fixLengths = gopacket.SerializeOptions{FixLengths: true}
	fixAll     = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
)

// rewriteHeader serializes sl in front of payload and copies the result over
// header. A header whose serialized size differs is left untouched.
func rewriteHeader(header, payload []byte, sl gopacket.SerializableLayer, opts gopacket.SerializeOptions) bool {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, opts, sl, gopacket.Payload(payload)); err != nil {
		slog.Debug("header fixup failed", "layer", sl.LayerType(), "error", err)
		return false
	}
	out := buf.Bytes()
	if n := len(out) - len(payload); n != len(header) {
		slog.Debug("header fixup skipped, size changed", "layer", sl.LayerType(), "have", len(header), "got", n)
		return false
	}
	copy(header, out)
	return true
}

// newDetached serializes sl on its own and decodes the result into a detached
// layer whose data is exactly its header.
func newDetached[L packet.Layer](sl gopacket.SerializableLayer, decode func([]byte) (L, error)) (L, error) {
	var zero L
	buf := gopacket.NewSerializeBuffer()
	if err := sl.SerializeTo(buf, fixLengths); err != nil {
		return zero, fmt.Errorf("serialize %v header: %w", sl.LayerType(), err)
	}
	data := buf.Bytes()
	l, err := decode(data)
	if err != nil {
		return zero, err
	}
	n := l.HeaderLen()
	return decode(data[:n:n])
}

type checksummer interface {
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

// checksumOptions points sl at the closest IP layer before l for its
// pseudo-header. Without one only lengths are fixed.
func checksumOptions(l packet.Layer, sl checksummer) gopacket.SerializeOptions {
	nl := networkLayerBefore(l)
	if nl == nil {
		return fixLengths
	}
	if err := sl.SetNetworkLayerForChecksum(nl); err != nil {
		return fixLengths
	}
	return fixAll
}

// networkLayerBefore returns the addresses of the closest IP header before l.
// Only the addresses take part in a pseudo-header.
func networkLayerBefore(l packet.Layer) gopacket.NetworkLayer {
	for p := l.Prev(); p != nil; p = p.Prev() {
		h := p.Header()
		switch p.(type) {
		case *IPv4Layer:
			if len(h) < ipv4MinHeaderLen {
				return nil
			}
			return &layers.IPv4{Version: 4, SrcIP: net.IP(h[12:16]), DstIP: net.IP(h[16:20])}
		case *IPv6Layer:
			if len(h) < ipv6HeaderLen {
				return nil
			}
			return &layers.IPv6{Version: 6, SrcIP: net.IP(h[8:24]), DstIP: net.IP(h[24:40])}
		}
	}
	return nil
}
