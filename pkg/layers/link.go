package layers

import (
	"encoding/binary"
	"fmt"
	"net"

	"firestige.xyz/pktedit/pkg/packet"
	"github.com/google/gopacket/layers"
)

// EthernetLayer is an Ethernet II header.
type EthernetLayer struct {
	packet.LayerBase
}

// NewEthernetLayer builds a detached Ethernet header from h.
func NewEthernetLayer(h *layers.Ethernet) (*EthernetLayer, error) {
	return newDetached(h, decodeEthernet)
}

func decodeEthernet(data []byte) (*EthernetLayer, error) {
	n, err := decodeHeader("ethernet", &layers.Ethernet{}, data)
	if err != nil {
		return nil, err
	}
	l := &EthernetLayer{}
	l.Init(data, n, packet.Ethernet, packet.OsiDataLink)
	return l, nil
}

// Decoded returns the header as decoded by gopacket.
func (l *EthernetLayer) Decoded() (*layers.Ethernet, error) {
	eth := &layers.Ethernet{}
	if _, err := decodeHeader("ethernet", eth, l.Data()); err != nil {
		return nil, err
	}
	return eth, nil
}

func (l *EthernetLayer) ParseNextLayer() packet.Layer {
	eth, err := l.Decoded()
	if err != nil {
		return nil
	}
	return nextByEtherType(eth.EthernetType, l.LayerPayload())
}

// ComputeCalculatedFields sets the EtherType from the next layer.
func (l *EthernetLayer) ComputeCalculatedFields() {
	if t, ok := nextEtherType(l); ok && l.HeaderLen() >= 14 {
		binary.BigEndian.PutUint16(l.Header()[12:14], uint16(t))
	}
}

func (l *EthernetLayer) String() string {
	eth, err := l.Decoded()
	if err != nil {
		return "Ethernet II Layer, malformed"
	}
	return fmt.Sprintf("Ethernet II Layer, Src: %s, Dst: %s", eth.SrcMAC, eth.DstMAC)
}

// LinuxSLLLayer is a Linux cooked capture header.
type LinuxSLLLayer struct {
	packet.LayerBase
}

func decodeLinuxSLL(data []byte) (*LinuxSLLLayer, error) {
	n, err := decodeHeader("linux sll", &layers.LinuxSLL{}, data)
	if err != nil {
		return nil, err
	}
	l := &LinuxSLLLayer{}
	l.Init(data, n, packet.LinuxSLL, packet.OsiDataLink)
	return l, nil
}

func (l *LinuxSLLLayer) Decoded() (*layers.LinuxSLL, error) {
	sll := &layers.LinuxSLL{}
	if _, err := decodeHeader("linux sll", sll, l.Data()); err != nil {
		return nil, err
	}
	return sll, nil
}

func (l *LinuxSLLLayer) ParseNextLayer() packet.Layer {
	sll, err := l.Decoded()
	if err != nil {
		return nil
	}
	return nextByEtherType(sll.EthernetType, l.LayerPayload())
}

func (l *LinuxSLLLayer) ComputeCalculatedFields() {
	if t, ok := nextEtherType(l); ok && l.HeaderLen() >= 16 {
		binary.BigEndian.PutUint16(l.Header()[14:16], uint16(t))
	}
}

func (l *LinuxSLLLayer) String() string {
	sll, err := l.Decoded()
	if err != nil {
		return "Linux cooked header, malformed"
	}
	return fmt.Sprintf("Linux cooked header, Type: %s, Addr: %s", sll.EthernetType, sll.Addr)
}

// LoopbackLayer is the 4-byte family header of BSD loopback captures.
type LoopbackLayer struct {
	packet.LayerBase
}

func decodeLoopback(data []byte) (*LoopbackLayer, error) {
	n, err := decodeHeader("loopback", &layers.Loopback{}, data)
	if err != nil {
		return nil, err
	}
	l := &LoopbackLayer{}
	l.Init(data, n, packet.NullLoopback, packet.OsiDataLink)
	return l, nil
}

func (l *LoopbackLayer) Decoded() (*layers.Loopback, error) {
	lo := &layers.Loopback{}
	if _, err := decodeHeader("loopback", lo, l.Data()); err != nil {
		return nil, err
	}
	return lo, nil
}

func (l *LoopbackLayer) ParseNextLayer() packet.Layer {
	lo, err := l.Decoded()
	if err != nil {
		return nil
	}
	payload := l.LayerPayload()
	switch lo.Family {
	case layers.ProtocolFamilyIPv4:
		return packet.DecodeLayer(packet.IPv4, payload)
	case layers.ProtocolFamilyIPv6BSD, layers.ProtocolFamilyIPv6FreeBSD,
		layers.ProtocolFamilyIPv6Darwin, layers.ProtocolFamilyIPv6Linux:
		return packet.DecodeLayer(packet.IPv6, payload)
	}
	return packet.DecodeLayer(packet.GenericPayload, payload)
}

// ComputeCalculatedFields is a no-op: the family is written in host order
// by the capturing machine.
func (l *LoopbackLayer) ComputeCalculatedFields() {}

func (l *LoopbackLayer) String() string {
	lo, err := l.Decoded()
	if err != nil {
		return "Null/Loopback Layer, malformed"
	}
	return fmt.Sprintf("Null/Loopback Layer, Family: %s", lo.Family)
}

// VLANLayer is an 802.1Q tag.
type VLANLayer struct {
	packet.LayerBase
}

// NewVLANLayer builds a detached 802.1Q tag from h.
func NewVLANLayer(h *layers.Dot1Q) (*VLANLayer, error) {
	return newDetached(h, decodeVLAN)
}

func decodeVLAN(data []byte) (*VLANLayer, error) {
	n, err := decodeHeader("vlan", &layers.Dot1Q{}, data)
	if err != nil {
		return nil, err
	}
	l := &VLANLayer{}
	l.Init(data, n, packet.VLAN, packet.OsiDataLink)
	return l, nil
}

func (l *VLANLayer) Decoded() (*layers.Dot1Q, error) {
	tag := &layers.Dot1Q{}
	if _, err := decodeHeader("vlan", tag, l.Data()); err != nil {
		return nil, err
	}
	return tag, nil
}

func (l *VLANLayer) ParseNextLayer() packet.Layer {
	tag, err := l.Decoded()
	if err != nil {
		return nil
	}
	return nextByEtherType(tag.Type, l.LayerPayload())
}

// ComputeCalculatedFields sets the inner EtherType from the next layer.
func (l *VLANLayer) ComputeCalculatedFields() {
	if t, ok := nextEtherType(l); ok && l.HeaderLen() >= 4 {
		binary.BigEndian.PutUint16(l.Header()[2:4], uint16(t))
	}
}

func (l *VLANLayer) String() string {
	tag, err := l.Decoded()
	if err != nil {
		return "VLAN Layer, malformed"
	}
	cfi := 0
	if tag.DropEligible {
		cfi = 1
	}
	return fmt.Sprintf("VLAN Layer, Priority: %d, Vlan ID: %d, CFI: %d", tag.Priority, tag.VLANIdentifier, cfi)
}

// ARPLayer is an ARP request or reply. Nothing follows it.
type ARPLayer struct {
	packet.LayerBase
}

func decodeARP(data []byte) (*ARPLayer, error) {
	n, err := decodeHeader("arp", &layers.ARP{}, data)
	if err != nil {
		return nil, err
	}
	l := &ARPLayer{}
	l.Init(data, n, packet.ARP, packet.OsiNetwork)
	return l, nil
}

func (l *ARPLayer) Decoded() (*layers.ARP, error) {
	arp := &layers.ARP{}
	if _, err := decodeHeader("arp", arp, l.Data()); err != nil {
		return nil, err
	}
	return arp, nil
}

func (l *ARPLayer) ParseNextLayer() packet.Layer { return nil }
func (l *ARPLayer) ComputeCalculatedFields()     {}

func (l *ARPLayer) String() string {
	arp, err := l.Decoded()
	if err != nil {
		return "ARP Layer, malformed"
	}
	switch arp.Operation {
	case layers.ARPRequest:
		return fmt.Sprintf("ARP Layer, ARP request, who has %s ? Tell %s",
			net.IP(arp.DstProtAddress), net.IP(arp.SourceProtAddress))
	case layers.ARPReply:
		return fmt.Sprintf("ARP Layer, ARP reply, %s is at %s",
			net.IP(arp.SourceProtAddress), net.HardwareAddr(arp.SourceHwAddress))
	}
	return fmt.Sprintf("ARP Layer, Operation: %d", arp.Operation)
}
