package layers

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"

	"firestige.xyz/pktedit/pkg/packet"
	"github.com/google/gopacket/layers"
)

const (
	tcpMinHeaderLen = 20
	tcpMaxHeaderLen = 60
	udpHeaderLen    = 8
)

// TCPLayer is a TCP header including its options.
type TCPLayer struct {
	packet.LayerBase
}

// NewTCPLayer builds a detached TCP header from h.
func NewTCPLayer(h *layers.TCP) (*TCPLayer, error) {
	return newDetached(h, decodeTCP)
}

func decodeTCP(data []byte) (*TCPLayer, error) {
	n, err := decodeHeader("tcp", &layers.TCP{}, data)
	if err != nil {
		return nil, err
	}
	l := &TCPLayer{}
	l.Init(data, n, packet.TCP, packet.OsiTransport)
	return l, nil
}

// Decoded returns the header as decoded by gopacket.
func (l *TCPLayer) Decoded() (*layers.TCP, error) {
	tcp := &layers.TCP{}
	if _, err := decodeHeader("tcp", tcp, l.Data()); err != nil {
		return nil, err
	}
	return tcp, nil
}

func (l *TCPLayer) ParseNextLayer() packet.Layer {
	return packet.DecodeLayer(packet.GenericPayload, l.LayerPayload())
}

// ComputeCalculatedFields sets the data offset and recomputes the checksum
// against the closest IP header before it. Detached headers only get their
// lengths fixed.
func (l *TCPLayer) ComputeCalculatedFields() {
	h := l.Header()
	if len(h) < tcpMinHeaderLen {
		return
	}
	if n := len(h); n%4 == 0 && n <= tcpMaxHeaderLen {
		h[12] = byte(n/4)<<4 | h[12]&0x0F
	}
	tcp, err := l.Decoded()
	if err != nil {
		slog.Debug("tcp fixup skipped", "error", err)
		return
	}
	rewriteHeader(h, l.LayerPayload(), tcp, checksumOptions(l, tcp))
}

func (l *TCPLayer) String() string {
	tcp, err := l.Decoded()
	if err != nil {
		return "TCP Layer, malformed"
	}
	return fmt.Sprintf("TCP Layer, [%s], Src port: %d, Dst port: %d", tcpFlags(tcp), tcp.SrcPort, tcp.DstPort)
}

func tcpFlags(tcp *layers.TCP) string {
	var flags []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{tcp.SYN, "SYN"}, {tcp.ACK, "ACK"}, {tcp.FIN, "FIN"}, {tcp.RST, "RST"},
		{tcp.PSH, "PSH"}, {tcp.URG, "URG"}, {tcp.ECE, "ECE"}, {tcp.CWR, "CWR"},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	return strings.Join(flags, ", ")
}

// UDPLayer is a UDP header.
type UDPLayer struct {
	packet.LayerBase
}

// NewUDPLayer builds a detached UDP header from h.
func NewUDPLayer(h *layers.UDP) (*UDPLayer, error) {
	return newDetached(h, decodeUDP)
}

func decodeUDP(data []byte) (*UDPLayer, error) {
	n, err := decodeHeader("udp", &layers.UDP{}, data)
	if err != nil {
		return nil, err
	}
	l := &UDPLayer{}
	l.Init(data, n, packet.UDP, packet.OsiTransport)
	return l, nil
}

// Decoded returns the header as decoded by gopacket.
func (l *UDPLayer) Decoded() (*layers.UDP, error) {
	udp := &layers.UDP{}
	if _, err := decodeHeader("udp", udp, l.Data()); err != nil {
		return nil, err
	}
	return udp, nil
}

func (l *UDPLayer) ParseNextLayer() packet.Layer {
	return packet.DecodeLayer(packet.GenericPayload, l.LayerPayload())
}

// ComputeCalculatedFields sets the length and recomputes the checksum
// against the closest IP header before it.
func (l *UDPLayer) ComputeCalculatedFields() {
	h := l.Header()
	if len(h) != udpHeaderLen {
		return
	}
	binary.BigEndian.PutUint16(h[4:6], uint16(len(l.Data())))
	udp, err := l.Decoded()
	if err != nil {
		slog.Debug("udp fixup skipped", "error", err)
		return
	}
	rewriteHeader(h, l.LayerPayload(), udp, checksumOptions(l, udp))
}

func (l *UDPLayer) String() string {
	udp, err := l.Decoded()
	if err != nil {
		return "UDP Layer, malformed"
	}
	return fmt.Sprintf("UDP Layer, Src port: %d, Dst port: %d", udp.SrcPort, udp.DstPort)
}
