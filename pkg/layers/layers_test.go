package layers

import (
	"net"
	"testing"
	"time"

	"firestige.xyz/pktedit/pkg/buffer"
	"firestige.xyz/pktedit/pkg/packet"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
	srcIP4 = net.IP{10, 0, 0, 1}
	dstIP4 = net.IP{10, 0, 0, 2}
	srcIP6 = net.ParseIP("2001:db8::1")
	dstIP6 = net.ParseIP("2001:db8::2")
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, fixAll, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func ethernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: t}
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       7,
		Flags:    layers.IPv4DontFragment,
		Protocol: proto,
		SrcIP:    srcIP4,
		DstIP:    dstIP4,
	}
}

func tcpFrame(t *testing.T, payload string) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, Seq: 1, Ack: 2, SYN: true, ACK: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload))
}

func udpFrame(t *testing.T, payload string) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

func parse(t *testing.T, frame []byte, link packet.LinkLayerType, opts ...packet.Option) *packet.Packet {
	t.Helper()
	raw, err := packet.NewRawPacket(append([]byte(nil), frame...), time.Unix(0, 0), true, link,
		packet.WithPolicy(buffer.PolicyAmortized))
	require.NoError(t, err)
	return packet.NewFromRaw(raw, true, opts...)
}

func protocols(p *packet.Packet) []packet.ProtocolType {
	var out []packet.ProtocolType
	for _, l := range p.Layers() {
		out = append(out, l.Protocol())
	}
	return out
}

func TestParseTCPFrame(t *testing.T) {
	p := parse(t, tcpFrame(t, "hello, world"), packet.LinkEthernet)
	defer p.Close()

	assert.Equal(t, []packet.ProtocolType{packet.Ethernet, packet.IPv4, packet.TCP, packet.GenericPayload}, protocols(p))
	ls := p.Layers()
	assert.Equal(t, []int{14, 20, 20, 12}, []int{ls[0].HeaderLen(), ls[1].HeaderLen(), ls[2].HeaderLen(), ls[3].HeaderLen()})
	assert.Equal(t, []int{0, 14, 34, 54}, []int{ls[0].Offset(), ls[1].Offset(), ls[2].Offset(), ls[3].Offset()})
	assert.Equal(t, []byte("hello, world"), ls[3].Data())

	ip, ok := p.Layer(packet.IPv4).(*IPv4Layer)
	require.True(t, ok)
	decoded, err := ip.Decoded()
	require.NoError(t, err)
	assert.Equal(t, layers.IPProtocolTCP, decoded.Protocol)
	assert.False(t, ip.IsFragment())
	assert.True(t, p.IsPacketOfType(packet.IP))
}

func TestParseStopsAtTransport(t *testing.T) {
	p := parse(t, tcpFrame(t, "hello, world"), packet.LinkEthernet, packet.WithStopLayer(packet.OsiNetwork))
	defer p.Close()
	assert.Equal(t, []packet.ProtocolType{packet.Ethernet, packet.IPv4}, protocols(p))
}

func TestParseRawIPv6(t *testing.T) {
	ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: srcIP6, DstIP: dstIP6}
	udp := &layers.UDP{SrcPort: 1000, DstPort: 2000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	frame := serialize(t, ip, udp, gopacket.Payload("ping"))

	for _, link := range []packet.LinkLayerType{packet.LinkRaw, packet.LinkIPv6} {
		p := parse(t, frame, link)
		assert.Equal(t, []packet.ProtocolType{packet.IPv6, packet.UDP, packet.GenericPayload}, protocols(p), link.String())
		assert.Equal(t, "IPv6 Layer, Src: 2001:db8::1, Dst: 2001:db8::2", p.FirstLayer().String())
		p.Close()
	}
}

func TestParseLoopbackAndSLL(t *testing.T) {
	inner := tcpFrame(t, "hello, world")[14:]

	lo := append([]byte{2, 0, 0, 0}, inner...)
	p := parse(t, lo, packet.LinkNull)
	assert.Equal(t, []packet.ProtocolType{packet.NullLoopback, packet.IPv4, packet.TCP, packet.GenericPayload}, protocols(p))
	assert.Equal(t, 4, p.FirstLayer().HeaderLen())
	p.Close()

	sll := []byte{0, 0, 0, 1, 0, 6, 0, 0x11, 0x22, 0x33, 0x44, 0x55, 0, 0, 0x08, 0x00}
	p = parse(t, append(sll, inner...), packet.LinkLinuxSLL)
	assert.Equal(t, []packet.ProtocolType{packet.LinuxSLL, packet.IPv4, packet.TCP, packet.GenericPayload}, protocols(p))
	assert.Equal(t, 16, p.FirstLayer().HeaderLen())
	p.Close()
}

func TestParseARP(t *testing.T) {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP4,
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    dstIP4,
	}
	p := parse(t, serialize(t, ethernet(layers.EthernetTypeARP), arp), packet.LinkEthernet)
	defer p.Close()

	assert.Equal(t, []packet.ProtocolType{packet.Ethernet, packet.ARP}, protocols(p))
	assert.Equal(t, 28, p.LastLayer().HeaderLen())
	assert.Equal(t, "ARP Layer, ARP request, who has 10.0.0.2 ? Tell 10.0.0.1", p.LastLayer().String())
}

func TestParseFragment(t *testing.T) {
	ip := ipv4(layers.IPProtocolUDP)
	ip.Flags = layers.IPv4MoreFragments
	frame := serialize(t, ethernet(layers.EthernetTypeIPv4), ip, gopacket.Payload("0123456789abcdefghijklmnopqrstuv"))

	p := parse(t, frame, packet.LinkEthernet)
	defer p.Close()
	assert.Equal(t, []packet.ProtocolType{packet.Ethernet, packet.IPv4, packet.GenericPayload}, protocols(p))
	assert.True(t, p.Layer(packet.IPv4).(*IPv4Layer).IsFragment())
}

func TestMalformedHeaderBecomesPayload(t *testing.T) {
	frame := tcpFrame(t, "hello, world")[:14+10]
	p := parse(t, frame, packet.LinkEthernet)
	defer p.Close()
	assert.Equal(t, []packet.ProtocolType{packet.Ethernet, packet.GenericPayload}, protocols(p))
}

func TestComputeCalculatedFieldsRestoresChecksums(t *testing.T) {
	want := tcpFrame(t, "hello, world")
	p := parse(t, want, packet.LinkEthernet)
	defer p.Close()

	data := p.RawPacket().Data()
	// IPv4 checksum, IPv4 total length and TCP checksum.
	data[24], data[25] = 0, 0
	data[16], data[17] = 0xFF, 0xFF
	data[50], data[51] = 0xDE, 0xAD

	p.ComputeCalculatedFields()
	assert.Equal(t, want, p.RawPacket().Data())
}

func TestReplacePayload(t *testing.T) {
	p := parse(t, tcpFrame(t, "hello, world"), packet.LinkEthernet)
	defer p.Close()

	require.NoError(t, p.RemoveLayer(p.LastLayer()))
	require.NoError(t, p.AddLayer(packet.NewPayloadLayer([]byte("a somewhat longer payload"))))
	p.ComputeCalculatedFields()

	assert.Equal(t, tcpFrame(t, "a somewhat longer payload"), p.RawPacket().Data())
}

func TestInsertAndRemoveVLAN(t *testing.T) {
	plain := udpFrame(t, "a dns query payload")
	p := parse(t, plain, packet.LinkEthernet)
	defer p.Close()

	tag, err := NewVLANLayer(&layers.Dot1Q{Priority: 3, VLANIdentifier: 100})
	require.NoError(t, err)
	assert.Equal(t, 4, tag.HeaderLen())
	assert.False(t, tag.IsAttached())

	require.NoError(t, p.InsertLayer(p.FirstLayer(), tag))
	p.ComputeCalculatedFields()

	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	want := serialize(t, ethernet(layers.EthernetTypeDot1Q),
		&layers.Dot1Q{Priority: 3, VLANIdentifier: 100, Type: layers.EthernetTypeIPv4},
		ip, udp, gopacket.Payload("a dns query payload"))
	assert.Equal(t, want, p.RawPacket().Data())
	assert.Equal(t, "VLAN Layer, Priority: 3, Vlan ID: 100, CFI: 0", tag.String())

	// Parsing again recognizes the tag.
	p.ParseLayers(packet.UnknownProtocol, packet.OsiUnknown)
	assert.Equal(t, []packet.ProtocolType{packet.Ethernet, packet.VLAN, packet.IPv4, packet.UDP, packet.GenericPayload}, protocols(p))

	require.NoError(t, p.RemoveLayer(p.Layer(packet.VLAN)))
	p.ComputeCalculatedFields()
	assert.Equal(t, plain, p.RawPacket().Data())
}

func TestBuildPacketFromLayers(t *testing.T) {
	p, err := packet.New(128, packet.WithPolicy(buffer.PolicyAmortized))
	require.NoError(t, err)
	defer p.Close()

	eth, err := NewEthernetLayer(ethernet(0))
	require.NoError(t, err)
	assert.Equal(t, 14, eth.HeaderLen())
	ip, err := NewIPv4Layer(&layers.IPv4{TTL: 64, Id: 7, Flags: layers.IPv4DontFragment, SrcIP: srcIP4, DstIP: dstIP4})
	require.NoError(t, err)
	assert.Equal(t, 20, ip.HeaderLen())
	udp, err := NewUDPLayer(&layers.UDP{SrcPort: 5353, DstPort: 53})
	require.NoError(t, err)
	assert.Equal(t, 8, udp.HeaderLen())

	for _, l := range []packet.Layer{eth, ip, udp, packet.NewPayloadLayer([]byte("a dns query payload"))} {
		require.NoError(t, p.AddLayer(l))
	}
	p.ComputeCalculatedFields()

	assert.Equal(t, udpFrame(t, "a dns query payload"), p.RawPacket().Data())
}

func TestBuildIPv6Packet(t *testing.T) {
	p, err := packet.New(128, packet.WithPolicy(buffer.PolicyExactFit))
	require.NoError(t, err)
	defer p.Close()

	ip, err := NewIPv6Layer(&layers.IPv6{HopLimit: 64, SrcIP: srcIP6, DstIP: dstIP6})
	require.NoError(t, err)
	assert.Equal(t, 40, ip.HeaderLen())
	udp, err := NewUDPLayer(&layers.UDP{SrcPort: 1000, DstPort: 2000})
	require.NoError(t, err)

	require.NoError(t, p.AddLayer(ip))
	require.NoError(t, p.AddLayer(udp))
	require.NoError(t, p.AddLayer(packet.NewPayloadLayer([]byte("ping"))))
	p.ComputeCalculatedFields()

	want6 := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: srcIP6, DstIP: dstIP6}
	wantUDP := &layers.UDP{SrcPort: 1000, DstPort: 2000}
	require.NoError(t, wantUDP.SetNetworkLayerForChecksum(want6))
	assert.Equal(t, serialize(t, want6, wantUDP, gopacket.Payload("ping")), p.RawPacket().Data())
}

func TestICMPChecksum(t *testing.T) {
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 9, Seq: 1}
	want := serialize(t, ethernet(layers.EthernetTypeIPv4), ipv4(layers.IPProtocolICMPv4), icmp,
		gopacket.Payload("abcdefghijklmnopqrstuvwxyz"))

	p := parse(t, want, packet.LinkEthernet)
	defer p.Close()
	assert.Equal(t, []packet.ProtocolType{packet.Ethernet, packet.IPv4, packet.ICMPv4, packet.GenericPayload}, protocols(p))

	data := p.RawPacket().Data()
	data[36], data[37] = 0, 0
	p.ComputeCalculatedFields()
	assert.Equal(t, want, p.RawPacket().Data())

	built, err := NewICMPv4Layer(icmp)
	require.NoError(t, err)
	assert.Equal(t, 8, built.HeaderLen())
	assert.Equal(t, "ICMP Layer, EchoRequest, Id: 9, Seq: 1", built.String())
}

func TestDetachedChecksumOnlyFixesLengths(t *testing.T) {
	udp, err := NewUDPLayer(&layers.UDP{SrcPort: 1, DstPort: 2, Checksum: 0xBEEF})
	require.NoError(t, err)
	udp.ComputeCalculatedFields()
	d, err := udp.Decoded()
	require.NoError(t, err)
	assert.Equal(t, uint16(8), d.Length)
	assert.Equal(t, uint16(0xBEEF), d.Checksum)
}

func TestLayerStrings(t *testing.T) {
	p := parse(t, tcpFrame(t, "hello, world"), packet.LinkEthernet)
	defer p.Close()

	assert.Equal(t, []string{
		"Packet length: 66 [Bytes], Arrival time: " + time.Unix(0, 0).Format("2006-01-02 15:04:05.000000000"),
		"Ethernet II Layer, Src: 00:11:22:33:44:55, Dst: 66:77:88:99:aa:bb",
		"IPv4 Layer, Src: 10.0.0.1, Dst: 10.0.0.2",
		"TCP Layer, [SYN, ACK], Src port: 40000, Dst port: 80",
		"Payload Layer, Data length: 12 [Bytes]",
	}, p.ToStringList())
}

func TestRegistered(t *testing.T) {
	for _, proto := range []packet.ProtocolType{
		packet.Ethernet, packet.LinuxSLL, packet.NullLoopback, packet.VLAN, packet.ARP,
		packet.IPv4, packet.IPv6, packet.TCP, packet.UDP, packet.ICMPv4, packet.ICMPv6,
	} {
		assert.True(t, packet.IsRegistered(proto), proto.String())
		assert.NotZero(t, packet.RegisteredProtocols()&proto, proto.String())
	}
	assert.NotZero(t, packet.RegisteredProtocols()&packet.GenericPayload)
}
