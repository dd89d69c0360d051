package editscript

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktedit/internal/core"
	"firestige.xyz/pktedit/pkg/buffer"
	"firestige.xyz/pktedit/pkg/packet"
)

var fix = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

func ipv4() *layers.IPv4 {
	return &layers.IPv4{Version: 4, TTL: 64, Id: 7, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
}

func frame(t *testing.T, vlan *layers.Dot1Q, payload string) []byte {
	t.Helper()
	ip := ipv4()
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ls := []gopacket.SerializableLayer{eth}
	if vlan != nil {
		eth.EthernetType = layers.EthernetTypeDot1Q
		vlan.Type = layers.EthernetTypeIPv4
		ls = append(ls, vlan)
	}
	ls = append(ls, ip, udp, gopacket.Payload(payload))

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, fix, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func parse(t *testing.T, data []byte) *packet.Packet {
	t.Helper()
	raw, err := packet.NewRawPacket(append([]byte(nil), data...), time.Unix(0, 0), true, packet.LinkEthernet,
		packet.WithPolicy(buffer.PolicyAmortized))
	require.NoError(t, err)
	return packet.NewFromRaw(raw, true)
}

func run(t *testing.T, script string, data []byte) *packet.Packet {
	t.Helper()
	s, err := Parse([]byte(script))
	require.NoError(t, err)
	p := parse(t, data)
	require.NoError(t, s.Apply(p))
	return p
}

func protocols(p *packet.Packet) []packet.ProtocolType {
	var out []packet.ProtocolType
	for _, l := range p.Layers() {
		out = append(out, l.Protocol())
	}
	return out
}

const payload = "a dns query payload"

func TestParseScript(t *testing.T) {
	s, err := Parse([]byte(`
on_error: keep
ops:
  - op: remove_layer
    protocol: vlan
    all: true
  - op: extend_layer
    protocol: ipv4
    offset: 20
    length: "4"
  - op: insert_payload
    after: udp
    hex: "de:ad be ef"
  - op: insert_vlan
    vlan_id: 100
    priority: 3
  - op: recompute
`))
	require.NoError(t, err)
	assert.Equal(t, OnErrorKeep, s.OnError)
	require.Len(t, s.Steps, 5)

	assert.Equal(t, &RemoveLayer{Protocol: "vlan", All: true, proto: packet.VLAN}, s.Steps[0])
	extend := s.Steps[1].(*ExtendLayer)
	assert.Equal(t, 4, extend.Length)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, s.Steps[2].(*InsertPayload).bytes)
	assert.Equal(t, uint16(100), s.Steps[3].(*InsertVLAN).VLANID)
	assert.Equal(t, "recompute", s.Steps[4].Name())
}

func TestParseDefaults(t *testing.T) {
	s, err := Parse([]byte("ops: []\n"))
	require.NoError(t, err)
	assert.Equal(t, OnErrorDrop, s.OnError)
	assert.Empty(t, s.Steps)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"yaml", "ops: [\n"},
		{"on_error", "on_error: retry\n"},
		{"unknown op", "ops:\n  - op: reverse\n"},
		{"missing op", "ops:\n  - protocol: tcp\n"},
		{"unknown field", "ops:\n  - op: recompute\n    force: true\n"},
		{"missing protocol", "ops:\n  - op: remove_layer\n"},
		{"bad protocol", "ops:\n  - op: remove_layer\n    protocol: sctp\n"},
		{"negative offset", "ops:\n  - op: shorten_layer\n    protocol: tcp\n    offset: -1\n    length: 2\n"},
		{"zero length", "ops:\n  - op: extend_layer\n    protocol: tcp\n"},
		{"no payload", "ops:\n  - op: append_payload\n"},
		{"both payloads", "ops:\n  - op: append_payload\n    data: x\n    hex: \"00\"\n"},
		{"bad hex", "ops:\n  - op: append_payload\n    hex: zz\n"},
		{"strip to tcp", "ops:\n  - op: strip_to\n    protocol: tcp\n"},
		{"vlan id", "ops:\n  - op: insert_vlan\n    vlan_id: 5000\n"},
		{"priority", "ops:\n  - op: insert_vlan\n    priority: 8\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.script))
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ops:\n  - op: recompute\n"), 0644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, s.Steps, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInsertAndPopVLAN(t *testing.T) {
	plain := frame(t, nil, payload)
	tagged := frame(t, &layers.Dot1Q{Priority: 3, VLANIdentifier: 100}, payload)

	p := run(t, "ops:\n  - op: insert_vlan\n    vlan_id: 100\n    priority: 3\n", plain)
	defer p.Close()
	assert.Equal(t, tagged, p.RawPacket().Data())

	q := run(t, "ops:\n  - op: pop_vlan\n", tagged)
	defer q.Close()
	assert.Equal(t, plain, q.RawPacket().Data())
	assert.Equal(t, []packet.ProtocolType{packet.Ethernet, packet.IPv4, packet.UDP, packet.GenericPayload}, protocols(q))
}

func TestRemoveAllVLANs(t *testing.T) {
	p := run(t, `
ops:
  - op: insert_vlan
    vlan_id: 10
  - op: insert_vlan
    vlan_id: 20
  - op: remove_layer
    protocol: vlan
    all: true
  - op: recompute
`, frame(t, nil, payload))
	defer p.Close()
	assert.False(t, p.IsPacketOfType(packet.VLAN))
	assert.Equal(t, frame(t, nil, payload), p.RawPacket().Data())
}

func TestStripToIP(t *testing.T) {
	data := frame(t, &layers.Dot1Q{VLANIdentifier: 7}, payload)
	p := run(t, "ops:\n  - op: strip_to\n    protocol: ip\n", data)
	defer p.Close()

	assert.Equal(t, packet.LinkRaw, p.RawPacket().LinkLayerType())
	assert.Equal(t, packet.IPv4, p.FirstLayer().Protocol())
	assert.Equal(t, data[18:], p.RawPacket().Data())

	// Re-parsing the relabelled packet finds the same chain.
	p.ParseLayers(packet.UnknownProtocol, packet.OsiUnknown)
	assert.Equal(t, []packet.ProtocolType{packet.IPv4, packet.UDP, packet.GenericPayload}, protocols(p))
}

func TestAppendPayloadAndRecompute(t *testing.T) {
	p := run(t, "ops:\n  - op: append_payload\n    data: \"!!\"\n  - op: recompute\n", frame(t, nil, payload))
	defer p.Close()
	assert.Equal(t, frame(t, nil, payload+"!!"), p.RawPacket().Data())
}

func TestInsertPayloadAfterUDP(t *testing.T) {
	p := run(t, "ops:\n  - op: insert_payload\n    after: udp\n    data: \">>\"\n  - op: recompute\n", frame(t, nil, payload))
	defer p.Close()
	assert.Equal(t, frame(t, nil, ">>"+payload), p.RawPacket().Data())
}

func TestExtendAndShortenLayer(t *testing.T) {
	data := frame(t, nil, payload)
	p := run(t, "ops:\n  - op: extend_layer\n    protocol: ipv4\n    offset: 20\n    length: 4\n", data)
	defer p.Close()
	ip := p.Layer(packet.IPv4)
	assert.Equal(t, 24, ip.HeaderLen())
	assert.Len(t, p.RawPacket().Data(), len(data)+4)

	s, err := Parse([]byte("ops:\n  - op: shorten_layer\n    protocol: ipv4\n    offset: 20\n    length: 4\n"))
	require.NoError(t, err)
	require.NoError(t, s.Apply(p))
	assert.Equal(t, data, p.RawPacket().Data())
}

func TestMissingTargetIsSkipped(t *testing.T) {
	data := frame(t, nil, payload)
	p := run(t, `
ops:
  - op: remove_layer
    protocol: tcp
  - op: pop_vlan
  - op: strip_to
    protocol: ethernet
  - op: insert_payload
    after: icmp
    data: x
`, data)
	defer p.Close()
	assert.Equal(t, data, p.RawPacket().Data())

	skipped, err := (&Recompute{}).Apply(packet.NewFromRaw(nil, false))
	assert.NoError(t, err)
	assert.True(t, skipped)
}

func TestApplyStopsAtRejectedStep(t *testing.T) {
	s, err := Parse([]byte(`
ops:
  - op: shorten_layer
    protocol: udp
    offset: 4
    length: 8
  - op: append_payload
    data: never
`))
	require.NoError(t, err)

	data := frame(t, nil, payload)
	p := parse(t, data)
	defer p.Close()

	err = s.Apply(p)
	assert.ErrorIs(t, err, packet.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "op 0 (shorten_layer)")
	assert.Equal(t, data, p.RawPacket().Data())
}

func TestOps(t *testing.T) {
	assert.Equal(t, []string{
		"append_payload", "extend_layer", "insert_payload", "insert_vlan",
		"pop_vlan", "recompute", "remove_layer", "shorten_layer", "strip_to",
	}, Ops())
}
