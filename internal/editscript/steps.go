package editscript

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"

	pktlayers "firestige.xyz/pktedit/pkg/layers"
	"firestige.xyz/pktedit/pkg/packet"
)

func parseTarget(name string) (packet.ProtocolType, error) {
	if name == "" {
		return 0, fmt.Errorf("protocol is required")
	}
	proto, err := packet.ParseProtocol(name)
	if err != nil {
		return 0, err
	}
	if proto == packet.UnknownProtocol {
		return 0, fmt.Errorf("protocol %q matches nothing", name)
	}
	return proto, nil
}

// bytesArg holds payload bytes given either as text or as hex.
type bytesArg struct {
	Data string `mapstructure:"data"`
	Hex  string `mapstructure:"hex"`

	bytes []byte
}

func (b *bytesArg) decode() error {
	switch {
	case b.Data != "" && b.Hex != "":
		return fmt.Errorf("data and hex are mutually exclusive")
	case b.Data != "":
		b.bytes = []byte(b.Data)
	case b.Hex != "":
		clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(b.Hex)
		raw, err := hex.DecodeString(clean)
		if err != nil {
			return fmt.Errorf("hex: %v", err)
		}
		b.bytes = raw
	}
	if len(b.bytes) == 0 {
		return fmt.Errorf("data or hex is required")
	}
	return nil
}

// RemoveLayer removes the first layer of Protocol, or every one with All.
type RemoveLayer struct {
	Protocol string `mapstructure:"protocol"`
	All      bool   `mapstructure:"all"`

	proto packet.ProtocolType
}

func (s *RemoveLayer) Name() string { return "remove_layer" }

func (s *RemoveLayer) validate() (err error) {
	s.proto, err = parseTarget(s.Protocol)
	return err
}

func (s *RemoveLayer) Apply(p *packet.Packet) (bool, error) {
	l := p.Layer(s.proto)
	if l == nil {
		return true, nil
	}
	for l != nil {
		if err := p.RemoveLayer(l); err != nil {
			return false, err
		}
		if !s.All {
			break
		}
		l = p.Layer(s.proto)
	}
	return false, nil
}

// resize is shared by ExtendLayer and ShortenLayer.
type resize struct {
	Protocol string `mapstructure:"protocol"`
	Offset   int    `mapstructure:"offset"`
	Length   int    `mapstructure:"length"`

	proto packet.ProtocolType
}

func (s *resize) validate() (err error) {
	if s.Offset < 0 {
		return fmt.Errorf("offset must not be negative")
	}
	if s.Length <= 0 {
		return fmt.Errorf("length must be positive")
	}
	s.proto, err = parseTarget(s.Protocol)
	return err
}

// ExtendLayer inserts Length zero bytes at Offset inside a header.
type ExtendLayer struct {
	resize `mapstructure:",squash"`
}

func (s *ExtendLayer) Name() string { return "extend_layer" }

func (s *ExtendLayer) Apply(p *packet.Packet) (bool, error) {
	l := p.Layer(s.proto)
	if l == nil {
		return true, nil
	}
	return false, p.ExtendLayer(l, s.Offset, s.Length)
}

// ShortenLayer removes Length bytes at Offset inside a header.
type ShortenLayer struct {
	resize `mapstructure:",squash"`
}

func (s *ShortenLayer) Name() string { return "shorten_layer" }

func (s *ShortenLayer) Apply(p *packet.Packet) (bool, error) {
	l := p.Layer(s.proto)
	if l == nil {
		return true, nil
	}
	return false, p.ShortenLayer(l, s.Offset, s.Length)
}

// InsertPayload inserts bytes right after the header of the first layer of
// After.
type InsertPayload struct {
	After    string `mapstructure:"after"`
	bytesArg `mapstructure:",squash"`

	proto packet.ProtocolType
}

func (s *InsertPayload) Name() string { return "insert_payload" }

func (s *InsertPayload) validate() (err error) {
	if s.proto, err = parseTarget(s.After); err != nil {
		return err
	}
	return s.decode()
}

func (s *InsertPayload) Apply(p *packet.Packet) (bool, error) {
	l := p.Layer(s.proto)
	if l == nil {
		return true, nil
	}
	return false, p.InsertLayer(l, packet.NewPayloadLayer(s.bytes))
}

// AppendPayload appends bytes after the last layer.
type AppendPayload struct {
	bytesArg `mapstructure:",squash"`
}

func (s *AppendPayload) Name() string { return "append_payload" }

func (s *AppendPayload) validate() error { return s.decode() }

func (s *AppendPayload) Apply(p *packet.Packet) (bool, error) {
	return false, p.AddLayer(packet.NewPayloadLayer(s.bytes))
}

// StripTo removes every layer in front of the first layer of Protocol and
// relabels the link type. Only Ethernet and IP are valid targets.
type StripTo struct {
	Protocol string `mapstructure:"protocol"`

	proto packet.ProtocolType
	link  packet.LinkLayerType
}

func (s *StripTo) Name() string { return "strip_to" }

func (s *StripTo) validate() (err error) {
	if s.proto, err = parseTarget(s.Protocol); err != nil {
		return err
	}
	switch {
	case s.proto == packet.Ethernet:
		s.link = packet.LinkEthernet
	case s.proto&^packet.IP == 0:
		s.link = packet.LinkRaw
	default:
		return fmt.Errorf("cannot strip to %s (must be ethernet or ip)", s.proto)
	}
	return nil
}

func (s *StripTo) Apply(p *packet.Packet) (bool, error) {
	target := p.Layer(s.proto)
	if target == nil {
		return true, nil
	}
	if target == p.FirstLayer() {
		return true, nil
	}
	for p.FirstLayer() != target {
		if err := p.RemoveLayer(p.FirstLayer()); err != nil {
			return false, err
		}
	}
	p.RawPacket().SetLinkLayerType(s.link)
	return false, nil
}

// InsertVLAN tags Ethernet frames with an 802.1Q header.
type InsertVLAN struct {
	VLANID       uint16 `mapstructure:"vlan_id"`
	Priority     uint8  `mapstructure:"priority"`
	DropEligible bool   `mapstructure:"dei"`
}

func (s *InsertVLAN) Name() string { return "insert_vlan" }

func (s *InsertVLAN) validate() error {
	if s.VLANID > 4095 {
		return fmt.Errorf("vlan_id %d out of range", s.VLANID)
	}
	if s.Priority > 7 {
		return fmt.Errorf("priority %d out of range", s.Priority)
	}
	return nil
}

func (s *InsertVLAN) Apply(p *packet.Packet) (bool, error) {
	eth := p.Layer(packet.Ethernet)
	if eth == nil {
		return true, nil
	}
	inner := binary.BigEndian.Uint16(eth.Header()[12:14])
	tag, err := pktlayers.NewVLANLayer(&layers.Dot1Q{
		Priority:       s.Priority,
		DropEligible:   s.DropEligible,
		VLANIdentifier: s.VLANID,
		Type:           layers.EthernetType(inner),
	})
	if err != nil {
		return false, err
	}
	if err := p.InsertLayer(eth, tag); err != nil {
		return false, err
	}
	eth.ComputeCalculatedFields()
	return false, nil
}

// PopVLAN removes the outermost 802.1Q header and hands its EtherType back
// to the header in front of it.
type PopVLAN struct{}

func (s *PopVLAN) Name() string { return "pop_vlan" }

func (s *PopVLAN) Apply(p *packet.Packet) (bool, error) {
	tag := p.Layer(packet.VLAN)
	if tag == nil {
		return true, nil
	}
	var inner [2]byte
	copy(inner[:], tag.Header()[2:4])
	prev := tag.Prev()
	if err := p.RemoveLayer(tag); err != nil {
		return false, err
	}
	if prev == nil {
		return false, nil
	}
	switch prev.Protocol() {
	case packet.Ethernet:
		copy(prev.Header()[12:14], inner[:])
	case packet.VLAN:
		copy(prev.Header()[2:4], inner[:])
	case packet.LinuxSLL:
		copy(prev.Header()[14:16], inner[:])
	}
	return false, nil
}

// Recompute fixes lengths and checksums of every layer.
type Recompute struct{}

func (s *Recompute) Name() string { return "recompute" }

func (s *Recompute) Apply(p *packet.Packet) (bool, error) {
	if p.FirstLayer() == nil {
		return true, nil
	}
	p.ComputeCalculatedFields()
	return false, nil
}
