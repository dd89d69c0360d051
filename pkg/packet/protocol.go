package packet

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// ProtocolType tags a layer. Every protocol owns one bit so that a packet can
// keep the union of its layers in a single mask.
type ProtocolType uint64

// Known protocols.
const (
	UnknownProtocol ProtocolType = 0

	Ethernet ProtocolType = 1 << iota
	LinuxSLL
	NullLoopback
	VLAN
	ARP
	IPv4
	IPv6
	TCP
	UDP
	ICMPv4
	ICMPv6
	GenericPayload
)

// Protocol groups.
const (
	IP   = IPv4 | IPv6
	ICMP = ICMPv4 | ICMPv6
)

var protocolNames = map[ProtocolType]string{
	Ethernet:       "ethernet",
	LinuxSLL:       "sll",
	NullLoopback:   "null",
	VLAN:           "vlan",
	ARP:            "arp",
	IPv4:           "ipv4",
	IPv6:           "ipv6",
	TCP:            "tcp",
	UDP:            "udp",
	ICMPv4:         "icmpv4",
	ICMPv6:         "icmpv6",
	GenericPayload: "payload",
}

var protocolByName = map[string]ProtocolType{
	"eth":  Ethernet,
	"ip":   IP,
	"icmp": ICMP,
	"none": UnknownProtocol,
	"":     UnknownProtocol,
}

func init() {
	for p, name := range protocolNames {
		protocolByName[name] = p
	}
}

// String renders single protocols by name and masks as name|name.
func (p ProtocolType) String() string {
	if p == UnknownProtocol {
		return "unknown"
	}
	if name, ok := protocolNames[p]; ok {
		return name
	}
	var parts []string
	for rest := uint64(p); rest != 0; rest &= rest - 1 {
		bit := ProtocolType(1) << bits.TrailingZeros64(rest)
		if name, ok := protocolNames[bit]; ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, "0x"+strconv.FormatUint(uint64(bit), 16))
		}
	}
	return strings.Join(parts, "|")
}

// ParseProtocol resolves a protocol name. Names may be joined with '|'.
func ParseProtocol(name string) (ProtocolType, error) {
	var mask ProtocolType
	for _, part := range strings.Split(strings.ToLower(strings.TrimSpace(name)), "|") {
		p, ok := protocolByName[strings.TrimSpace(part)]
		if !ok {
			return UnknownProtocol, fmt.Errorf("protocol %q: %w", part, ErrUnsupportedProto)
		}
		mask |= p
	}
	return mask, nil
}

// OsiModelLayer is the protocol stack tier of a layer.
type OsiModelLayer uint8

// OSI tiers. OsiUnknown sorts above every real tier so that it never
// truncates a parse.
const (
	OsiPhysical OsiModelLayer = iota + 1
	OsiDataLink
	OsiNetwork
	OsiTransport
	OsiSession
	OsiPresentation
	OsiApplication
	OsiUnknown
)

var osiNames = [...]string{
	OsiPhysical:     "physical",
	OsiDataLink:     "datalink",
	OsiNetwork:      "network",
	OsiTransport:    "transport",
	OsiSession:      "session",
	OsiPresentation: "presentation",
	OsiApplication:  "application",
	OsiUnknown:      "unknown",
}

func (o OsiModelLayer) String() string {
	if o >= OsiPhysical && o <= OsiUnknown {
		return osiNames[o]
	}
	return fmt.Sprintf("OsiModelLayer(%d)", uint8(o))
}

// ParseOsiModelLayer accepts a tier name or its number (1-7).
func ParseOsiModelLayer(name string) (OsiModelLayer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "none" {
		return OsiUnknown, nil
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 1 && n <= 7 {
		return OsiModelLayer(n), nil
	}
	for o := OsiPhysical; o <= OsiUnknown; o++ {
		if osiNames[o] == name {
			return o, nil
		}
	}
	return OsiUnknown, fmt.Errorf("osi layer %q: %w", name, ErrInvalidArgument)
}
