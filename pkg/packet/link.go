package packet

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
)

// LinkLayerType identifies how the first layer of a raw packet is decoded.
// Values follow the pcap LINKTYPE registry.
type LinkLayerType uint16

// Supported link-layer types.
const (
	LinkNull     LinkLayerType = 0
	LinkEthernet LinkLayerType = 1
	LinkRaw      LinkLayerType = 101
	LinkLinuxSLL LinkLayerType = 113
	LinkIPv4     LinkLayerType = 228
	LinkIPv6     LinkLayerType = 229
)

var linkNames = map[LinkLayerType]string{
	LinkNull:     "null",
	LinkEthernet: "ethernet",
	LinkRaw:      "raw",
	LinkLinuxSLL: "sll",
	LinkIPv4:     "ipv4",
	LinkIPv6:     "ipv6",
}

func (t LinkLayerType) String() string {
	if name, ok := linkNames[t]; ok {
		return name
	}
	return fmt.Sprintf("LinkLayerType(%d)", uint16(t))
}

// IsLinkTypeValid reports whether t is one of the supported link types.
func IsLinkTypeValid(t LinkLayerType) bool {
	_, ok := linkNames[t]
	return ok
}

// ParseLinkLayerType resolves a link type name.
func ParseLinkLayerType(name string) (LinkLayerType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range linkNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("link type %q: %w", name, ErrUnsupportedLinkType)
}

// FromLinkType converts a gopacket link type. Loopback captures map to
// LinkNull.
func FromLinkType(lt layers.LinkType) (LinkLayerType, error) {
	switch lt {
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return LinkNull, nil
	case layers.LinkTypeEthernet:
		return LinkEthernet, nil
	case layers.LinkTypeRaw, 12: // 12 is DLT_RAW on OpenBSD
		return LinkRaw, nil
	case layers.LinkTypeLinuxSLL:
		return LinkLinuxSLL, nil
	case layers.LinkTypeIPv4:
		return LinkIPv4, nil
	case layers.LinkTypeIPv6:
		return LinkIPv6, nil
	default:
		return 0, fmt.Errorf("link type %v: %w", lt, ErrUnsupportedLinkType)
	}
}

// LinkType returns the gopacket equivalent of t.
func (t LinkLayerType) LinkType() layers.LinkType {
	return layers.LinkType(t)
}
