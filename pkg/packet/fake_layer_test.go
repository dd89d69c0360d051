package packet

import (
	"fmt"
)

// fakeLayer is a minimal self-describing protocol used to drive the chain
// logic without real decoders. Byte 0 holds the header length in its low
// nibble, byte 1 selects the next protocol.
type fakeLayer struct {
	LayerBase
}

var fakeNext = map[byte]ProtocolType{
	1: IPv4,
	2: TCP,
	3: UDP,
	4: IPv6,
}

var computeOrder []ProtocolType

func fakeDecoder(proto ProtocolType, osi OsiModelLayer) DecodeFunc {
	return func(data []byte) (Layer, error) {
		if len(data) < 2 {
			return nil, ErrPacketTooShort
		}
		n := int(data[0] & 0x0F)
		if n < 2 || n > len(data) {
			return nil, fmt.Errorf("fake header of %d bytes: %w", n, ErrPacketTooShort)
		}
		l := &fakeLayer{}
		l.Init(data, n, proto, osi)
		return l, nil
	}
}

func init() {
	RegisterLayer(Ethernet, fakeDecoder(Ethernet, OsiDataLink))
	RegisterLayer(VLAN, fakeDecoder(VLAN, OsiDataLink))
	RegisterLayer(IPv4, fakeDecoder(IPv4, OsiNetwork))
	RegisterLayer(IPv6, fakeDecoder(IPv6, OsiNetwork))
	RegisterLayer(TCP, fakeDecoder(TCP, OsiTransport))
	RegisterLayer(UDP, fakeDecoder(UDP, OsiTransport))
}

func (l *fakeLayer) ParseNextLayer() Layer {
	payload := l.LayerPayload()
	if proto, ok := fakeNext[l.Header()[1]]; ok {
		return DecodeLayer(proto, payload)
	}
	return DecodeLayer(GenericPayload, payload)
}

func (l *fakeLayer) ComputeCalculatedFields() {
	computeOrder = append(computeOrder, l.Protocol())
}

func (l *fakeLayer) String() string {
	return fmt.Sprintf("%s Layer, Header length: %d", l.Protocol(), l.HeaderLen())
}

// newFake returns a detached fake layer whose header is n bytes long.
func newFake(proto ProtocolType, osi OsiModelLayer, n int, next byte, fill byte) *fakeLayer {
	header := make([]byte, n)
	header[0] = byte(n)
	header[1] = next
	for i := 2; i < n; i++ {
		header[i] = fill
	}
	l := &fakeLayer{}
	l.Init(header, n, proto, osi)
	return l
}

// sampleFrame is ethernet(4) ipv4(6) tcp(4) payload(5).
func sampleFrame() []byte {
	return []byte{
		0x04, 1, 0xE0, 0xE1,
		0x46, 2, 0xA0, 0xA1, 0xA2, 0xA3,
		0x04, 0, 0xC0, 0xC1,
		'h', 'e', 'l', 'l', 'o',
	}
}
