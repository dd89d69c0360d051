package packet

import "fmt"

// Layer is a view of one protocol header inside a packet.
//
// Implementations embed LayerBase, which holds the view and the chain links
// and which only the owning Packet moves. A layer sees its own header plus
// every byte after it; HeaderLen bounds the header part.
type Layer interface {
	HeaderLen() int
	Protocol() ProtocolType
	OsiModelLayer() OsiModelLayer

	// ParseNextLayer decodes the layer following this one from its payload,
	// or returns nil when there is nothing more to decode.
	ParseNextLayer() Layer
	// ComputeCalculatedFields fixes lengths and checksums in the header.
	ComputeCalculatedFields()
	String() string

	Data() []byte
	Header() []byte
	LayerPayload() []byte
	Offset() int
	Prev() Layer
	Next() Layer
	Packet() *Packet
	IsAttached() bool

	base() *LayerBase
}

// LayerBase carries the state shared by every layer.
type LayerBase struct {
	data      []byte
	offset    int
	headerLen int
	protocol  ProtocolType
	osi       OsiModelLayer

	prev, next Layer
	packet     *Packet
	// allocated marks layers created by the packet's own parser.
	allocated bool
}

// Init sets up a detached layer over data. headerLen is clamped to len(data).
// Attached layers are left untouched.
func (l *LayerBase) Init(data []byte, headerLen int, proto ProtocolType, osi OsiModelLayer) {
	if l.packet != nil {
		return
	}
	if headerLen > len(data) {
		headerLen = len(data)
	}
	if headerLen < 0 {
		headerLen = 0
	}
	l.data = data
	l.headerLen = headerLen
	l.protocol = proto
	l.osi = osi
}

func (l *LayerBase) base() *LayerBase { return l }

func (l *LayerBase) HeaderLen() int               { return l.headerLen }
func (l *LayerBase) Protocol() ProtocolType       { return l.protocol }
func (l *LayerBase) OsiModelLayer() OsiModelLayer { return l.osi }
func (l *LayerBase) Data() []byte                 { return l.data }
func (l *LayerBase) Offset() int                  { return l.offset }
func (l *LayerBase) Prev() Layer                  { return l.prev }
func (l *LayerBase) Next() Layer                  { return l.next }
func (l *LayerBase) Packet() *Packet              { return l.packet }
func (l *LayerBase) IsAttached() bool             { return l.packet != nil }

// Header returns the header bytes of the layer.
func (l *LayerBase) Header() []byte {
	return l.data[:l.headerLen]
}

// LayerPayload returns every byte after the header.
func (l *LayerBase) LayerPayload() []byte {
	return l.data[l.headerLen:]
}

// detach cuts the layer loose from its packet. header becomes its private
// copy of the header bytes.
func (l *LayerBase) detach(header []byte) {
	l.data = header
	l.offset = 0
	l.prev = nil
	l.next = nil
	l.packet = nil
	l.allocated = false
}

// destroy drops every reference held by a packet-owned layer.
func (l *LayerBase) destroy() {
	l.data = nil
	l.offset = 0
	l.headerLen = 0
	l.prev = nil
	l.next = nil
	l.packet = nil
	l.allocated = false
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

// PayloadLayer holds the undecoded tail of a packet.
type PayloadLayer struct {
	LayerBase
}

// NewPayloadLayer returns a detached payload layer holding a copy of data.
func NewPayloadLayer(data []byte) *PayloadLayer {
	p := &PayloadLayer{}
	p.Init(cloneBytes(data), len(data), GenericPayload, OsiApplication)
	return p
}

func decodePayload(data []byte) (Layer, error) {
	p := &PayloadLayer{}
	p.Init(data, len(data), GenericPayload, OsiApplication)
	return p, nil
}

func (p *PayloadLayer) ParseNextLayer() Layer    { return nil }
func (p *PayloadLayer) ComputeCalculatedFields() {}

func (p *PayloadLayer) String() string {
	return fmt.Sprintf("Payload Layer, Data length: %d [Bytes]", p.HeaderLen())
}
