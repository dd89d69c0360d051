// Package packet edits captured packets in place.
//
// A Packet owns a RawPacket and a doubly linked chain of Layer views over the
// RawPacket's single buffer. Structural edits (inserting, removing, extending
// or shortening a layer) mutate the buffer and then walk the whole chain again
// so that every layer starts where the previous header ends. The first layer
// always starts at offset 0.
//
// Layers created by parsing belong to the packet. Layers the caller attaches
// remain the caller's: removing them detaches them with a private copy of
// their header.
//
// Protocol decoders register themselves with RegisterLayer; import
// firestige.xyz/pktedit/pkg/layers for the built-in set.
package packet

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const timeLayout = "2006-01-02 15:04:05.000000000"

// Option configures parsing of a new Packet.
type Option func(*Packet)

// WithStopProtocol stops parsing after the first layer of proto. The layer
// itself is kept.
func WithStopProtocol(proto ProtocolType) Option {
	return func(p *Packet) {
		p.stopProto = proto
	}
}

// WithStopLayer stops parsing before the first layer above osi. That layer is
// decoded and then discarded.
func WithStopLayer(osi OsiModelLayer) Option {
	return func(p *Packet) {
		p.stopOsi = osi
	}
}

// Packet is a RawPacket plus its chain of layers.
//
// A Packet is not safe for concurrent use. Hand it to another goroutine with
// Move.
type Packet struct {
	raw     *RawPacket
	freeRaw bool

	first, last Layer
	protocols   ProtocolType

	stopProto ProtocolType
	stopOsi   OsiModelLayer
}

// New returns an empty packet with room for maxLen bytes, to be built up
// with AddLayer.
func New(maxLen int, opts ...RawOption) (*Packet, error) {
	raw, err := NewEmptyRawPacket(maxLen, LinkEthernet, opts...)
	if err != nil {
		return nil, err
	}
	return &Packet{raw: raw, freeRaw: true}, nil
}

// NewFromRaw wraps raw and parses its layers. With freeRaw set, Close closes
// raw as well.
func NewFromRaw(raw *RawPacket, freeRaw bool, opts ...Option) *Packet {
	p := &Packet{}
	for _, opt := range opts {
		opt(p)
	}
	p.SetRawPacket(raw, freeRaw)
	return p
}

// SetRawPacket drops the current chain, releases the current raw packet if
// owned, and parses raw with the packet's stop limits.
func (p *Packet) SetRawPacket(raw *RawPacket, freeRaw bool) {
	p.clearChain()
	if p.raw != nil && p.raw != raw && p.freeRaw {
		p.raw.Close()
	}
	p.raw = raw
	p.freeRaw = freeRaw
	if raw != nil {
		p.parse()
	}
}

// ParseLayers re-parses the packet from scratch with new stop limits. Any
// caller-owned layer in the chain is detached first.
func (p *Packet) ParseLayers(stopProto ProtocolType, stopOsi OsiModelLayer) {
	p.stopProto = stopProto
	p.stopOsi = stopOsi
	p.clearChain()
	p.parse()
}

func (p *Packet) osiLimit() OsiModelLayer {
	if p.stopOsi == 0 {
		return OsiUnknown
	}
	return p.stopOsi
}

func (p *Packet) stopsAt(l Layer) bool {
	return p.stopProto != UnknownProtocol && l.Protocol()&p.stopProto != 0
}

func (p *Packet) parse() {
	if p.raw == nil || !p.raw.IsSet() {
		return
	}
	limit := p.osiLimit()

	first := decodeFirstLayer(p.raw.LinkLayerType(), p.raw.Data())
	if first == nil || first.OsiModelLayer() > limit {
		return
	}
	p.appendParsed(first)
	for cur := first; !p.stopsAt(cur); {
		next := cur.ParseNextLayer()
		if next == nil || next.IsAttached() || next.OsiModelLayer() > limit {
			break
		}
		p.appendParsed(next)
		cur = next
	}
	p.rewalk()
}

func (p *Packet) appendParsed(l Layer) {
	lb := l.base()
	lb.packet = p
	lb.allocated = true
	lb.prev = p.last
	lb.next = nil
	if p.last != nil {
		p.last.base().next = l
	} else {
		p.first = l
	}
	p.last = l
	p.protocols |= lb.protocol
}

// relocate points l at window, which starts offset bytes into the buffer.
// It is the only place a layer's view changes.
func (p *Packet) relocate(l Layer, offset int, window []byte) {
	lb := l.base()
	lb.offset = offset
	lb.data = window
}

// rewalk lays the chain out again from offset 0.
func (p *Packet) rewalk() {
	data := p.raw.Data()
	offset := 0
	for l := p.first; l != nil; l = l.base().next {
		p.relocate(l, offset, data[offset:])
		offset += l.base().headerLen
	}
}

// contains reports whether l is reachable from this packet's first layer by
// walking back along prev links.
func (p *Packet) contains(l Layer) bool {
	if l == nil || l.base().packet != p {
		return false
	}
	for cur := l; cur != nil; cur = cur.base().prev {
		if cur == p.first {
			return true
		}
	}
	return false
}

func (p *Packet) carries(proto ProtocolType) bool {
	for l := p.first; l != nil; l = l.base().next {
		if l.Protocol()&proto != 0 {
			return true
		}
	}
	return false
}

// ensureCapacity reserves room for n more bytes when the buffer lacks slack.
func (p *Packet) ensureCapacity(n int) error {
	buf := p.raw.Buffer()
	if buf.Cap() >= buf.Len()+n {
		return nil
	}
	return p.raw.ReallocateData(buf.Len() + n)
}

func (p *Packet) checkEditable(op string) error {
	if p.raw == nil {
		return p.reject(op, ErrNullPacket)
	}
	return nil
}

func (p *Packet) reject(op string, err error) error {
	slog.Debug("packet edit rejected", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

// fail handles a failed buffer edit. Losing the buffer to an allocation
// failure also loses the chain.
func (p *Packet) fail(op string, err error) error {
	if errors.Is(err, ErrAllocationFailure) {
		p.clearChain()
	}
	return p.reject(op, err)
}

// AddLayer appends l after the last layer.
func (p *Packet) AddLayer(l Layer) error {
	return p.InsertLayer(p.last, l)
}

// InsertLayer inserts the header of a detached layer after prev, or at the
// front when prev is nil. The layer stays owned by the caller.
func (p *Packet) InsertLayer(prev, l Layer) error {
	const op = "insert layer"
	if err := p.checkEditable(op); err != nil {
		return err
	}
	if l == nil {
		return p.reject(op, ErrInvalidArgument)
	}
	lb := l.base()
	if lb.packet != nil {
		return p.reject(op, ErrLayerAttached)
	}
	if prev != nil && !p.contains(prev) {
		return p.reject(op, ErrLayerNotInPacket)
	}

	offset := 0
	if prev != nil {
		offset = prev.base().offset + prev.base().headerLen
	}
	header := lb.data[:lb.headerLen]
	if err := p.ensureCapacity(len(header)); err != nil {
		return p.fail(op, err)
	}
	if err := p.raw.InsertData(offset, header); err != nil {
		return p.fail(op, err)
	}

	lb.prev = prev
	if prev == nil {
		lb.next = p.first
		p.first = l
	} else {
		lb.next = prev.base().next
		prev.base().next = l
	}
	if lb.next != nil {
		lb.next.base().prev = l
	} else {
		p.last = l
	}
	lb.packet = p
	lb.allocated = false
	p.protocols |= lb.protocol

	p.rewalk()
	return nil
}

// RemoveLayer removes l and its header bytes. Parsed layers are destroyed;
// caller-owned layers are detached with a copy of their header.
func (p *Packet) RemoveLayer(l Layer) error {
	return p.removeLayer("remove layer", l, false)
}

// DetachLayer removes l like RemoveLayer but always hands it back to the
// caller, parsed or not.
func (p *Packet) DetachLayer(l Layer) (Layer, error) {
	if err := p.removeLayer("detach layer", l, true); err != nil {
		return nil, err
	}
	return l, nil
}

func (p *Packet) removeLayer(op string, l Layer, keep bool) error {
	if err := p.checkEditable(op); err != nil {
		return err
	}
	if l == nil {
		return p.reject(op, ErrInvalidArgument)
	}
	if !p.contains(l) {
		return p.reject(op, ErrLayerNotInPacket)
	}

	lb := l.base()
	header := cloneBytes(lb.Header())
	if err := p.raw.RemoveData(lb.offset, lb.headerLen); err != nil {
		return p.fail(op, err)
	}

	if lb.prev != nil {
		lb.prev.base().next = lb.next
	} else {
		p.first = lb.next
	}
	if lb.next != nil {
		lb.next.base().prev = lb.prev
	} else {
		p.last = lb.prev
	}
	p.rewalk()

	if !p.carries(lb.protocol) {
		p.protocols &^= lb.protocol
	}
	if lb.allocated && !keep {
		lb.destroy()
	} else {
		lb.detach(header)
	}
	return nil
}

// ExtendLayer inserts n zero bytes at offsetInLayer within the header of l.
func (p *Packet) ExtendLayer(l Layer, offsetInLayer, n int) error {
	const op = "extend layer"
	if err := p.checkLayerEdit(op, l); err != nil {
		return err
	}
	lb := l.base()
	if n < 0 || offsetInLayer < 0 || offsetInLayer > lb.headerLen {
		return p.reject(op, fmt.Errorf("%d bytes at %d of a %d byte header: %w", n, offsetInLayer, lb.headerLen, ErrInvalidArgument))
	}
	if n == 0 {
		return nil
	}
	if err := p.ensureCapacity(n); err != nil {
		return p.fail(op, err)
	}
	if err := p.raw.InsertFill(lb.offset+offsetInLayer, n, 0); err != nil {
		return p.fail(op, err)
	}
	lb.headerLen += n
	p.rewalk()
	return nil
}

// ShortenLayer removes n bytes at offsetInLayer within the header of l.
func (p *Packet) ShortenLayer(l Layer, offsetInLayer, n int) error {
	const op = "shorten layer"
	if err := p.checkLayerEdit(op, l); err != nil {
		return err
	}
	lb := l.base()
	if n < 0 || offsetInLayer < 0 || offsetInLayer+n > lb.headerLen {
		return p.reject(op, fmt.Errorf("%d bytes at %d of a %d byte header: %w", n, offsetInLayer, lb.headerLen, ErrInvalidArgument))
	}
	if n == 0 {
		return nil
	}
	if err := p.raw.RemoveData(lb.offset+offsetInLayer, n); err != nil {
		return p.fail(op, err)
	}
	lb.headerLen -= n
	p.rewalk()
	return nil
}

func (p *Packet) checkLayerEdit(op string, l Layer) error {
	if err := p.checkEditable(op); err != nil {
		return err
	}
	if l == nil {
		return p.reject(op, ErrInvalidArgument)
	}
	if !p.contains(l) {
		return p.reject(op, ErrLayerNotInPacket)
	}
	return nil
}

// clearChain empties the chain, destroying parsed layers and detaching
// caller-owned ones.
func (p *Packet) clearChain() {
	for l := p.first; l != nil; {
		lb := l.base()
		next := lb.next
		if lb.allocated {
			lb.destroy()
		} else {
			lb.detach(cloneBytes(lb.Header()))
		}
		l = next
	}
	p.first = nil
	p.last = nil
	p.protocols = UnknownProtocol
}

// Clone deep-copies the raw packet and parses the copy with the same stop
// limits. Layers are never shared between the two packets.
func (p *Packet) Clone() (*Packet, error) {
	c := &Packet{freeRaw: true, stopProto: p.stopProto, stopOsi: p.stopOsi}
	if p.raw == nil {
		return c, nil
	}
	raw, err := p.raw.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone packet: %w", err)
	}
	c.raw = raw
	c.parse()
	return c, nil
}

// Move transfers the raw packet and the chain to a new Packet and leaves p
// in the null state. No bytes are copied.
func (p *Packet) Move() *Packet {
	m := &Packet{}
	*m = *p
	for l := m.first; l != nil; l = l.base().next {
		l.base().packet = m
	}
	*p = Packet{}
	return m
}

// IsNullState reports whether p holds neither a raw packet nor layers.
func (p *Packet) IsNullState() bool {
	return p.raw == nil && p.first == nil && p.last == nil && p.protocols == UnknownProtocol
}

// Close empties the chain and closes the raw packet when p owns it.
func (p *Packet) Close() {
	p.clearChain()
	if p.raw != nil && p.freeRaw {
		p.raw.Close()
	}
	p.raw = nil
	p.freeRaw = false
}

func (p *Packet) RawPacket() *RawPacket   { return p.raw }
func (p *Packet) FirstLayer() Layer       { return p.first }
func (p *Packet) LastLayer() Layer        { return p.last }
func (p *Packet) Protocols() ProtocolType { return p.protocols }

// IsPacketOfType reports whether any layer carries one of the protocols in
// proto.
func (p *Packet) IsPacketOfType(proto ProtocolType) bool {
	return p.protocols&proto != 0
}

// Layer returns the first layer carrying proto, or nil.
func (p *Packet) Layer(proto ProtocolType) Layer {
	return p.NextLayerOfType(nil, proto)
}

// NextLayerOfType returns the first layer after after carrying proto. A nil
// after searches from the start.
func (p *Packet) NextLayerOfType(after Layer, proto ProtocolType) Layer {
	l := p.first
	if after != nil {
		l = after.Next()
	}
	for ; l != nil; l = l.Next() {
		if l.Protocol()&proto != 0 {
			return l
		}
	}
	return nil
}

// Layers returns the chain in order.
func (p *Packet) Layers() []Layer {
	var out []Layer
	for l := p.first; l != nil; l = l.Next() {
		out = append(out, l)
	}
	return out
}

// ComputeCalculatedFields fixes lengths and checksums from the last layer to
// the first, so that outer layers see the final inner bytes.
func (p *Packet) ComputeCalculatedFields() {
	for l := p.last; l != nil; l = l.Prev() {
		l.ComputeCalculatedFields()
	}
}

// ToStringList renders a summary line followed by one line per layer.
func (p *Packet) ToStringList() []string {
	if p.raw == nil {
		return []string{"Packet length: 0 [Bytes]"}
	}
	lines := []string{fmt.Sprintf("Packet length: %d [Bytes], Arrival time: %s",
		p.raw.Len(), p.raw.Timestamp().Format(timeLayout))}
	for l := p.first; l != nil; l = l.Next() {
		lines = append(lines, l.String())
	}
	return lines
}

func (p *Packet) String() string {
	return strings.Join(p.ToStringList(), "\n")
}
