package packet

import (
	"errors"
	"fmt"
	"time"

	"firestige.xyz/pktedit/pkg/alloc"
	"firestige.xyz/pktedit/pkg/buffer"
)

// RawPacket is captured bytes plus the metadata needed to decode them.
//
// FrameLength is the length of the frame on the wire and may exceed Len for
// truncated captures. A RawPacket is set once real data has been attached,
// whether it owns that data or borrows it.
type RawPacket struct {
	buf         buffer.Buffer
	timestamp   time.Time
	linkType    LinkLayerType
	frameLength int
	isSet       bool
}

type rawOptions struct {
	allocator   alloc.Allocator
	policy      buffer.Policy
	frameLength int
}

// RawOption configures a new RawPacket.
type RawOption func(*rawOptions)

// WithAllocator sets the allocator of the packet buffer.
func WithAllocator(a alloc.Allocator) RawOption {
	return func(o *rawOptions) {
		o.allocator = a
	}
}

// WithPolicy sets the growth policy of the packet buffer. The default is
// buffer.PolicyLegacy.
func WithPolicy(p buffer.Policy) RawOption {
	return func(o *rawOptions) {
		o.policy = p
	}
}

// WithFrameLength records the original frame length of a truncated capture.
func WithFrameLength(n int) RawOption {
	return func(o *rawOptions) {
		o.frameLength = n
	}
}

func newRawBuffer(opts []RawOption) (buffer.Buffer, rawOptions) {
	o := rawOptions{policy: buffer.PolicyLegacy, frameLength: -1}
	for _, opt := range opts {
		opt(&o)
	}
	var bopts []buffer.Option
	if o.allocator != nil {
		bopts = append(bopts, buffer.WithAllocator(o.allocator))
	}
	return buffer.New(o.policy, bopts...), o
}

// NewRawPacket wraps data. With owns set, the packet frees data through its
// allocator when it is closed; otherwise data must outlive the packet. An
// empty data yields a RawPacket that is not set.
func NewRawPacket(data []byte, ts time.Time, owns bool, linkType LinkLayerType, opts ...RawOption) (*RawPacket, error) {
	buf, o := newRawBuffer(opts)
	r := &RawPacket{buf: buf, linkType: linkType, timestamp: ts}
	if len(data) == 0 {
		return r, nil
	}
	if err := buf.Reset(data, len(data), owns); err != nil {
		return nil, err
	}
	r.frameLength = frameLengthOr(o.frameLength, len(data))
	r.isSet = true
	return r, nil
}

// CopyRawPacket copies data into a buffer drawn from the configured
// allocator. Use it for bytes owned by someone else, such as a capture
// reader.
func CopyRawPacket(data []byte, ts time.Time, linkType LinkLayerType, opts ...RawOption) (*RawPacket, error) {
	buf, o := newRawBuffer(opts)
	r := &RawPacket{buf: buf, linkType: linkType, timestamp: ts}
	if len(data) == 0 {
		return r, nil
	}
	if err := buf.Reserve(len(data)); err != nil {
		return nil, fmt.Errorf("copy %d byte packet: %w", len(data), err)
	}
	if err := buf.Append(data, len(data)); err != nil {
		return nil, fmt.Errorf("copy %d byte packet: %w", len(data), err)
	}
	r.frameLength = frameLengthOr(o.frameLength, len(data))
	r.isSet = true
	return r, nil
}

// NewEmptyRawPacket returns a set RawPacket with no bytes and room for
// capacity bytes.
func NewEmptyRawPacket(capacity int, linkType LinkLayerType, opts ...RawOption) (*RawPacket, error) {
	buf, _ := newRawBuffer(opts)
	if err := buf.Reserve(capacity); err != nil {
		return nil, fmt.Errorf("reserve %d byte packet: %w", capacity, err)
	}
	return &RawPacket{buf: buf, linkType: linkType, timestamp: time.Now(), isSet: true}, nil
}

func frameLengthOr(frameLength, n int) int {
	if frameLength < 0 {
		return n
	}
	return frameLength
}

// SetRawData frees the current data if owned and takes ownership of data
// without copying it. A frameLength of -1 means len(data).
func (r *RawPacket) SetRawData(data []byte, ts time.Time, linkType LinkLayerType, frameLength int) error {
	if len(data) == 0 {
		return fmt.Errorf("set empty raw data: %w", ErrInvalidArgument)
	}
	if err := r.buf.Reset(data, len(data), true); err != nil {
		return err
	}
	r.timestamp = ts
	r.linkType = linkType
	r.frameLength = frameLengthOr(frameLength, len(data))
	r.isSet = true
	return nil
}

// Data returns the packet bytes. The slice is invalidated by any edit.
func (r *RawPacket) Data() []byte                 { return r.buf.Bytes() }
func (r *RawPacket) Len() int                     { return r.buf.Len() }
func (r *RawPacket) FrameLength() int             { return r.frameLength }
func (r *RawPacket) Timestamp() time.Time         { return r.timestamp }
func (r *RawPacket) LinkLayerType() LinkLayerType { return r.linkType }
func (r *RawPacket) IsSet() bool                  { return r.isSet }
func (r *RawPacket) IsOwning() bool               { return r.buf.IsOwning() }

func (r *RawPacket) SetTimestamp(ts time.Time) {
	r.timestamp = ts
}

func (r *RawPacket) SetLinkLayerType(t LinkLayerType) {
	r.linkType = t
}

// Buffer exposes the underlying buffer for inspection. Editing it directly
// bypasses frame length bookkeeping.
func (r *RawPacket) Buffer() buffer.Buffer { return r.buf }

// AppendData appends src to the packet.
func (r *RawPacket) AppendData(src []byte) error {
	return r.edit(r.buf.Append(src, len(src)))
}

// InsertData inserts src at offset.
func (r *RawPacket) InsertData(at int, src []byte) error {
	return r.edit(r.buf.Insert(at, src, len(src)))
}

// InsertFill inserts n copies of fill at offset.
func (r *RawPacket) InsertFill(at, n int, fill byte) error {
	return r.edit(r.buf.InsertFill(at, n, fill))
}

// RemoveData removes n bytes at offset.
func (r *RawPacket) RemoveData(at, n int) error {
	return r.edit(r.buf.Remove(at, n))
}

// edit keeps FrameLength in step with the buffer after a successful edit and
// drops the set flag when an allocation failure lost the data.
func (r *RawPacket) edit(err error) error {
	if err != nil {
		if errors.Is(err, ErrAllocationFailure) {
			r.isSet = false
			r.frameLength = 0
		}
		return err
	}
	r.frameLength = r.buf.Len()
	return nil
}

// ReallocateData makes room for n bytes. It never shrinks the packet.
func (r *RawPacket) ReallocateData(n int) error {
	if n < r.buf.Len() {
		return fmt.Errorf("shrink packet from %d to %d bytes: %w", r.buf.Len(), n, ErrInvalidArgument)
	}
	if err := r.buf.Reserve(n); err != nil {
		if errors.Is(err, ErrAllocationFailure) {
			r.isSet = false
			r.frameLength = 0
		}
		return err
	}
	return nil
}

// Clone returns a deep copy backed by a new owned buffer.
func (r *RawPacket) Clone() (*RawPacket, error) {
	buf, err := r.buf.Clone()
	if err != nil {
		return nil, err
	}
	return &RawPacket{
		buf:         buf,
		timestamp:   r.timestamp,
		linkType:    r.linkType,
		frameLength: r.frameLength,
		isSet:       r.isSet && !buf.IsNull(),
	}, nil
}

// Clear frees owned data and leaves the packet unset.
func (r *RawPacket) Clear() {
	r.buf.Free()
	r.frameLength = 0
	r.isSet = false
}

// Close releases owned data.
func (r *RawPacket) Close() {
	r.Clear()
}
