// Package pcap writes packets to pcap and pcapng capture files.
package pcap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/pktedit/internal/metrics"
	"firestige.xyz/pktedit/pkg/packet"
)

// Format is the capture file format written by a Sink.
type Format int

const (
	FormatPcap Format = iota
	FormatPcapNG
)

// ParseFormat resolves "pcap" or "pcapng". An empty name means pcap.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "", "pcap":
		return FormatPcap, nil
	case "pcapng":
		return FormatPcapNG, nil
	}
	return 0, fmt.Errorf("unknown capture format %q", name)
}

// FormatForPath picks pcapng for .pcapng files and pcap otherwise.
func FormatForPath(path string) Format {
	if strings.HasSuffix(strings.ToLower(path), ".pcapng") {
		return FormatPcapNG
	}
	return FormatPcap
}

type packetWriter interface {
	WritePacket(ci gopacket.CaptureInfo, data []byte) error
}

// Sink writes packets of one link type.
type Sink struct {
	f       *os.File
	bw      *bufio.Writer
	w       packetWriter
	ng      *pcapgo.NgWriter
	link    packet.LinkLayerType
	snaplen int
	written uint64
}

// Create creates path and writes the file header.
func Create(path string, format Format, link packet.LinkLayerType, snaplen int) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file %s: %w", path, err)
	}
	s, err := NewWriterSink(f, format, link, snaplen)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.f = f
	return s, nil
}

// NewWriterSink writes a capture to w, which the caller keeps ownership of.
func NewWriterSink(w io.Writer, format Format, link packet.LinkLayerType, snaplen int) (*Sink, error) {
	if !packet.IsLinkTypeValid(link) {
		return nil, fmt.Errorf("write %s capture: %w", link, packet.ErrUnsupportedLinkType)
	}
	if snaplen <= 0 {
		snaplen = 65535
	}
	s := &Sink{bw: bufio.NewWriter(w), link: link, snaplen: snaplen}

	switch format {
	case FormatPcapNG:
		ng, err := pcapgo.NewNgWriter(s.bw, link.LinkType())
		if err != nil {
			return nil, fmt.Errorf("failed to write pcapng header: %w", err)
		}
		s.w, s.ng = ng, ng
	default:
		pw := pcapgo.NewWriter(s.bw)
		if err := pw.WriteFileHeader(uint32(snaplen), link.LinkType()); err != nil {
			return nil, fmt.Errorf("failed to write pcap header: %w", err)
		}
		s.w = pw
	}
	return s, nil
}

// Write appends the bytes of p. Data beyond the snap length is cut off while
// the original frame length is kept.
func (s *Sink) Write(p *packet.Packet) error {
	raw := p.RawPacket()
	if raw == nil || !raw.IsSet() {
		return fmt.Errorf("write packet: %w", packet.ErrNullPacket)
	}
	return s.WriteRaw(raw)
}

// WriteRaw appends the bytes of raw.
func (s *Sink) WriteRaw(raw *packet.RawPacket) error {
	if raw.LinkLayerType() != s.link {
		return fmt.Errorf("write %s packet to %s capture: %w", raw.LinkLayerType(), s.link, packet.ErrUnsupportedLinkType)
	}
	data := raw.Data()
	length := max(raw.FrameLength(), len(data))
	if len(data) > s.snaplen {
		data = data[:s.snaplen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     raw.Timestamp(),
		CaptureLength: len(data),
		Length:        length,
	}
	if err := s.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	s.written++
	metrics.PacketsWrittenTotal.Inc()
	metrics.BytesWrittenTotal.Add(float64(len(data)))
	return nil
}

// Written returns the number of packets written.
func (s *Sink) Written() uint64 { return s.written }

// Flush writes buffered packets to the underlying writer.
func (s *Sink) Flush() error {
	if s.ng != nil {
		if err := s.ng.Flush(); err != nil {
			return err
		}
	}
	return s.bw.Flush()
}

// Close flushes the sink and closes the file if the sink created it.
func (s *Sink) Close() error {
	err := s.Flush()
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
		s.f = nil
	}
	return err
}
