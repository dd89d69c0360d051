// Package file reads packets from pcap and pcapng capture files.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/pktedit/internal/filter"
	"firestige.xyz/pktedit/internal/metrics"
	"firestige.xyz/pktedit/pkg/packet"
)

// pcapng files start with a section header block.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Config configures a file source.
type Config struct {
	Path    string
	Filter  string // BPF expression, empty = accept all
	Snaplen int
	// RawOptions are applied to every RawPacket the source returns.
	RawOptions []packet.RawOption
}

// Source yields the packets of one capture file.
type Source struct {
	path     string
	file     *os.File
	reader   packetReader
	link     packet.LinkLayerType
	filter   *filter.BPF
	rawOpts  []packet.RawOption
	read     uint64
	filtered uint64
}

// Open opens cfg.Path and reads its file header. The link type of the file
// must be one packet can decode.
func Open(cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file source requires a path")
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", cfg.Path, err)
	}
	s, err := newSource(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// NewReaderSource reads a capture from r, which the caller keeps ownership of.
func NewReaderSource(r io.Reader, cfg Config) (*Source, error) {
	return newSource(r, cfg)
}

func newSource(r io.Reader, cfg Config) (*Source, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(ngMagic))
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var reader packetReader
	if bytes.Equal(magic, ngMagic) {
		reader, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		reader, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	link, err := packet.FromLinkType(reader.LinkType())
	if err != nil {
		return nil, err
	}

	s := &Source{
		path:    cfg.Path,
		reader:  reader,
		link:    link,
		rawOpts: cfg.RawOptions,
	}
	if cfg.Filter != "" {
		s.filter, err = filter.Compile(cfg.Filter, link, cfg.Snaplen)
		if err != nil {
			return nil, err
		}
	}

	slog.Debug("capture file opened", "path", cfg.Path, "link", link, "filter", cfg.Filter)
	return s, nil
}

// LinkLayerType returns the link type of the capture.
func (s *Source) LinkLayerType() packet.LinkLayerType { return s.link }

// Next returns the next packet that passes the filter, or io.EOF at the end
// of the capture. The packet owns a copy of the captured bytes.
func (s *Source) Next(ctx context.Context) (*packet.RawPacket, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read packet %d: %w", s.read+1, err)
		}
		s.read++
		metrics.PacketsReadTotal.WithLabelValues(s.link.String()).Inc()

		if s.filter != nil && !s.filter.Matches(data) {
			s.filtered++
			metrics.PacketsFilteredTotal.Inc()
			continue
		}

		opts := append([]packet.RawOption{packet.WithFrameLength(frameLength(ci, len(data)))}, s.rawOpts...)
		return packet.CopyRawPacket(data, ci.Timestamp, s.link, opts...)
	}
}

// Stats returns how many packets were read and how many the filter dropped.
func (s *Source) Stats() (read, filtered uint64) {
	return s.read, s.filtered
}

// Close closes the capture file if the source opened it.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func frameLength(ci gopacket.CaptureInfo, captured int) int {
	if ci.Length > captured {
		return ci.Length
	}
	return captured
}
