package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pktedit/internal/config"
	"firestige.xyz/pktedit/internal/editscript"
	"firestige.xyz/pktedit/internal/metrics"
	"firestige.xyz/pktedit/internal/sink/pcap"
	"firestige.xyz/pktedit/pkg/packet"
)

var editCmd = &cobra.Command{
	Use:   "edit <input> <output>",
	Short: "Apply an edit script to every packet of a capture",
	Long: `Apply a YAML edit script to every packet of a pcap or pcapng file and write
the edited packets to a new capture.

Supported ops: ` + fmt.Sprint(editscript.Ops()) + `

The output format follows the output file extension (.pcapng writes pcapng)
unless --format is given. The output link type is taken from the first edited
packet, so strip_to ip turns an Ethernet capture into a raw IP one.

Examples:
  pktedit edit in.pcap out.pcap -s strip-vlan.yaml
  pktedit edit in.pcapng out.pcapng -s script.yaml -f "tcp and port 80"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		editOpts.input, editOpts.output = args[0], args[1]
		if err := runEdit(cmd.Context(), cfg, editOpts, cmd.OutOrStdout()); err != nil {
			fail(cmd, fmt.Sprintf("failed to edit %s", args[0]), err)
		}
	},
}

type editOptions struct {
	input   string
	output  string
	script  string
	filter  string
	format  string
	snaplen int
}

var editOpts editOptions

func init() {
	editCmd.Flags().StringVarP(&editOpts.script, "script", "s", "",
		"edit script file (required)")
	editCmd.Flags().StringVarP(&editOpts.filter, "filter", "f", "",
		"capture filter, overrides capture.filter")
	editCmd.Flags().StringVar(&editOpts.format, "format", "",
		"output format: pcap or pcapng (default from the output extension)")
	editCmd.Flags().IntVar(&editOpts.snaplen, "snaplen", 0,
		"output snap length, overrides capture.snaplen")
	editCmd.MarkFlagRequired("script")
}

// editStats summarizes one edit run.
type editStats struct {
	read, filtered, written, dropped uint64
}

func runEdit(ctx context.Context, c *config.Config, opts editOptions, w io.Writer) error {
	script, err := editscript.Load(opts.script)
	if err != nil {
		return err
	}
	format := pcap.FormatForPath(opts.output)
	if opts.format != "" {
		if format, err = pcap.ParseFormat(opts.format); err != nil {
			return err
		}
	}
	snaplen := c.Capture.Snaplen
	if opts.snaplen > 0 {
		snaplen = opts.snaplen
	}
	parseOpts, err := c.Parse.Options()
	if err != nil {
		return err
	}

	src, err := openSource(c, opts.input, opts.filter)
	if err != nil {
		return err
	}
	defer src.Close()

	var (
		out   *pcap.Sink
		stats editStats
		n     int
	)
	defer func() {
		if out != nil {
			if err := out.Close(); err != nil {
				slog.Error("failed to close output", "path", opts.output, "error", err)
			}
		}
	}()

	for {
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		n++
		start := time.Now()
		p := packet.NewFromRaw(raw, true, parseOpts...)
		if err := script.Apply(p); err != nil {
			switch script.OnError {
			case editscript.OnErrorAbort:
				p.Close()
				return err
			case editscript.OnErrorDrop:
				slog.Warn("packet dropped", "packet", n, "error", err)
				stats.dropped++
				p.Close()
				continue
			default:
				slog.Warn("packet kept partially edited", "packet", n, "error", err)
			}
		}

		if out == nil {
			link := p.RawPacket().LinkLayerType()
			if out, err = pcap.Create(opts.output, format, link, snaplen); err != nil {
				p.Close()
				return err
			}
		}
		err = out.Write(p)
		p.Close()
		if err != nil {
			return err
		}
		stats.written++
		metrics.PacketProcessSeconds.WithLabelValues("edit").Observe(time.Since(start).Seconds())
	}

	// An empty result still gets a valid file header.
	if out == nil {
		if out, err = pcap.Create(opts.output, format, src.LinkLayerType(), snaplen); err != nil {
			return err
		}
	}

	err = out.Close()
	out = nil
	if err != nil {
		return fmt.Errorf("failed to close output %s: %w", opts.output, err)
	}

	stats.read, stats.filtered = src.Stats()
	fmt.Fprintf(w, "%d read, %d filtered, %d written, %d dropped\n",
		stats.read, stats.filtered, stats.written, stats.dropped)
	return nil
}
