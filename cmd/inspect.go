package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pktedit/internal/config"
	"firestige.xyz/pktedit/internal/metrics"
	"firestige.xyz/pktedit/pkg/packet"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <capture>",
	Short: "Print the decoded layers of every packet in a capture",
	Long: `Decode every packet of a pcap or pcapng file and print one line per layer.

Parsing can stop at a protocol (the layer itself is kept) or above an OSI
layer, and packets can be selected with a tcpdump style filter.

Examples:
  pktedit inspect dump.pcap
  pktedit inspect dump.pcapng -f "udp and port 53" -n 10
  pktedit inspect dump.pcap --stop-protocol ipv4|ipv6`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		inspectOpts.input = args[0]
		if err := runInspect(cmd.Context(), cfg, inspectOpts, cmd.OutOrStdout()); err != nil {
			fail(cmd, fmt.Sprintf("failed to inspect %s", args[0]), err)
		}
	},
}

type inspectOptions struct {
	input        string
	filter       string
	stopProtocol string
	stopLayer    string
	count        int
}

var inspectOpts inspectOptions

func init() {
	inspectCmd.Flags().StringVarP(&inspectOpts.filter, "filter", "f", "",
		"capture filter, overrides capture.filter")
	inspectCmd.Flags().StringVar(&inspectOpts.stopProtocol, "stop-protocol", "",
		"stop parsing after this protocol, overrides parse.stop_protocol")
	inspectCmd.Flags().StringVar(&inspectOpts.stopLayer, "stop-layer", "",
		"stop parsing above this OSI layer, overrides parse.stop_layer")
	inspectCmd.Flags().IntVarP(&inspectOpts.count, "count", "n", 0,
		"stop after this many packets (0 = all)")
}

func runInspect(ctx context.Context, c *config.Config, opts inspectOptions, w io.Writer) error {
	parseOpts, err := parseOptions(c, opts.stopProtocol, opts.stopLayer)
	if err != nil {
		return err
	}
	src, err := openSource(c, opts.input, opts.filter)
	if err != nil {
		return err
	}
	defer src.Close()

	shown := 0
	for opts.count <= 0 || shown < opts.count {
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		start := time.Now()
		p := packet.NewFromRaw(raw, true, parseOpts...)
		metrics.RecordLayers(p)
		shown++
		fmt.Fprintf(w, "#%d %s\n\n", shown, p)
		p.Close()
		metrics.PacketProcessSeconds.WithLabelValues("inspect").Observe(time.Since(start).Seconds())
	}

	read, filtered := src.Stats()
	fmt.Fprintf(w, "%d packet(s) shown, %d read, %d filtered\n", shown, read, filtered)
	return nil
}
