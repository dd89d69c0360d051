package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/pktedit/internal/config"
	"firestige.xyz/pktedit/internal/source/file"
	"firestige.xyz/pktedit/pkg/alloc"
	"firestige.xyz/pktedit/pkg/buffer"
	"firestige.xyz/pktedit/pkg/packet"

	// Register the built-in protocol layers.
	_ "firestige.xyz/pktedit/pkg/layers"
)

var allocMetrics *alloc.Metrics

// rawOptions builds the buffer options of every packet read from a capture.
func rawOptions(c *config.Config) ([]packet.RawOption, error) {
	policy, err := c.Buffer.BufferPolicy()
	if err != nil {
		return nil, err
	}
	a, err := c.Buffer.NewAllocator()
	if err != nil {
		return nil, err
	}
	// Fixed buffers need the slot pool itself.
	if c.Metrics.Enabled && policy != buffer.PolicyFixed {
		if allocMetrics == nil {
			allocMetrics = alloc.NewMetrics(prometheus.DefaultRegisterer)
		}
		a = alloc.NewInstrumented(a, c.Buffer.Allocator, allocMetrics)
	}
	return []packet.RawOption{packet.WithPolicy(policy), packet.WithAllocator(a)}, nil
}

// parseOptions applies command line overrides to the configured parse limits.
func parseOptions(c *config.Config, stopProtocol, stopLayer string) ([]packet.Option, error) {
	pc := c.Parse
	if stopProtocol != "" {
		pc.StopProtocol = stopProtocol
	}
	if stopLayer != "" {
		pc.StopLayer = stopLayer
	}
	opts, err := pc.Options()
	if err != nil {
		return nil, fmt.Errorf("invalid parse limits: %w", err)
	}
	return opts, nil
}

// openSource opens path with the configured filter unless filterExpr
// overrides it.
func openSource(c *config.Config, path, filterExpr string) (*file.Source, error) {
	raw, err := rawOptions(c)
	if err != nil {
		return nil, err
	}
	if filterExpr == "" {
		filterExpr = c.Capture.Filter
	}
	return file.Open(file.Config{
		Path:       path,
		Filter:     filterExpr,
		Snaplen:    c.Capture.Snaplen,
		RawOptions: raw,
	})
}
