// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/pktedit/internal/config"
	"firestige.xyz/pktedit/internal/log"
	"firestige.xyz/pktedit/internal/metrics"
)

// Version is set at build time with -ldflags "-X firestige.xyz/pktedit/cmd.Version=...".
var Version = "0.1.0"

var (
	// Global flags
	configFile string
	logLevel   string

	cfg           *config.Config
	metricsServer *metrics.Server
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pktedit",
	Short: "pktedit - inspect and edit captured packets",
	Long: `pktedit reads pcap and pcapng captures, decodes every packet into a chain
of protocol layers (Ethernet, Linux SLL, loopback, 802.1Q, ARP, IPv4, IPv6,
TCP, UDP, ICMP) and edits those layers in place.

Commands:
  - inspect: print the decoded layers of each packet
  - edit:    apply a YAML edit script to each packet and write the result`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log level (debug/info/warn/error)")

	// Add subcommands
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration, initializes logging and starts the metrics
// server when enabled.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
		if err := c.ValidateAndApplyDefaults(); err != nil {
			return err
		}
	}
	if err := log.Init(c.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	cfg = c

	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := metricsServer.Start(cmd.Context()); err != nil {
			return err
		}
	}
	slog.Debug("configuration loaded", "file", configFile, "policy", cfg.Buffer.Policy, "allocator", cfg.Buffer.Allocator)
	return nil
}

func teardown(ctx context.Context) error {
	if metricsServer != nil {
		if err := metricsServer.Stop(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("metrics server stop failed", "error", err)
		}
		metricsServer = nil
	}
	return log.Close()
}

// fail releases global resources and exits through exitWithError.
func fail(cmd *cobra.Command, msg string, err error) {
	if terr := teardown(cmd.Context()); terr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", terr)
	}
	exitWithError(msg, err)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
