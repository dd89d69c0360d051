package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"firestige.xyz/pktedit/internal/editscript"
	"firestige.xyz/pktedit/pkg/buffer"
	"firestige.xyz/pktedit/pkg/packet"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "pktedit %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "Layers:   %s\n", packet.RegisteredProtocols())
	fmt.Fprintf(w, "Policies: %s, %s, %s, %s\n",
		buffer.PolicyLegacy, buffer.PolicyAmortized, buffer.PolicyExactFit, buffer.PolicyFixed)
	fmt.Fprintf(w, "Edit ops: %v\n", editscript.Ops())
}
