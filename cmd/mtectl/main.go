package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "127.0.0.1:6200"

type rootFlags struct {
	server  string
	apiKey  string
	timeout time.Duration
	output  string
}

func (f *rootFlags) client() *gatewayClient {
	return newGatewayClient(f.server, f.apiKey, f.timeout)
}

func (f *rootFlags) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), f.timeout)
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "mtectl",
		Short: "Command-line client for the Mte gateway",
		Long: `mtectl talks to a running mte-gateway over its REST API: configure the
instrument target, read instantaneous values, set up loads and drive
meter error tests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.server, "server", "s", envOr("MTECTL_SERVER", defaultServer), "Gateway address (host:port or URL)")
	pf.StringVar(&flags.apiKey, "api-key", os.Getenv("MTECTL_API_KEY"), "API key sent as X-API-Key")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Second, "Request timeout")
	pf.StringVarP(&flags.output, "output", "o", "json", "Output format: json|yaml")

	rootCmd.AddCommand(newSetCmd(flags))
	rootCmd.AddCommand(newGetCmd(flags))
	rootCmd.AddCommand(newReadCmd(flags))
	rootCmd.AddCommand(newDeviceCmd(flags))
	rootCmd.AddCommand(newLoadCmd(flags))
	rootCmd.AddCommand(newTestCmd(flags))
	rootCmd.AddCommand(newSampleCmd(flags))
	rootCmd.AddCommand(newOpLogCmd(flags))
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
