package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/compute-mcp-server/configs"
)

type flags struct {
	transport       string
	profile         string
	embeddedProfile string
	logLevel        string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "compute-mcp-server",
		Short:         "MCP server that evaluates code in an external computation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.transport, "transport", "", "Transport: stdio or http (overrides COMPUTE_MCP_TRANSPORT)")
	cmd.Flags().StringVar(&f.profile, "profile", "", "Engine profile YAML path (overrides COMPUTE_MCP_PROFILE)")
	cmd.Flags().StringVar(&f.embeddedProfile, "embedded-profile", "", "Use an embedded profile from configs/ (filename)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides COMPUTE_MCP_LOG_LEVEL)")
	cmd.MarkFlagsMutuallyExclusive("profile", "embedded-profile")

	cmd.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List embedded engine profiles",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range configs.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	})
	return cmd
}
