package cli

import (
	"github.com/spf13/cobra"
)

// Version is the build version, set by main
var Version = "dev"

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "catalog",
		Short: "catalog - product catalog service",
		Long: `catalog serves a product catalog over HTTP with tracing, structured
logs, Prometheus metrics and dependency health.

Configuration is read from the environment (PORT, DATABASE_URL, REDIS_URL,
JAEGER_AGENT_HOST, LOG_LEVEL, ...).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newInitDBCommand())
	root.AddCommand(newProbeCommand())

	return root
}
