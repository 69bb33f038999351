package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/catalog/pkg/client"
	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	backendURL string
	slow       bool
	logLevel   string
}

// ProbeReport summarizes one probe run
type ProbeReport struct {
	TraceID  string `json:"trace_id"`
	Health   string `json:"health"`
	Database string `json:"database"`
	Products int    `json:"products"`
	Slow     string `json:"slow,omitempty"`
}

func newProbeCommand() *cobra.Command {
	opts := &probeOptions{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Call a running backend inside one trace",
		Long: `probe calls /health and /products (and optionally /slow) on a running
backend under a single root span, propagating the trace context, and prints
a JSON report carrying the trace id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	backend := os.Getenv("BACKEND_URL")
	if backend == "" {
		backend = "http://localhost:5000"
	}
	cmd.Flags().StringVar(&opts.backendURL, "backend-url", backend, "Backend base URL")
	cmd.Flags().BoolVar(&opts.slow, "slow", false, "Also call the slow endpoint")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for the probe's own logs")
	return cmd
}

func runProbe(ctx context.Context, opts *probeOptions, out, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := observability.NewLogger("probe", observability.ParseLogLevel(opts.logLevel), logOut)
	spans := observability.NewSpanManager(nil)
	c := client.New(opts.backendURL, spans, observability.NewPropagator(), logger)

	root := spans.StartSpan("probe", nil)
	defer root.Finish()
	ctx = observability.ContextWithSpan(ctx, root)

	report := ProbeReport{TraceID: root.TraceID().String()}

	health, err := c.Health(ctx)
	if err != nil {
		root.SetError()
		return fmt.Errorf("health check failed: %w", err)
	}
	report.Health = health.Status
	report.Database = health.Database

	products, err := c.ListProducts(ctx)
	if err != nil {
		root.SetError()
		return fmt.Errorf("listing products failed: %w", err)
	}
	report.Products = len(products)

	if opts.slow {
		result, err := c.Slow(ctx)
		if err != nil {
			root.SetError()
			return fmt.Errorf("slow call failed: %w", err)
		}
		report.Slow = result.Message
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
