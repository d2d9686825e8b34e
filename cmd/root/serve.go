package root

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/usagebeacon/beacon/pkg/server"
	"github.com/usagebeacon/beacon/pkg/telemetry"
)

type serveFlags struct {
	listenAddr string
	dbPath     string
	apiKey     string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the collector server",
		Long:    "Start the HTTP collector that receives uploaded counter batches and serves aggregate statistics",
		GroupID: "advanced",
		Args:    cobra.NoArgs,
		RunE:    flags.runServeCommand,
	}

	cmd.Flags().StringVarP(&flags.listenAddr, "listen", "l", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&flags.dbPath, "db", "rollup.db", "Path to the rollup database")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", os.Getenv("BEACON_API_KEY"), "Require this API key on uploads (default: $BEACON_API_KEY)")

	return cmd
}

func (f *serveFlags) runServeCommand(cmd *cobra.Command, _ []string) error {
	telemetry.LogUsageEvent("cli", "serve")

	ctx := cmd.Context()

	rollup, err := server.NewRollupStore(f.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open rollup database: %w", err)
	}
	defer rollup.Close()

	var opts []server.Option
	if f.apiKey != "" {
		opts = append(opts, server.WithAPIKey(f.apiKey))
	}
	s := server.New(rollup, opts...)

	ln, err := net.Listen("tcp", f.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", f.listenAddr, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Collector listening on %s\n", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ln)
	})

	if err := g.Wait(); err != nil {
		return RuntimeError{Err: err}
	}
	return nil
}
