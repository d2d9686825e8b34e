package root

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/usagebeacon/beacon/pkg/consent"
	"github.com/usagebeacon/beacon/pkg/counter"
	"github.com/usagebeacon/beacon/pkg/paths"
	"github.com/usagebeacon/beacon/pkg/telemetry"
	"github.com/usagebeacon/beacon/pkg/uploader"
	"github.com/usagebeacon/beacon/pkg/version"
)

type uploadFlags struct {
	endpoint string
}

func newUploadCmd() *cobra.Command {
	var flags uploadFlags

	cmd := &cobra.Command{
		Use:     "upload",
		Short:   "Upload pending counters to the collector now",
		Long:    "Send all locally aggregated usage counters to the collector, bypassing the weekly schedule. A standing \"no\" consent still blocks the upload.",
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE:    flags.runUploadCommand,
	}

	cmd.Flags().StringVar(&flags.endpoint, "endpoint", "", "Collector endpoint (default: $BEACON_ENDPOINT or the built-in collector)")

	return cmd
}

func (f *uploadFlags) runUploadCommand(cmd *cobra.Command, _ []string) error {
	telemetry.LogUsageEvent("cli", "upload")

	policy, err := consent.Load()
	if err != nil {
		return fmt.Errorf("failed to load consent policy: %w", err)
	}

	store, err := counter.NewSQLiteStore(filepath.Join(paths.GetDataDir(), "usage.db"))
	if err != nil {
		return fmt.Errorf("failed to open usage counter store: %w", err)
	}
	defer store.Close()

	var opts []uploader.Option
	if f.endpoint != "" {
		opts = append(opts, uploader.WithEndpoint(f.endpoint))
	}

	client := telemetry.GetGlobalTelemetryClient()
	u := uploader.New(slog.Default(), store, policy, client.InstallUUID(), version.Version, opts...)

	if err := u.UploadNow(cmd.Context()); err != nil {
		if errors.Is(err, uploader.ErrUploadRefused) {
			fmt.Fprintln(cmd.ErrOrStderr(), `Uploads are disabled. Run "beacon consent upload ask" to re-enable.`)
			return RuntimeError{Err: err}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Upload failed: %v\n", err)
		return RuntimeError{Err: err}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Upload complete")
	return nil
}
