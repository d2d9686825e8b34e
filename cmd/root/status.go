package root

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/usagebeacon/beacon/pkg/consent"
	"github.com/usagebeacon/beacon/pkg/counter"
	"github.com/usagebeacon/beacon/pkg/paths"
	"github.com/usagebeacon/beacon/pkg/telemetry"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show the consent policy and pending counters",
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE:    runStatusCommand,
	}
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	telemetry.LogUsageEvent("cli", "status")

	out := cmd.OutOrStdout()

	policy, err := consent.Load()
	if err != nil {
		return fmt.Errorf("failed to load consent policy: %w", err)
	}

	fmt.Fprintf(out, "Telemetry enabled: %t\n", telemetry.GetTelemetryEnabled())
	fmt.Fprintf(out, "Default for new components: %s\n", allowLabel(policy.DefaultAllowed))
	fmt.Fprintf(out, "Upload: %s\n", policy.GetUpload())
	if last := policy.LastUploadTime(); !last.IsZero() {
		fmt.Fprintf(out, "Last upload: %s\n", last.Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintln(out, "Last upload: never")
	}

	states := policy.ComponentStates()
	if len(states) > 0 {
		fmt.Fprintln(out, "\nComponents:")
		names := make([]string, 0, len(states))
		for name := range states {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-30s %s\n", name, states[name])
		}
	}

	store, err := counter.NewSQLiteStore(filepath.Join(paths.GetDataDir(), "usage.db"))
	if err != nil {
		return fmt.Errorf("failed to open usage counter store: %w", err)
	}
	defer store.Close()

	counts, err := store.Pending(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read pending counters: %w", err)
	}

	summary := counter.Summarize(counts)
	fmt.Fprintf(out, "\nPending events: %d\n", summary.Total)
	for _, g := range summary.ByComponent {
		fmt.Fprintf(out, "  %-30s %d\n", g.Name, g.Times)
	}

	return nil
}

func allowLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
