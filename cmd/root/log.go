package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usagebeacon/beacon/pkg/consent"
	"github.com/usagebeacon/beacon/pkg/telemetry"
)

type logFlags struct {
	count int
}

func newLogCmd() *cobra.Command {
	var flags logFlags

	cmd := &cobra.Command{
		Use:   "log <component> <event>",
		Short: "Record a usage event",
		Long:  "Record one occurrence of an event for a component, subject to the consent policy",
		Example: `  beacon log SegmentEditor apply
  beacon log Markups place-point --count 3`,
		GroupID: "core",
		Args:    cobra.ExactArgs(2),
		RunE:    flags.runLogCommand,
	}

	cmd.Flags().IntVarP(&flags.count, "count", "n", 1, "Number of occurrences to record")

	return cmd
}

func (f *logFlags) runLogCommand(cmd *cobra.Command, args []string) error {
	component, event := args[0], args[1]

	if err := consent.ValidateComponentName(component); err != nil {
		return err
	}
	if f.count < 1 {
		return fmt.Errorf("invalid count %d: must be at least 1", f.count)
	}

	for range f.count {
		telemetry.LogUsageEvent(component, event)
	}

	// Events are flushed to the counter store when the process exits.
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s/%s x%d\n", component, event, f.count)
	return nil
}
