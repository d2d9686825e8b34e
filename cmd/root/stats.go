package root

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/usagebeacon/beacon/pkg/api"
	"github.com/usagebeacon/beacon/pkg/httpclient"
	"github.com/usagebeacon/beacon/pkg/telemetry"
)

type statsFlags struct {
	serverURL string
	asJSON    bool
}

func newStatsCmd() *cobra.Command {
	var flags statsFlags

	cmd := &cobra.Command{
		Use:     "stats",
		Short:   "Show aggregate statistics from a collector",
		GroupID: "advanced",
		Args:    cobra.NoArgs,
		RunE:    flags.runStatsCommand,
	}

	cmd.Flags().StringVarP(&flags.serverURL, "server", "s", "http://localhost:8080", "Collector base URL")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Print the raw JSON report")

	return cmd
}

func (f *statsFlags) runStatsCommand(cmd *cobra.Command, _ []string) error {
	telemetry.LogUsageEvent("cli", "stats")

	url := strings.TrimSuffix(f.serverURL, "/") + "/api/stats"

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := httpclient.New().Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach collector: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector returned status %d: %s", resp.StatusCode, string(body))
	}

	out := cmd.OutOrStdout()

	if f.asJSON {
		fmt.Fprintln(out, string(body))
		return nil
	}

	var report api.StatsReport
	if err := json.Unmarshal(body, &report); err != nil {
		return fmt.Errorf("failed to parse stats report: %w", err)
	}

	fmt.Fprintf(out, "Total events: %d\n", report.TotalEvents)
	fmt.Fprintf(out, "Unique components: %d\n", report.UniqueComponents)

	printGroup(out, "By day", dailyToNamed(report.ByDay))
	printGroup(out, "By component", report.ByComponent)
	printGroup(out, "By event", report.ByEvent)
	printGroup(out, "By city", report.ByCity)

	return nil
}

func printGroup(out io.Writer, title string, groups []api.NamedCount) {
	if len(groups) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, g := range groups {
		fmt.Fprintf(out, "  %-30s %d\n", g.Name, g.Times)
	}
}

func dailyToNamed(days []api.DailyCount) []api.NamedCount {
	named := make([]api.NamedCount, 0, len(days))
	for _, d := range days {
		named = append(named, api.NamedCount{Name: d.Day, Times: d.Times})
	}
	return named
}
