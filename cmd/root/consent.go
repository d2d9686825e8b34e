package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/usagebeacon/beacon/pkg/consent"
	"github.com/usagebeacon/beacon/pkg/telemetry"
)

func newConsentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage telemetry consent",
		Long:  "View and manage the consent policy stored in ~/.config/beacon/consent.yaml",
		Example: `  # Show the current policy
  beacon consent show

  # Always count events from a component
  beacon consent enable SegmentEditor

  # Never count events from a component
  beacon consent disable SampleData

  # Allow periodic uploads without asking
  beacon consent upload yes`,
		GroupID: "core",
		RunE:    runConsentShowCommand,
	}

	cmd.AddCommand(newConsentShowCmd())
	cmd.AddCommand(newConsentPathCmd())
	cmd.AddCommand(newConsentSetStateCmd("enable", consent.StateEnabled, "Always count events from a component"))
	cmd.AddCommand(newConsentSetStateCmd("disable", consent.StateDisabled, "Never count events from a component"))
	cmd.AddCommand(newConsentSetStateCmd("reset", consent.StateDefault, "Make a component follow the default again"))
	cmd.AddCommand(newConsentDefaultCmd())
	cmd.AddCommand(newConsentUploadCmd())

	return cmd
}

func newConsentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current consent policy",
		Args:  cobra.NoArgs,
		RunE:  runConsentShowCommand,
	}
}

func newConsentPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the path to the consent file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), consent.Path())
			return nil
		},
	}
}

func runConsentShowCommand(cmd *cobra.Command, _ []string) error {
	telemetry.LogUsageEvent("cli", "consent-show")

	policy, err := consent.Load()
	if err != nil {
		return fmt.Errorf("failed to load consent policy: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "default: %s\n", allowLabel(policy.DefaultAllowed))
	fmt.Fprintf(out, "upload: %s\n", policy.GetUpload())
	for name, state := range policy.ComponentStates() {
		fmt.Fprintf(out, "%s: %s\n", name, state)
	}
	return nil
}

func newConsentSetStateCmd(verb string, state consent.State, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <component>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			telemetry.LogUsageEvent("cli", "consent-"+verb)

			policy, err := consent.Load()
			if err != nil {
				return fmt.Errorf("failed to load consent policy: %w", err)
			}
			if err := policy.SetState(args[0], state); err != nil {
				return err
			}
			if err := policy.Save(); err != nil {
				return fmt.Errorf("failed to save consent policy: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], state)
			return nil
		},
	}
}

func newConsentDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "default allow|deny",
		Short:     "Set the default for components without an explicit state",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"allow", "deny"},
		RunE: func(cmd *cobra.Command, args []string) error {
			telemetry.LogUsageEvent("cli", "consent-default")

			var allowed bool
			switch args[0] {
			case "allow":
				allowed = true
			case "deny":
				allowed = false
			default:
				return fmt.Errorf("invalid default %q: expected allow or deny", args[0])
			}

			policy, err := consent.Load()
			if err != nil {
				return fmt.Errorf("failed to load consent policy: %w", err)
			}
			policy.SetDefaultAllowed(allowed)
			if err := policy.Save(); err != nil {
				return fmt.Errorf("failed to save consent policy: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "default: %s\n", args[0])
			return nil
		},
	}
}

func newConsentUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "upload yes|no|ask",
		Short:     "Set the standing answer to the upload prompt",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"yes", "no", "ask"},
		RunE: func(cmd *cobra.Command, args []string) error {
			telemetry.LogUsageEvent("cli", "consent-upload")

			policy, err := consent.Load()
			if err != nil {
				return fmt.Errorf("failed to load consent policy: %w", err)
			}
			if err := policy.SetUpload(consent.UploadChoice(args[0])); err != nil {
				return err
			}
			if err := policy.Save(); err != nil {
				return fmt.Errorf("failed to save consent policy: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "upload: %s\n", args[0])
			return nil
		},
	}
}
