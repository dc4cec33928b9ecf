package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// SettingsCmd returns the settings command group.
func SettingsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change clinical settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the clinical settings",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			settings, err := a.svc.Settings(cmd.Context())
			if err != nil {
				return err
			}
			state := color.New(color.FgGreen).Sprint("enabled")
			if settings.SubmissionsDisabled {
				state = color.New(color.FgRed).Sprint("disabled")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dictionary: %s %s\n", settings.DictionaryName, settings.DictionaryVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "Submissions: %s\n", state)
			return nil
		}),
	})
	cmd.AddCommand(submissionsCmd(opts))
	return cmd
}

func submissionsCmd(opts *Options) *cobra.Command {
	var enable, disable bool
	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "Enable or disable submissions",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			if enable == disable {
				return errors.New("exactly one of --enable or --disable is required")
			}
			if err := a.svc.SetSubmissionsDisabled(cmd.Context(), disable); err != nil {
				return err
			}
			if disable {
				fmt.Fprintln(cmd.OutOrStdout(), "submissions disabled")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "submissions enabled")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "enable submissions")
	cmd.Flags().BoolVar(&disable, "disable", false, "disable submissions")
	return cmd
}
