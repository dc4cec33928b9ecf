package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"clinicalcore/pkg/domain"
)

// DonorCmd returns the donor command group.
func DonorCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "donor",
		Short: "Inspect donors and their completion stats",
	}
	cmd.AddCommand(donorShowCmd(opts))
	cmd.AddCommand(donorListCmd(opts))
	cmd.AddCommand(donorStatsCmd(opts))
	return cmd
}

func parseDonorID(arg string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(arg, "DO"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid donor id %q", arg)
	}
	return id, nil
}

func donorShowCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <donor-id>",
		Short: "Print a donor document",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseDonorID(args[0])
			if err != nil {
				return err
			}
			donor, err := a.svc.FindDonor(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), donor)
		}),
	}
}

func donorListCmd(opts *Options) *cobra.Command {
	var program string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List donors with their schema validity",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			donors, err := a.svc.ListDonors(cmd.Context(), program)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range donors {
				status := color.New(color.FgGreen).Sprint("valid")
				if !d.SchemaMetadata.IsValid {
					status = color.New(color.FgRed).Sprint("invalid")
				}
				fmt.Fprintf(out, "DO%d\t%s\t%s\t%s\t%s\n", d.DonorID, d.ProgramID, d.SubmitterID, d.SchemaMetadata.LastValidSchemaVersion, status)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&program, "program", "", "only list donors of this program")
	return cmd
}

func donorStatsCmd(opts *Options) *cobra.Command {
	var overrides []string
	cmd := &cobra.Command{
		Use:   "stats <donor-id>",
		Short: "Recalculate a donor's core completion, optionally overriding entities",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseDonorID(args[0])
			if err != nil {
				return err
			}
			override, err := parseOverrides(overrides)
			if err != nil {
				return err
			}
			donor, err := a.svc.RecalcDonorStats(cmd.Context(), id, override)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), donor.CompletionStats)
		}),
	}
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "core entity override as entity=value, e.g. specimens=1")
	return cmd
}

func parseOverrides(raw []string) (map[domain.CoreEntity]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[domain.CoreEntity]float64, len(raw))
	for _, item := range raw {
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("override %q: expected entity=value", item)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", item, err)
		}
		out[domain.CoreEntity(name)] = f
	}
	return out, nil
}
