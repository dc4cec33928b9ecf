package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"clinicalcore/internal/migration"
)

// MigrationCmd returns the migration command group.
func MigrationCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migration",
		Short: "Run and inspect dictionary migrations",
	}
	cmd.AddCommand(migrationSubmitCmd(opts))
	cmd.AddCommand(migrationResumeCmd(opts))
	cmd.AddCommand(migrationGetCmd(opts))
	cmd.AddCommand(migrationProbeCmd(opts))
	cmd.AddCommand(migrationDryRunCmd(opts))
	cmd.AddCommand(migrationReportCmd(opts))
	return cmd
}

// Migrations run to completion inside the command; the process would take a
// background run down with it.
func migrationSubmitCmd(opts *Options) *cobra.Command {
	var req migration.SubmitRequest
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Migrate the clinical data to a new dictionary version",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			req.Sync = true
			mig, err := a.svc.SubmitMigration(cmd.Context(), req)
			if err != nil {
				return err
			}
			printMigration(cmd.OutOrStdout(), mig)
			return nil
		}),
	}
	cmd.Flags().StringVar(&req.To, "to", "", "target dictionary version")
	cmd.Flags().StringVar(&req.From, "from", "", "source dictionary version (defaults to the current one)")
	cmd.Flags().StringVar(&req.Initiator, "initiator", "", "user starting the migration")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "only report what would be invalidated")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func migrationResumeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the open migration from its last checkpoint",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			mig, err := a.svc.ResumeMigration(cmd.Context(), true)
			if err != nil {
				return err
			}
			printMigration(cmd.OutOrStdout(), mig)
			return nil
		}),
	}
}

func migrationGetCmd(opts *Options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one migration, or all migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, a *app) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			migs, err := a.svc.GetMigration(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), migs)
			}
			if len(migs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations")
			}
			for _, m := range migs {
				printMigration(cmd.OutOrStdout(), m)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the migration documents as JSON")
	return cmd
}

func migrationProbeCmd(opts *Options) *cobra.Command {
	var from, to string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Analyse the changes between two dictionary versions",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			res, err := a.svc.ProbeUpgrade(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "added fields: %d, value type changes: %d, deleted fields: %d\n",
				len(res.Analysis.Fields.AddedFields), len(res.Analysis.ValueTypeChanges), len(res.Analysis.Fields.DeletedFields))
			if len(res.BreakingChanges) == 0 {
				fmt.Fprintln(out, color.New(color.FgGreen).Sprint("no breaking changes"))
				return nil
			}
			for _, c := range res.BreakingChanges {
				fmt.Fprintf(out, "%s %s %s\n", color.New(color.FgYellow).Sprint("BREAKING"), c.Type, c.FieldPath)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "source version (defaults to the current one)")
	cmd.Flags().StringVar(&to, "to", "", "target version")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func migrationDryRunCmd(opts *Options) *cobra.Command {
	var to, initiator string
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Report what migrating to a version would invalidate",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			mig, err := a.svc.DryRunUpgrade(cmd.Context(), to, initiator)
			if err != nil {
				return err
			}
			printMigration(cmd.OutOrStdout(), mig)
			return nil
		}),
	}
	cmd.Flags().StringVar(&to, "to", "", "target version")
	cmd.Flags().StringVar(&initiator, "initiator", "", "user starting the dry run")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func migrationReportCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "report <id>",
		Short: "Print the archived report of a closed migration",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, a *app) error {
			report, err := a.svc.MigrationReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}
}
