package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	dictsvc "clinicalcore/internal/dictionary"
)

// DictionaryCmd returns the dictionary command group.
func DictionaryCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dictionary",
		Short: "Publish and select dictionary versions",
	}
	cmd.AddCommand(dictionaryPublishCmd(opts))
	cmd.AddCommand(dictionaryVersionsCmd(opts))
	cmd.AddCommand(dictionarySetCmd(opts))
	return cmd
}

func dictionaryPublishCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file>",
		Short: "Publish a dictionary from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, a *app) error {
			dict, err := dictsvc.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := a.provider.Publish(cmd.Context(), *dict); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s (%d schemas)\n",
				color.New(color.FgGreen).Sprint("PUBLISHED"), dict.Name, dict.Version, len(dict.Schemas))
			return nil
		}),
	}
}

func dictionaryVersionsCmd(opts *Options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List published versions",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app) error {
			if name == "" {
				name = a.cfg.Dictionary.Name
			}
			versions, err := a.provider.Versions(cmd.Context(), name)
			if err != nil {
				return err
			}
			settings, err := a.svc.Settings(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range versions {
				marker := " "
				if settings.DictionaryName == name && settings.DictionaryVersion == v {
					marker = color.New(color.FgGreen).Sprint("*")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, v)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "dictionary name (defaults to the configured name)")
	return cmd
}

func dictionarySetCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <version>",
		Short: "Point the clinical settings at a published version without migrating",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, a *app) error {
			settings, err := a.svc.SetDictionary(cmd.Context(), a.cfg.Dictionary.Name, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dictionary set to %s %s\n", settings.DictionaryName, settings.DictionaryVersion)
			return nil
		}),
	}
}
