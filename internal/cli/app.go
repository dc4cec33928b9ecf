// Package cli implements the clinicalctl commands.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"clinicalcore/internal/blob"
	"clinicalcore/internal/config"
	"clinicalcore/internal/core"
	dictsvc "clinicalcore/internal/dictionary"
	"clinicalcore/internal/migration"
	"clinicalcore/internal/platform/logger"
)

// Options are the root flags shared by every command.
type Options struct {
	ConfigPath  string
	MetricsFile string
}

// app is the wired core for one command invocation.
type app struct {
	cfg      config.Config
	log      *logger.Logger
	svc      *core.Service
	provider *dictsvc.BlobProvider
	close    func() error
}

func openApp(ctx context.Context, opts *Options) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	provider, err := dictsvc.NewBlobProvider(blobs, cfg.Dictionary.CacheSize, log)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	registry := prometheus.NewRegistry()
	prom, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	svc := core.NewService(store, provider,
		core.WithLogger(log),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{prom, core.NewExpvarMetricsRecorder("")}),
		core.WithReportStore(blobs),
		core.WithMigrationConfig(migration.Config{
			PageSize:             cfg.Migration.PageSize,
			Workers:              cfg.Migration.Workers,
			SubmissionDrainDelay: cfg.Migration.SubmissionDrainDelay,
		}),
	)
	a := &app{cfg: cfg, log: log, svc: svc, provider: provider}
	a.close = func() error {
		var errs []error
		if opts.MetricsFile != "" {
			if err := prometheus.WriteToTextfile(opts.MetricsFile, registry); err != nil {
				errs = append(errs, fmt.Errorf("write metrics: %w", err))
			}
		}
		errs = append(errs, closeStore())
		log.Sync()
		return errors.Join(errs...)
	}
	return a, nil
}

// withApp wraps a command body with app setup and teardown.
func withApp(opts *Options, fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := openApp(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args, a)
	}
}

// NewRootCmd builds the clinicalctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}
	root := &cobra.Command{
		Use:           "clinicalctl",
		Short:         "Operate the clinical data core",
		Long:          "clinicalctl publishes dictionaries, inspects settings and donors, and runs dictionary migrations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")

	root.AddCommand(DictionaryCmd(opts))
	root.AddCommand(SettingsCmd(opts))
	root.AddCommand(MigrationCmd(opts))
	root.AddCommand(DonorCmd(opts))
	return root
}
