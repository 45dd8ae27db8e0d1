package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	blobcore "taskledger/internal/blob/core"
	"taskledger/internal/config"
	"taskledger/internal/core"
	"taskledger/internal/infra/blob"
	"taskledger/internal/infra/blob/s3"
	"taskledger/internal/infra/logging"
	"taskledger/internal/infra/metrics"
	"taskledger/internal/infra/persistence/memory"
	"taskledger/internal/infra/persistence/postgres"
	"taskledger/internal/infra/persistence/sqlite"
	"taskledger/pkg/domain"
)

var outputFormats = []string{"table", "json", "yaml"}

// rootOptions carries the global flags and the viper instance they are bound
// to. Subcommands build their app from it on demand.
type rootOptions struct {
	v          *viper.Viper
	configFile string
	output     string
	trace      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "taskledger",
		Short: "Transactional task, time and invoice tracking",
		Long: `taskledger records accounts, users, projects, tasks, time entries and invoices.
Every change runs in a transaction under per-entity locks, passes the
business rules, and leaves an audit record for each status transition.
Projects complete on their own once all of their tasks are done.

Configuration comes from taskledger.yaml (., ./config) and TASKLEDGER_*
environment variables; flags override both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range outputFormats {
				if opts.output == f {
					return nil
				}
			}
			return fmt.Errorf("invalid output %q: must be one of %s", opts.output, strings.Join(outputFormats, "|"))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default taskledger.yaml in . or ./config)")
	flags.StringVarP(&opts.output, "output", "o", "table", "output format (table|json|yaml)")
	flags.BoolVar(&opts.trace, "trace", false, "write commit spans as JSON lines to stderr")
	flags.String("actor", "", "actor recorded on transactions and audit records")
	flags.String("log-level", "", "log level (trace|debug|info|warn|error)")
	flags.String("store", "", "persistence driver (memory|sqlite|postgres)")
	flags.String("sqlite-path", "", "sqlite database path")
	_ = opts.v.BindPFlag("app.actor", flags.Lookup("actor"))
	_ = opts.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = opts.v.BindPFlag("store.driver", flags.Lookup("store"))
	_ = opts.v.BindPFlag("store.sqlite_path", flags.Lookup("sqlite-path"))

	cmd.AddCommand(
		newSeedCommand(opts),
		newSummaryCommand(opts),
		newAuditCommand(opts),
		newTaskCommand(opts),
		newInvoiceCommand(opts),
		newProjectCommand(opts),
		newArchiveCommand(opts),
		newMetricsCommand(opts),
	)
	return cmd
}

// app is the per-invocation wiring of config, logger, metrics and service.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Recorder
	svc     *core.Service
	out     io.Writer
	format  string
}

func (o *rootOptions) open(cmd *cobra.Command) (*app, error) {
	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
	}
	cfg, err := config.LoadWith(o.v)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{Env: cfg.App.Env, Level: cfg.Log.Level, Out: cmd.ErrOrStderr()})
	recorder := metrics.NewRecorder()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	backend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	svcOpts := []core.Option{
		core.WithLogger(logger.With("actor", cfg.App.Actor)),
		core.WithMetrics(recorder),
		core.WithBackend(backend),
		core.WithLockTimeout(cfg.Locks.Timeout),
		core.WithFollowUpAttempts(cfg.Locks.FollowUpAttempts),
	}
	if o.trace {
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(cmd.ErrOrStderr())))
	}
	svc, err := core.New(ctx, svcOpts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	logger.Debug("service ready", "store", cfg.Store.Driver)
	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: recorder,
		svc:     svc,
		out:     cmd.OutOrStdout(),
		format:  o.output,
	}, nil
}

// withApp opens the app, runs fn and closes the backend.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.svc.Close(); cerr != nil {
			a.logger.Warn("close backend", "error", cerr)
		}
	}()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (domain.PersistentStore, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *app) openArchive(ctx context.Context) (blobcore.Store, error) {
	c := a.cfg.Blob
	return blob.Open(ctx, blob.Config{
		Driver: blobcore.Driver(c.Driver),
		FSRoot: c.FSRoot,
		S3: s3.Config{
			Region:          c.S3.Region,
			Bucket:          c.S3.Bucket,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			PathStyle:       c.S3.PathStyle,
		},
	})
}

func (a *app) actor() string { return a.cfg.App.Actor }
