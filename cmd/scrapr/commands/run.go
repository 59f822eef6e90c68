package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emilyzhang/scrapr/api"
	"github.com/emilyzhang/scrapr/crawler"
	"github.com/emilyzhang/scrapr/crawlerdb"
	"github.com/emilyzhang/scrapr/scheduler"
	"github.com/emilyzhang/scrapr/sink"
)

func newRunCommand(opts *options) *cobra.Command {
	var noInitialRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every configured resource until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, !noInitialRun)
		},
	}
	cmd.Flags().BoolVar(&noInitialRun, "no-initial-run", false,
		"wait one period before the first walk of each resource")
	return cmd
}

func run(ctx context.Context, opts *options, runOnStart bool) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := crawlerdb.New(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer db.Close()

	out, err := sink.New(cfg.Sink)
	if err != nil {
		return fmt.Errorf("unable to open sink: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Error("Failed to close sink", "error", err)
		}
	}()

	web, err := crawler.NewCollyFetcher(cfg.Fetch, log)
	if err != nil {
		return err
	}
	c := crawler.New(db, crawler.NewSchemes(web), out, log)

	sched := scheduler.New(c, log, scheduler.WithRunOnStart(runOnStart))
	for _, res := range cfg.Resources {
		if err := sched.Add(res); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if cfg.API.Addr != "" {
		srv := api.New(cfg.API, db, sched, log)
		g.Go(func() error { return srv.Start(gctx) })
	}

	log.Info("scrapr started", "resources", len(cfg.Resources), "database", cfg.Database.Driver)
	err = g.Wait()
	log.Info("scrapr stopped")
	return err
}
