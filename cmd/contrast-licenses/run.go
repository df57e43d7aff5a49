package main

import (
	"context"
	"fmt"

	"github.com/contrast-oss/license-exporter/internal/config"
	"github.com/contrast-oss/license-exporter/internal/environments"
	internalerrors "github.com/contrast-oss/license-exporter/internal/errors"
	"github.com/contrast-oss/license-exporter/internal/licensing"
	"github.com/contrast-oss/license-exporter/internal/logging"
	"github.com/contrast-oss/license-exporter/internal/metrics"
	"github.com/contrast-oss/license-exporter/internal/scheduler"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, opts config.Options, d deps) error {
	logging.Init(logging.Config{
		Format:    opts.LogFormat,
		Level:     opts.LogLevel,
		Component: "contrast-licenses",
		FilePath:  opts.LogFile,
	})

	// Everything that can reject the configuration runs before the first
	// aggregation cycle.
	if err := opts.Validate(); err != nil {
		return err
	}
	mode, err := opts.Mode()
	if err != nil {
		return err
	}

	if err := config.LoadEnvFile(opts.EnvFile); err != nil {
		return err
	}

	records, err := config.LoadEnvironments(opts.ConfigFile, d.stdin)
	if err != nil {
		return err
	}

	registry, err := environments.Build(ctx, records, d.clientFactory)
	if err != nil {
		return err
	}

	publisher := metrics.NewPublisher(metrics.Options{RuntimeCollectors: mode == config.ModeServe})
	sched := scheduler.New(licensing.NewAggregator(registry), publisher, opts.Interval())

	if err := sched.RunCycleAndPublish(ctx); err != nil {
		return fmt.Errorf("initial license count: %w", err)
	}

	switch mode {
	case config.ModeServe:
		return serve(ctx, opts, d, registry.Names(), publisher, sched)
	case config.ModePush:
		log.Info().Str("url", opts.PushGateway).Msg("Pushing data to gateway...")
		if err := publisher.Push(ctx, opts.PushGateway, opts.PushJob); err != nil {
			return internalerrors.New(internalerrors.KindDelivery, "push", err)
		}
		log.Info().Msg("Successfully pushed data to gateway")
		return nil
	default:
		if opts.Dump {
			return publisher.WriteText(d.stdout)
		}
		return nil
	}
}

func serve(ctx context.Context, opts config.Options, d deps, environmentNames []string, publisher *metrics.Publisher, sched *scheduler.Scheduler) error {
	ln, err := d.listen("tcp", opts.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.ListenAddr(), err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serveMetrics(ctx, ln, publisher.Handler())
	})
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	log.Info().
		Str("addr", ln.Addr().String()).
		Int("update_interval_minutes", opts.UpdateInterval).
		Strs("environments", environmentNames).
		Msg("Serving license metrics")

	return g.Wait()
}
