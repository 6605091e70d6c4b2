package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"approvalflow/internal/approval/config"
	"approvalflow/internal/approval/relay"
	"approvalflow/internal/platform/httpserver"
	"approvalflow/internal/platform/kafka"
	platformmetrics "approvalflow/internal/platform/metrics"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		partitions  int32
		replication int16
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the expiry sweeper, outbox relay, workflow reloader and metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), partitions, replication)
		},
	}
	cmd.Flags().Int32Var(&partitions, "topic-partitions", 3, "partitions for the audit topic when it is created")
	cmd.Flags().Int16Var(&replication, "topic-replication", 1, "replication factor for the audit topic when it is created")
	return cmd
}

func (c *cli) serve(ctx context.Context, partitions int32, replication int16) error {
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	if path := c.cfg.WorkflowsFile; path != "" {
		n, err := a.configs.ApplyFile(ctx, path)
		if err != nil {
			return fmt.Errorf("apply workflow file: %w", err)
		}
		c.logger.InfoContext(ctx, "workflow file applied", "path", path, "configurations", n)

		reloader, err := config.NewReloader(a.configs, path, config.WithReloadLogger(c.logger))
		if err != nil {
			return err
		}
		g.Go(func() error { return reloader.Run(ctx) })
	}

	sweeper, err := a.sweeper()
	if err != nil {
		return err
	}
	g.Go(func() error { return sweeper.Run(ctx) })

	if brokers := c.cfg.Kafka.Brokers; len(brokers) > 0 {
		producer, err := kafka.NewProducer(brokers, c.cfg.Kafka.ClientID)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, c.cfg.Kafka.Topic, partitions, replication); err != nil {
			return err
		}
		r, err := relay.New(a.outbox, a.tx, producer,
			relay.WithTopic(c.cfg.Kafka.Topic),
			relay.WithBatchSize(c.cfg.Engine.RelayBatchSize),
			relay.WithInterval(c.cfg.Engine.RelayInterval),
			relay.WithLogger(c.logger),
			relay.WithMetrics(a.metrics),
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return r.Run(ctx) })
	} else {
		c.logger.InfoContext(ctx, "no kafka brokers configured, outbox relay disabled")
	}

	srv := httpserver.New(c.cfg.MetricsAddr, platformmetrics.Handler(a.registry))
	g.Go(func() error { return httpserver.Serve(ctx, srv) })

	c.logger.InfoContext(ctx, "approvald started",
		"metrics_addr", c.cfg.MetricsAddr,
		"level_policy", c.cfg.Engine.LevelPolicy,
		"persistent", a.db != nil,
		"lease", a.redis != nil,
	)
	return g.Wait()
}
