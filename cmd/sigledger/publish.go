package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/getpup/sigledger/es/projection"
	"github.com/getpup/sigledger/es/projection/runner"
	"github.com/getpup/sigledger/tracker/notify"
)

func newPublishCmd(a *app) *cobra.Command {
	var partitions int
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish appended events to NATS",
		Long: `Runs a checkpointed processor that publishes every signature event to
NATS subject "<prefix>.<stream>". Delivery is at least once; the Nats-Msg-Id
header carries the event id for de-duplication.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.openLog(ctx); err != nil {
				return err
			}
			nc, err := nats.Connect(a.cfg.NATS.URL, nats.Name("sigledger-publish"))
			if err != nil {
				return fmt.Errorf("connect nats %s: %w", a.cfg.NATS.URL, err)
			}
			defer nc.Close()

			stop := a.serveMetrics(ctx)
			defer stop()

			pub := notify.NewPublisher(nc, notify.Config{
				SubjectPrefix: a.cfg.NATS.SubjectPrefix,
				Logger:        a.logger,
				Metrics:       a.metrics,
			})
			runners, err := runner.Partitioned(pub, partitions, func(key, total int) projection.ProcessorRunner {
				config := projection.DefaultProcessorConfig()
				config.Logger = a.logger
				config.BatchSize = a.cfg.Processor.BatchSize
				config.PollInterval = a.cfg.Processor.PollInterval
				config.PartitionKey = key
				config.TotalPartitions = total
				return projection.NewProcessor(a.db, a.store, config)
			})
			if err != nil {
				return err
			}
			err = runner.New().Run(ctx, runners)
			if ctx.Err() != nil {
				return flush(nc)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&partitions, "partitions", 1, "number of concurrent processors, split by stream")
	return cmd
}

func flush(nc *nats.Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), nats.DefaultTimeout)
	defer cancel()
	return nc.FlushWithContext(ctx)
}
