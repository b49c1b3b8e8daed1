package main

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/repartos-backend/internal/bootstrap"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
	"github.com/angelmondragon/repartos-backend/pkg/outbox"
	"github.com/angelmondragon/repartos-backend/pkg/outbox/registry"
	"github.com/angelmondragon/repartos-backend/pkg/pubsub"
)

const service = "outbox-publisher"

func main() {
	bootstrap.Exit(service, run())
}

func run() error {
	ctx := context.Background()
	rt, err := bootstrap.Start(ctx, service, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer rt.Close()

	client, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger)
	if err != nil {
		return err
	}
	rt.OnClose(client.Close)

	events, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		return err
	}
	gdb := rt.DB.DB()
	relay, err := NewRelay(RelayParams{
		Outbox:      rt.Config.Outbox,
		Logger:      rt.Logger,
		DB:          rt.DB,
		PubSub:      client,
		Events:      outbox.NewRepository(gdb),
		DeadLetters: outbox.NewDLQRepository(gdb),
		Registry:    events,
		Metrics:     metrics.NewOutboxMetrics(rt.Registry),
	})
	if err != nil {
		return err
	}

	ctx, stop := rt.SignalContext()
	defer stop()
	rt.Logger.Info(ctx, "outbox publisher starting")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := relay.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	bootstrap.Serve(groupCtx, group, rt.MetricsServer(rt.Config.Outbox.MetricsAddr))
	if err := group.Wait(); err != nil {
		return err
	}
	rt.Logger.Info(ctx, "outbox publisher stopped")
	return nil
}
