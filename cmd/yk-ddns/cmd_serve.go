package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/history"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/server"
)

func newCmdServe(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger endpoints and run the update timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := crlog.Log.WithName("setup")
			log.Info("starting yk-ddns", "version", Version)

			// Server options are read once; run settings are re-read per run.
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("unable to load config: %w", err)
			}
			log.Info("loaded config", "config", cfg.String())
			if listen != "" {
				cfg.Server.Listen = listen
			}

			store, err := history.Open(cfg.Server.HistoryPath, historyRetention)
			if err != nil {
				return fmt.Errorf("unable to open history: %w", err)
			}
			defer store.Close()

			load := config.NewLoader(*configPath)
			runner := &controller.Runner{
				Load:    load,
				Log:     crlog.Log.WithName("runner"),
				History: store,
			}

			srv := server.New(server.Options{
				Listen:       cfg.Server.Listen,
				Runner:       runner,
				Load:         load,
				History:      store,
				HistoryLimit: cfg.Server.HistoryLimit,
				TriggerRate:  cfg.Server.TriggerRate,
				TriggerBurst: cfg.Server.TriggerBurst,
				Checks: map[string]healthz.Checker{
					"history": func(*http.Request) error { return store.Health() },
				},
				Log: crlog.Log.WithName("http"),
			})
			scheduler := &server.Scheduler{
				Runner:   runner,
				Interval: cfg.Server.Interval,
				Log:      crlog.Log.WithName("scheduler"),
			}

			g, ctx := errgroup.WithContext(signals.SetupSignalHandler())
			g.Go(func() error { return srv.Start(ctx) })
			g.Go(func() error { return scheduler.Start(ctx) })
			if err := g.Wait(); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides server.listen")
	return cmd
}
