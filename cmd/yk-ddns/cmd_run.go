package main

import (
	"fmt"

	"github.com/spf13/cobra"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/history"
)

func newCmdRun(configPath *string) *cobra.Command {
	var (
		ips       []string
		noHistory bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one update and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("unable to load config: %w", err)
			}

			runner := &controller.Runner{
				Load: func() (*config.Config, error) { return cfg, nil },
				Log:  crlog.Log.WithName("runner"),
			}
			if !noHistory {
				store, err := history.Open(cfg.Server.HistoryPath, historyRetention)
				if err != nil {
					return fmt.Errorf("unable to open history: %w", err)
				}
				defer store.Close()
				runner.History = store
			}

			var override []string
			for _, v := range ips {
				override = append(override, config.SplitList(v)...)
			}
			rep, err := runner.Run(cmd.Context(), controller.Request{Trigger: controller.TriggerCLI, Override: override})
			fmt.Fprint(cmd.OutOrStdout(), rep.Text())
			return err
		},
	}

	cmd.Flags().StringSliceVar(&ips, "ips", nil, "Addresses to publish instead of the configured sources")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run in the history database")
	return cmd
}
