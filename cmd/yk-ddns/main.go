package main

import (
	"context"
	"flag"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	_ "github.com/yuriy-kovalchuk/yk-ddns/internal/dns/providers"
)

var Version = "dev"

// historyRetention bounds the number of runs kept in the history database.
const historyRetention = 1000

func newRootCmd() *cobra.Command {
	var configPath string
	zapOpts := zap.Options{Development: true}

	cmd := &cobra.Command{
		Use:     "yk-ddns",
		Short:   "Keep the A/AAAA records of a domain in sync with a set of addresses",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindZapFlags(cmd.PersistentFlags(), &zapOpts)
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file (env "+config.PathEnv+", default "+config.DefaultPath+")")

	cmd.PersistentPreRun = func(*cobra.Command, []string) {
		crlog.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	}

	cmd.AddCommand(newCmdServe(&configPath))
	cmd.AddCommand(newCmdRun(&configPath))
	cmd.AddCommand(newCmdHistory(&configPath))
	return cmd
}

// bindZapFlags exposes the zap logger flags (--zap-devel, --zap-log-level...)
// on fs.
func bindZapFlags(fs *pflag.FlagSet, opts *zap.Options) {
	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.BindFlags(goFlags)
	fs.AddGoFlagSet(goFlags)
}

func main() {
	root := newRootCmd()
	root.SetContext(context.Background())
	if err := root.Execute(); err != nil {
		crlog.Log.WithName("setup").Error(err, "command failed")
		os.Exit(1)
	}
}
