package main

import (
	"github.com/spf13/cobra"

	"github.com/getpup/sigledger/config"
	sigledger "github.com/getpup/sigledger/pkg"
)

// newRootCmd builds the command tree. The caller closes the returned app
// after Execute, whether or not the command failed.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "sigledger",
		Short: "Signature stream reconciliation and event log",
		Long: `sigledger turns scanner snapshots of a location into an append-only
history of signature events (appeared, updated, faded, resolved) and
rebuilds the current view of any location by replaying that history.`,
		Version:       sigledger.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	flags.StringVarP(&a.output, "output", "o", outputTable, "output format: table, json, yaml")
	flags.String("driver", "", "database driver: sqlite, postgres, mysql")
	flags.String("dsn", "", "database DSN or SQLite path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	bind := map[string]string{
		"database.driver": "driver",
		"database.dsn":    "dsn",
		"logging.level":   "log-level",
		"metrics.addr":    "metrics-addr",
	}
	for key, flag := range bind {
		// Lookup never fails for flags defined above.
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newMigrateCmd(a),
		newIngestCmd(a),
		newWatchCmd(a),
		newCurrentCmd(a),
		newReplayCmd(a),
		newAuditCmd(a),
		newPublishCmd(a),
	)
	return root, a
}
