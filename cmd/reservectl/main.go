/*
main.go - reservectl, operator CLI for the reservation engine

PURPOSE:
  Maintenance tasks that run against the database directly, without the
  HTTP server: migrations, seeding, one-off sweeps, series generation and
  issuing bearer tokens for testing.

COMMANDS:
  migrate            Apply pending schema migrations
  seed               Load the demo campus or a catalog file
  resources          List the catalog
  sweep              Run one reconciliation sweep (optionally at a given time)
  sweeps             Show recent sweep runs
  generate-series    Materialize a series up to a date
  token              Issue a signed bearer token

ENVIRONMENT:
  Reads the same variables as the server (see config/config.go);
  --db and --secret override DB_PATH and JWT_SECRET.

SEE ALSO:
  - cmd/server/main.go: HTTP server
  - api/scenarios.go: Seeding
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/reservation-engine/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the loaded configuration and persistent flags to subcommands.
type cli struct {
	cfg    config.Config
	dbPath string
}

func newRootCmd(cfg config.Config) *cobra.Command {
	c := &cli{cfg: cfg}

	root := &cobra.Command{
		Use:   "reservectl",
		Short: "Operate the campus reservation engine",
		Long: `Operate the campus reservation engine

environment:
    DB_PATH        SQLite database path
    JWT_SECRET     HMAC secret used by the token command
    TIMEZONE       Zone used to interpret dates given on the command line
`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.dbPath, "db", cfg.DBPath, "SQLite database path")

	root.AddCommand(
		c.migrateCmd(),
		c.seedCmd(),
		c.resourcesCmd(),
		c.sweepCmd(),
		c.sweepsCmd(),
		c.generateSeriesCmd(),
		c.tokenCmd(),
	)
	return root
}
