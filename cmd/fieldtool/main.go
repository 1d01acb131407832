// Command fieldtool applies database migrations, seeds directory data and
// validates field type catalogs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jacksonlee411/issuefields/internal/server"
)

type rootOptions struct {
	storeDriver string
	databaseURL string
	sqlitePath  string
	verbose     bool
}

func (o *rootOptions) config() server.Config {
	return server.Config{StoreDriver: o.storeDriver, DatabaseURL: o.databaseURL, SQLitePath: o.sqlitePath}
}

func (o *rootOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "fieldtool",
		Short:         "Maintenance commands for the issue field service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.storeDriver, "store", envOr("STORE_DRIVER", server.StorePostgres), "store driver (memory|sqlite|postgres)")
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", server.DatabaseURLFromEnv(), "postgres connection string")
	root.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite-path", envOr("SQLITE_PATH", "issuefields.db"), "sqlite snapshot file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newSeedCmd(opts))
	root.AddCommand(newCheckCatalogCmd())
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fieldtool:", err)
		os.Exit(1)
	}
}
