package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RafaUC/Allusion-sub000/internal/aggregate"
	"github.com/RafaUC/Allusion-sub000/internal/catalog"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/logging"
	"github.com/RafaUC/Allusion-sub000/internal/startup"
)

// defaultTimeout bounds commands other than export, import and recount.
const defaultTimeout = 30 * time.Second

func main() {
	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every subcommand shares.
type app struct {
	v      *viper.Viper
	config *startup.Config
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	var path string

	cmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Catalog maintenance utility",
		Version:       fmt.Sprintf("%s (%s)", startup.Version, startup.Commit),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := startup.InitConfig(a.v, path); err != nil {
				return err
			}
			config, err := startup.Decode(a.v)
			if err != nil {
				return err
			}
			a.config = config
			logging.Configure(config.LoggingConfig())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&path, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(
		a.newStatsCommand(),
		a.newRecountCommand(),
		a.newExportCommand(),
		a.newImportCommand(),
		a.newVacuumCommand(),
		newConfigCommand(),
	)
	return cmd
}

// openDatabase opens the configured database file, which must exist.
func (a *app) openDatabase(ctx context.Context) (*database.Database, error) {
	path := a.config.Database.Path
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w (set database.path or CATALOG_DATABASE_PATH)", path, err)
	}
	db, err := database.New(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// openCatalog opens the database and the catalog service over it. Count
// maintenance runs only when asked for, never on a timer.
func (a *app) openCatalog(ctx context.Context) (*catalog.Service, func(), error) {
	db, err := a.openDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	cfg := catalog.DefaultConfig()
	cfg.Location = a.config.Location
	cfg.Aggregate = aggregate.Config{Debounce: time.Hour, BatchSize: a.config.Aggregate.BatchSize}
	svc, err := catalog.Open(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	closeFn := func() {
		if err := svc.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to flush catalog: %v\n", err)
		}
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}
	return svc, closeFn, nil
}
