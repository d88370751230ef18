package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/range-cupp/rangemedical-system-2-sub009/internal/config"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/model"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/repository/postgres"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/event"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/expiration"
	"github.com/range-cupp/rangemedical-system-2-sub009/internal/service/journey"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/logger"
	"github.com/range-cupp/rangemedical-system-2-sub009/pkg/metrics"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Protocol ledger maintenance commands",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("LEDGER_CONFIG"), "Path to config.yml")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(advanceJourneysCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type env struct {
	cfg     *config.Config
	db      *sqlx.DB
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func connect() (*env, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Log.ToLoggerConfig()
	logCfg.Output = os.Stderr
	appLogger := logger.NewLogger(logCfg)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	m := metrics.New("ledgerctl")
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		db.Close()
		return nil, err
	}
	return &env{cfg: cfg, db: db, logger: appLogger, metrics: m}, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.db.Close()

			count, err := postgres.NewMigrator(e.db, postgres.Migrations()).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.db.Close()

			statuses, err := postgres.NewMigrator(e.db, postgres.Migrations()).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func sweepCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Complete active protocols whose end date has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.db.Close()

			store := postgres.NewStore(e.db)
			svc := expiration.NewService(store, event.NewService(store.Outbox(), e.logger),
				e.cfg.Sweeper.ToSweeperConfig(), e.logger, e.metrics)
			report, err := svc.Sweep(cmd.Context(), when)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Sweep date as YYYY-MM-DD (default today)")
	return cmd
}

func advanceJourneysCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "advance-journeys",
		Short: "Apply due automatic journey transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.db.Close()

			store := postgres.NewStore(e.db)
			svc := journey.NewService(store, event.NewService(store.Outbox(), e.logger),
				journey.Config{TemplateCacheTTL: e.cfg.Journey.TemplateCacheTTL}, e.logger, e.metrics)
			report, err := svc.AdvanceDue(cmd.Context(), when)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Evaluation date as YYYY-MM-DD (default today)")
	return cmd
}

func parseAsOf(value string) (time.Time, error) {
	if value == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(model.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--as-of must be a YYYY-MM-DD date: %w", err)
	}
	return t, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
