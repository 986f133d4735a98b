package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jalsarovar/wflow/config"
	"github.com/jalsarovar/wflow/internal/planner"
	"github.com/jalsarovar/wflow/internal/registry"
	srv "github.com/jalsarovar/wflow/internal/server"
	"github.com/jalsarovar/wflow/internal/store"
	"github.com/jalsarovar/wflow/internal/synthetic"
	"github.com/jalsarovar/wflow/internal/telemetry"
	"github.com/jalsarovar/wflow/internal/trainer"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "wflow"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(
		serveCmd(&cfgPath),
		migrateCmd(),
		planCmd(&cfgPath),
		trainCmd(&cfgPath),
		seedCmd(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server and training scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if addr == "" {
				addr = os.Getenv("WFLOW_HTTP_ADDR")
			}
			return srv.Run(cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func migrateCmd() *cobra.Command {
	var dir, direction, dsn string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.Migrate(dir, dsn, direction, steps)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (defaults to DATABASE_URL)")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}

func planCmd(cfgPath *string) *cobra.Command {
	var month string
	var budget int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate the testing plan for one month",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if month == "" {
				month = time.Now().UTC().Format("2006-01")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			st, reg, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			svc := planner.New(cfg.Planning, st, reg, nil, telemetry.NewLogger("planner"))
			p, err := svc.GeneratePlan(ctx, month, budget)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "plan month as YYYY-MM (default: current month)")
	cmd.Flags().IntVar(&budget, "budget", 0, "site budget (defaults to planning.monthly_budget_sites)")
	return cmd
}

func trainCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain all parameter models from the measurement history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			st, reg, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			tr := trainer.New(cfg.Trainer, cfg.Predictor, cfg.Planning.Parameters, st, reg, nil, telemetry.NewLogger("trainer"))
			results := tr.TrainAll(ctx, time.Now().UTC())
			failed := 0
			for _, r := range results {
				if r.Outcome == trainer.OutcomeFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d trainings failed", failed, len(results))
			}
			return nil
		},
	}
	return cmd
}

func seedCmd(cfgPath *string) *cobra.Command {
	var seed int64
	var sites, months int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load deterministic synthetic sites and measurements",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			siteRows, measurements := synthetic.Generate(synthetic.Options{
				Seed: seed, Sites: sites, Months: months,
			})
			if err := st.InsertSites(ctx, siteRows); err != nil {
				return err
			}
			inserted, err := st.InsertMeasurements(ctx, measurements)
			if err != nil {
				return err
			}
			log.Printf("[SEED] %d sites, %d measurements inserted", len(siteRows), inserted)
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().IntVar(&sites, "sites", 120, "number of sites")
	cmd.Flags().IntVar(&months, "months", 24, "months of history")
	return cmd
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, *registry.Registry, error) {
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, nil, err
	}
	reg := registry.New(st, telemetry.NewLogger("registry"))
	if err := reg.Restore(ctx); err != nil {
		return nil, nil, fmt.Errorf("restore models: %w", err)
	}
	return st, reg, nil
}
