package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pharmacore/m/domain"
	"pharmacore/m/internal/bootstrap"
	"pharmacore/m/internal/config"
	"pharmacore/m/internal/database"
	"pharmacore/m/internal/forecasting"
	"pharmacore/m/internal/migrations"
	"pharmacore/m/internal/seed"
	"pharmacore/m/internal/telemetry"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	dsn        string
	modelsDir  string
	pharmacyID int64
	kind       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "forecastctl",
		Short:         "Operate pharmacy demand forecasts from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.dsn, "dsn", "", "database DSN (defaults to DATABASE_DSN)")
	root.PersistentFlags().StringVar(&g.modelsDir, "models-dir", "", "model directory for the file store (defaults to MODELS_DIR)")
	root.PersistentFlags().Int64Var(&g.pharmacyID, "pharmacy", 0, "pharmacy id")
	root.PersistentFlags().StringVar(&g.kind, "type", "product", "target type: product or category")

	root.AddCommand(migrateCmd(g), seedCmd(g), trainCmd(g), forecastCmd(g), accuracyCmd(g))
	return root
}

func (g *globals) config() config.Config {
	cfg := config.Load()
	if g.dsn != "" {
		cfg.DatabaseDSN = g.dsn
	}
	if g.modelsDir != "" {
		cfg.ModelsDir = g.modelsDir
	}
	return cfg
}

func (g *globals) open() (*sqlx.DB, config.Config, error) {
	cfg := g.config()
	log.Logger = telemetry.NewLogger(cfg.LogLevel, "console").Level(zerolog.WarnLevel)
	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, cfg, err
	}
	if err := migrations.Apply(db); err != nil {
		db.Close()
		return nil, cfg, err
	}
	return db, cfg, nil
}

// withService runs fn against a service wired from configuration.
func (g *globals) withService(ctx context.Context, fn func(*forecasting.Service, *sqlx.DB) error) error {
	if g.pharmacyID <= 0 {
		return fmt.Errorf("--pharmacy is required")
	}
	db, cfg, err := g.open()
	if err != nil {
		return err
	}
	defer db.Close()
	fc, err := bootstrap.NewForecasting(ctx, cfg, db, nil, &log.Logger)
	if err != nil {
		return err
	}
	defer fc.Close()
	return fn(fc.Service, db)
}

func (g *globals) targetKind() (domain.TargetKind, error) {
	return domain.ParseTargetKind(g.kind)
}

func migrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := g.open()
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func seedCmd(g *globals) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load daily sales history from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := g.open()
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := seed.LoadSalesHistory(db, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rows\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "csv", "", "CSV with pharmacy_id,product_id,sale_date,quantity_sold,total_revenue")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func trainCmd(g *globals) *cobra.Command {
	var id, name string
	var lookback int
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train and store the model for one target",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := g.targetKind()
			if err != nil {
				return err
			}
			return g.withService(cmd.Context(), func(svc *forecasting.Service, _ *sqlx.DB) error {
				res, msg, err := svc.Train(cmd.Context(), forecasting.TrainRequest{
					PharmacyID:   g.pharmacyID,
					Kind:         kind,
					TargetID:     id,
					TargetName:   name,
					LookbackDays: lookback,
				})
				if err != nil {
					return err
				}
				if res == nil {
					return fmt.Errorf("%s", msg)
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "product or category id")
	cmd.Flags().StringVar(&name, "name", "", "display name stored with the model")
	cmd.Flags().IntVar(&lookback, "lookback", 0, "history window in days (defaults to FORECAST_LOOKBACK_DAYS)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func forecastCmd(g *globals) *cobra.Command {
	var id, name string
	var horizon int
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Print a forecast for one target, training it when needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := g.targetKind()
			if err != nil {
				return err
			}
			if horizon <= 0 {
				return fmt.Errorf("--horizon must be positive")
			}
			return g.withService(cmd.Context(), func(svc *forecasting.Service, _ *sqlx.DB) error {
				res, err := svc.Forecast(cmd.Context(), forecasting.ForecastRequest{
					PharmacyID: g.pharmacyID,
					Kind:       kind,
					TargetID:   id,
					TargetName: name,
					Horizon:    horizon,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "product or category id")
	cmd.Flags().StringVar(&name, "name", "", "display name used in the message")
	cmd.Flags().IntVar(&horizon, "horizon", 30, "days to forecast")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func accuracyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "accuracy",
		Short: "List trained models and their holdout accuracy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withService(cmd.Context(), func(svc *forecasting.Service, _ *sqlx.DB) error {
				models, err := svc.ListModels(cmd.Context(), g.pharmacyID)
				if err != nil {
					return err
				}
				summary, err := svc.AccuracySummary(cmd.Context(), g.pharmacyID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"summary": summary, "models": models})
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
