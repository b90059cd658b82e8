package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/logger"
)

// NewReconcileCmd grades attempts left in submitted by an interrupted submit.
func NewReconcileCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Grade attempts stuck between submit and grading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), *configPath, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum attempts to finalize")
	return cmd
}

func runReconcile(ctx context.Context, configPath string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	rt, err := buildRuntime(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer rt.Close()

	graded, err := rt.service.Reconcile(ctx, limit)
	if err != nil {
		return err
	}
	log.Info("reconcile finished", zap.Int("graded", graded))
	return nil
}
