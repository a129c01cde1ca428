package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yerroong/lg-chatbot/internal/config"
	"github.com/yerroong/lg-chatbot/internal/conversation"
	"github.com/yerroong/lg-chatbot/internal/database"
)

var sweepDays int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "오래된 대화를 정리합니다",
	Long:  "지정한 일수보다 오래 갱신되지 않은 대화와 메시지를 삭제합니다.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSweep(cmd.Context())
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepDays, "days", 30, "retention period in days")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(ctx context.Context) error {
	if sweepDays <= 0 {
		return fmt.Errorf("retention period must be positive, got %d", sweepDays)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := newLogger()

	pool, err := database.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	store := conversation.New(pool, logger)
	age := time.Duration(sweepDays) * 24 * time.Hour

	removed, err := store.SweepOlderThan(ctx, age)
	if err != nil {
		return fmt.Errorf("sweeping conversations: %w", err)
	}

	logger.Info("sweep finished", "removed", removed, "retention_days", sweepDays)
	return nil
}
