// Package cmd wires the command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/yerroong/lg-chatbot/internal/log"
)

var (
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "lg-chatbot",
	Short: "LG 요금제 상담 챗봇 서버",
	Long: `통신사 요금제 추천 챗봇의 백엔드 서버입니다.

웹소켓으로 대화를 스트리밍하고, 대화 내역을 PostgreSQL에 보존하며,
요금제 카탈로그와 대화 조회용 REST API를 제공합니다.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false,
		"emit logs as JSON")
}

// newLogger builds the process logger from the persistent flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return log.New(log.Config{Level: level, JSON: logJSON})
}
