package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/yerroong/lg-chatbot/api"
	"github.com/yerroong/lg-chatbot/internal/catalog"
	"github.com/yerroong/lg-chatbot/internal/chat"
	"github.com/yerroong/lg-chatbot/internal/config"
	"github.com/yerroong/lg-chatbot/internal/conversation"
	"github.com/yerroong/lg-chatbot/internal/database"
	"github.com/yerroong/lg-chatbot/internal/provider"
	"github.com/yerroong/lg-chatbot/internal/ws"
)

// Per-connection user-message throughput bounds.
const (
	defaultMessageRate  = rate.Limit(1) // one message per second sustained
	defaultMessageBurst = 5
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "챗봇 서버를 시작합니다",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	addr := cfg.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	logger := newLogger()
	logger.Info("starting chatbot server", "env", cfg.Env, "model", cfg.OpenAIModel)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := database.Migrate(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	store := conversation.New(pool, logger)

	streamer, err := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating completion provider: %w", err)
	}

	engine := chat.New(store, streamer, catalog.SystemPrompt(), logger)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultMessageBurst
	}
	wsHandler := ws.NewHandler(engine, ws.Config{
		Mode:           cfg.Mode(),
		TrustProxy:     cfg.TrustProxy,
		AllowedOrigins: cfg.CORSOrigins,
		MessageRate:    defaultMessageRate,
		MessageBurst:   burst,
	}, logger)

	server := api.NewServer(store, wsHandler, api.Config{
		Mode:        cfg.Mode(),
		TrustProxy:  cfg.TrustProxy,
		CORSOrigins: cfg.CORSOrigins,
	}, logger)

	logger.Info("server ready", "addr", addr, "ws", "/ws", "health", "/health")
	start := time.Now()
	err = server.Run(ctx, addr)
	logger.Info("server stopped", "uptime", time.Since(start))
	return err
}
