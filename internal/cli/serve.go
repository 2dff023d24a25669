package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AskRelay/internal/backend"
	"AskRelay/internal/chatbot"
	"AskRelay/internal/config"
	"AskRelay/internal/journal"
	"AskRelay/internal/server"
	"AskRelay/internal/session"
	"AskRelay/internal/telemetry"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	configPath string
	listenAddr string
	ollamaURL  string
	journal    string
	staticDir  string
	debug      bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&flags.listenAddr, "listen", "", "Listen address (overrides listen_addr)")
	cmd.Flags().StringVar(&flags.ollamaURL, "ollama-url", "", "Ollama base URL (overrides ollama_url)")
	cmd.Flags().StringVar(&flags.journal, "journal", "", "SQLite journal path (overrides journal_path)")
	cmd.Flags().StringVar(&flags.staticDir, "static", "", "Directory served at / (overrides static_dir)")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	return cmd
}

// apply copies explicitly set flags over cfg
func (f serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.ListenAddr = f.listenAddr
	}
	if changed("ollama-url") {
		cfg.OllamaURL = f.ollamaURL
	}
	if changed("journal") {
		cfg.JournalPath = f.journal
	}
	if changed("static") {
		cfg.StaticDir = f.staticDir
	}
	if f.debug {
		cfg.LogLevel = "debug"
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger, logCloser, err := telemetry.InitLogger(telemetry.LogOptions{
		File:   cfg.LogFile,
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logCloser.Close()

	providers := telemetry.Noop()
	if cfg.TelemetryEnabled {
		providers, err = telemetry.InitTelemetry(ctx, cfg.TelemetryDir, version)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	a, err := newApp(cfg, logger, providers)
	if err != nil {
		return err
	}
	defer a.close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", cfg.ListenAddr, "ollama_url", cfg.OllamaURL, "version", version)
		fmt.Printf("Server started: http://localhost%s\n", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown telemetry", "error", err)
	}
	return nil
}

// app is the wired relay
type app struct {
	handler http.Handler
	journal *journal.Journal
	logger  *slog.Logger
}

func newApp(cfg config.Config, logger *slog.Logger, providers *telemetry.Providers) (*app, error) {
	client, err := backend.NewOllamaClient(backend.ClientConfig{
		BaseURL: cfg.OllamaURL,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
		Tracer:  providers.Tracer,
		Meter:   providers.Meter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	a := &app{logger: logger}
	botCfg := chatbot.Config{
		Store:     session.NewMemoryStore(cfg.MaxHistoryMessages),
		Forwarder: client,
		Defaults: chatbot.Defaults{
			Model:       cfg.DefaultModel,
			Temperature: cfg.DefaultTemperature,
			MaxTokens:   cfg.DefaultMaxTokens,
		},
		Logger: logger,
		Tracer: providers.Tracer,
		Meter:  providers.Meter,
	}

	if cfg.JournalPath != "" {
		a.journal, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
		botCfg.Journal = a.journal
	}

	bot, err := chatbot.NewChatBot(botCfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize chatbot: %w", err)
	}

	a.handler = server.New(server.Config{
		Bot:       bot,
		Models:    client,
		Logger:    logger,
		OllamaURL: cfg.OllamaURL,
		StaticDir: cfg.StaticDir,
	}).Handler()

	return a, nil
}

func (a *app) close() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Error("failed to close journal", "error", err)
	}
}
