package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"investments/internal/api"
	"investments/internal/app"
	"investments/internal/auth"
	"investments/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := os.Getenv("INVESTD_CONFIG")
	if configPath == "" {
		configPath = "config.yml"
	}

	root := &cobra.Command{
		Use:          "investd",
		Short:        "Investment interest server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "path to the YAML config")

	root.AddCommand(
		newServeCmd(&configPath),
		newTickCmd(&configPath),
		newTokenCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig treats a missing file at the default path as "use defaults".
func loadConfig(cmd *cobra.Command, path string) (config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API and the interest scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)
			slog.SetDefault(logger)

			a, err := app.New(ctx, cfg, app.Options{ConfigPath: *configPath, Logger: logger})
			if err != nil {
				return err
			}
			if !a.Start() {
				logger.Warn("interest scheduler not running, fix rate-percent or interval-minutes and reload")
			}

			server := api.New(a, logger)
			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info("investd listening", "addr", cfg.Server.Addr, "storage", cfg.StorageType)
			serveErr := httpServer.ListenAndServe()
			if errors.Is(serveErr, http.ErrServerClosed) {
				serveErr = nil
			}

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				logger.Error("shutdown save failed", "err", err)
				serveErr = errors.Join(serveErr, err)
			}
			logger.Info("investd stopped")
			return serveErr
		},
	}
}

func newTickCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one accrual pass over every stored account and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			// No one is connected to a one-shot run.
			cfg.Interest.OfflineAccrual = true
			logger := newLogger(cfg.LogLevel)

			a, err := app.New(ctx, cfg, app.Options{ConfigPath: *configPath, Logger: logger})
			if err != nil {
				return err
			}
			a.Interest.Configure(app.InterestSettings(cfg))

			n, err := a.Manager.Warm(ctx)
			if err != nil {
				_ = a.Close(ctx)
				return err
			}
			report, tickErr := a.Interest.Tick(ctx)
			if closeErr := a.Close(ctx); closeErr != nil {
				return errors.Join(tickErr, closeErr)
			}
			if tickErr != nil {
				return tickErr
			}
			logger.Info("tick complete",
				"loaded", n,
				"accrued", report.Accrued,
				"swept", report.Swept,
				"earned", report.Earned.String(),
				"duration", report.Duration.String(),
			)
			return nil
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Issue a bearer token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("account must be a uuid: %w", err)
			}
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			issuer, err := auth.NewIssuer(cfg.Auth.Secret)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(account, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token-ttl)")
	return cmd
}
