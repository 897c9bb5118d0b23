package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/httpapi"
	"github.com/suspectuso/commando-rewards/internal/ledger"
	"github.com/suspectuso/commando-rewards/internal/membership"
	"github.com/suspectuso/commando-rewards/internal/notifier"
	"github.com/suspectuso/commando-rewards/internal/persist"
	"github.com/suspectuso/commando-rewards/internal/scheduler"
	"github.com/suspectuso/commando-rewards/internal/storage"
	"github.com/suspectuso/commando-rewards/internal/telegram"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Balances go out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	// Load config
	cfg := config.Load()

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	// Runtime settings
	settings, err := config.LoadSettings(cfg.SettingsPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("settings file missing, starting unconfigured", "path", cfg.SettingsPath)
	case err != nil:
		log.Error("load settings", "path", cfg.SettingsPath, "error", err)
		os.Exit(1)
	default:
		if err := settings.Validate(); err != nil {
			log.Warn("settings incomplete", "error", err)
		}
	}
	holder := config.NewSettingsHolder(cfg.SettingsPath, settings)

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AdminID != 0 {
		if err := store.EnsureAdmin(ctx, cfg.AdminID, ""); err != nil {
			log.Error("ensure admin", "error", err)
			os.Exit(1)
		}
	}

	// Document stores
	open, err := openBackends(ctx, cfg, log)
	if err != nil {
		log.Error("init document stores", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	stores := ledger.NewStores(&persist.Lock{}, open)

	// Initialize telegram bot
	bot, err := telegram.New(cfg, holder, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	verifier := membership.NewVerifier(bot, holder, cfg.VerifyTimeout, log)
	notify := notifier.New(cfg, bot, log)
	ldg := ledger.New(cfg, store, stores, verifier, notify, holder, log)

	// Start API server
	api := httpapi.NewServer(ldg, verifier, cfg.AdminKey, log)
	go func() {
		if err := api.Start(ctx, cfg.HTTPPort); err != nil {
			log.Error("api server", "error", err)
			cancel()
		}
	}()

	// Start scheduled jobs
	jobs, err := scheduler.New(cfg, ldg, log)
	if err != nil {
		log.Error("init scheduler", "error", err)
		os.Exit(1)
	}
	jobs.Start(ctx)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// SIGHUP re-reads the settings file
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				if err := holder.Reload(); err != nil {
					log.Error("reload settings", "error", err)
					continue
				}
				log.Info("settings reloaded", "path", cfg.SettingsPath)
			}
		}
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx, ldg)

	if err := jobs.Shutdown(); err != nil {
		log.Warn("scheduler shutdown", "error", err)
	}
}

// openBackends picks where the JSON documents live
func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (func(name string) persist.Backend, error) {
	switch cfg.StoreBackend {
	case "redis":
		client, err := persist.Connect(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		log.Info("document stores on redis", "addr", client.Options().Addr)
		return func(name string) persist.Backend {
			return persist.NewRedisBackend(client, name)
		}, nil
	case "file", "":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		log.Info("document stores on disk", "dir", cfg.DataDir)
		return func(name string) persist.Backend {
			return persist.NewFileBackend(filepath.Join(cfg.DataDir, name+".json"))
		}, nil
	}
	return nil, errors.New("unknown STORE_BACKEND " + cfg.StoreBackend)
}
