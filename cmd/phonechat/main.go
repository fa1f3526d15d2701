package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/phonechat-go/internal/api"
	"github.com/comigor/phonechat-go/internal/config"
	"github.com/comigor/phonechat-go/internal/engine"
	"github.com/comigor/phonechat-go/internal/kv"
	"github.com/comigor/phonechat-go/internal/llm"
	"github.com/comigor/phonechat-go/internal/logger"
	"github.com/comigor/phonechat-go/internal/mcpserver"
)

var version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "phonechat",
	Short:         "Reply orchestration engine for a simulated phone chat",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv("CONFIG_PATH", configPath)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and websocket event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout belongs to the MCP transport
		cfg, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}
		store, eng, err := build(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer eng.Close()
		return mcpserver.Serve(mcpserver.New(eng, version))
	},
}

func loadConfig(logOut *os.File) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if logOut != nil {
		logger.Configure(level, cfg.Log.Format, logOut)
	} else {
		logger.Configure(level, cfg.Log.Format, nil)
	}
	return cfg, nil
}

func build(cfg *config.Config) (kv.Store, *engine.Engine, error) {
	store, err := kv.Open(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	var client llm.Client
	if c, err := llm.NewClient(cfg.LLM); err != nil {
		logger.L.Warn("completion API not configured; replies will fail until it is", "error", err)
	} else {
		client = c
	}
	logger.L.Info("engine ready", "store", cfg.Store.Driver, "model", cfg.LLM.Model, "debounce_window", cfg.Chat.DebounceWindow)
	return store, engine.New(client, *cfg, store), nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, eng, err := build(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer eng.Close()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           api.New(eng).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L.Info("starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.L.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.L.Error("phonechat failed", "error", err)
		os.Exit(1)
	}
}
