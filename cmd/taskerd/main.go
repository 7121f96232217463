// Command taskerd runs the generation task orchestrator: a Telegram bot
// and an HTTP API in front of a provider dispatch pipeline with layered
// failure recovery.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/aviv90/tasker-server-sub010/internal/channels"
	"github.com/aviv90/tasker-server-sub010/internal/config"
	"github.com/aviv90/tasker-server-sub010/internal/gateway"
	"github.com/aviv90/tasker-server-sub010/internal/httpapi"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
)

const version = "0.1.0"

type cli struct {
	Config string `short:"c" help:"Path to the config file." type:"path"`
	Debug  bool   `short:"d" help:"Force debug logging."`

	Run     runCmd     `cmd:"" default:"1" help:"Run the orchestrator."`
	Version versionCmd `cmd:"" help:"Print the version."`
	HashKey hashKeyCmd `cmd:"" name:"hash-key" help:"Hash an API key for the config file."`
}

type versionCmd struct{}

func (v *versionCmd) Run() error {
	fmt.Printf("taskerd %s\n", version)
	return nil
}

type hashKeyCmd struct {
	Key string `arg:"" help:"The API key to hash."`
}

func (h *hashKeyCmd) Run() error {
	hash, err := httpapi.HashAPIKey(h.Key)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

type runCmd struct{}

func (r *runCmd) Run(c *cli) error {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := ParseLevel(cfg.Logging.Level)
	if c.Debug {
		level = LevelDebug
	}
	Init(&Config{
		Level:      level,
		ShowCaller: cfg.Logging.ShowCaller,
	})

	L_info("taskerd starting", "version", version, "config", cfg.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	// Channels and the event stream subscribe before the gateway starts
	// so recovered tasks cannot publish into the void.
	manager := channels.NewManager(gw)
	if err := manager.StartAll(ctx, cfg); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	api := httpapi.NewServer(gw)
	if err := api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start http api: %w", err)
	}

	gw.Start(ctx)
	L_info("taskerd ready",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"providers", len(gw.Providers()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	L_info("taskerd shutting down", "signal", sig.String())

	cancel()
	if err := api.Stop(); err != nil {
		L_warn("taskerd: http api stop failed", "error", err)
	}
	manager.StopAll()
	gw.Stop()

	L_info("taskerd stopped")
	return nil
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("taskerd"),
		kong.Description("Generation task orchestrator for images, video and music."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(&c); err != nil {
		fmt.Fprintf(os.Stderr, "taskerd: %v\n", err)
		os.Exit(1)
	}
}
