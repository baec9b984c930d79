// Package main is the out-of-process supervisor for the NeuralFS
// engine. It watches the heartbeat file, restarts a hung or dead engine
// within the restart policy, restores the host shell when the policy is
// exhausted, and performs the swap-and-restart update protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/neuralfs/neuralfs/internal/config"
	"github.com/neuralfs/neuralfs/internal/watchdog"
	"github.com/neuralfs/neuralfs/pkg/logging"
)

var version = "dev"

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return home + "/.neuralfs/config.json"
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "config file path")
	enginePath := flag.String("engine", "neuralfs", "engine binary to supervise")
	restoreCmd := flag.String("restore-shell", "", "command run to restore the host shell on escalation")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("neuralfs-watchdog %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Debug || *debug, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("watchdog starting",
		zap.String("version", version),
		zap.String("engine", *enginePath),
		zap.String("heartbeat", cfg.HeartbeatPath()))

	launcher := &watchdog.ExecLauncher{
		Path:   *enginePath,
		Args:   []string{"-config", *configPath},
		Logger: logger,
	}
	monitor := watchdog.NewMonitor(cfg.HeartbeatPath(), launcher,
		watchdog.WithMonitorLogger(logger),
		watchdog.WithCheckInterval(time.Duration(cfg.Watchdog.HeartbeatIntervalMs)*time.Millisecond),
		watchdog.WithStaleAfter(time.Duration(cfg.Watchdog.HeartbeatTimeoutSec)*time.Second),
		watchdog.WithRestartPolicy(cfg.Watchdog.MaxRestartAttempts,
			time.Duration(cfg.Watchdog.RestartCooldownSec)*time.Second),
		watchdog.WithEnginePath(*enginePath),
		watchdog.WithEscalation(watchdog.EscalateToShell(cfg.DataDir, *restoreCmd, logger)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := monitor.ServeUpdates(ctx, cfg.WatchdogSocket()); err != nil && ctx.Err() == nil {
			logger.Error("update listener failed", zap.Error(err))
		}
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("watchdog shutting down")
		cancel()
	}()

	if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("monitor failed", zap.Error(err))
	}
}
