package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"coop-door-controller/internal/agent"
	"coop-door-controller/internal/config"
	"coop-door-controller/internal/logging"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the agent configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Default().Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting coop door agent", "commit", commit, "built", date, "config", *configPath)

	a, err := agent.NewAgent(cfg, log)
	if err != nil {
		log.Error("failed to create agent", "error", err)
		os.Exit(1)
	}

	go a.Run()

	// Wait for termination signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agent")
	a.Shutdown()
	log.Info("agent shut down gracefully")
}
