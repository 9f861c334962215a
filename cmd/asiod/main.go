package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougsko/asiod/pkg/config"
	"github.com/dougsko/asiod/pkg/engine"
	"github.com/dougsko/asiod/pkg/logging"
)

var (
	configPath = flag.String("config", "config.yaml", "Configuration file path")
	socketPath = flag.String("socket", "", "Unix socket path (overrides api.unix_socket)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
	version    = flag.Bool("version", false, "Show version information")
)

const Build = "development"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("asiod version %s (%s)\n", engine.Version, Build)
		os.Exit(0)
	}

	// Load configuration; a missing default file falls back to built-in defaults
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if _, statErr := os.Stat(*configPath); !os.IsNotExist(statErr) || isFlagSet("config") {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = config.Default()
	}
	if *socketPath != "" {
		cfg.API.UnixSocket = *socketPath
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Info("main", fmt.Sprintf("asiod version %s starting...", engine.Version))
	for i, d := range cfg.Drivers {
		logging.Info("main", fmt.Sprintf("Driver %d: %s", i, d.Name))
	}
	logging.Info("main", fmt.Sprintf("Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port))

	daemon, err := NewASIODaemon(cfg, *configPath)
	if err != nil {
		logging.Error("main", fmt.Sprintf("Failed to create daemon: %v", err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	if err := daemon.Start(); err != nil {
		logging.Error("main", fmt.Sprintf("Failed to start daemon: %v", err))
		os.Exit(1)
	}

	logging.Info("main", "asiod started successfully")

	// SIGHUP reopens the log file for external rotation
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := logging.GetGlobalLogger().Rotate(); err != nil {
				logging.Warn("main", fmt.Sprintf("Log rotation failed: %v", err))
			}
			continue
		}
		break
	}
	logging.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Error("main", fmt.Sprintf("Error during shutdown: %v", err))
	}

	logging.Info("main", "asiod stopped")
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
