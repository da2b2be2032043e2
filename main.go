package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lumenworks/lumen/internal"
	"github.com/lumenworks/lumen/pkg/logger"
)

var log = logger.Get("Main")

// main loads the user configuration, constructs the Lumen pipeline and
// runs it until the process receives an interrupt or termination signal.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose logging output")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(int(logger.VERBOSE))
	}

	config := internal.LumenConfig{}
	if _, err := os.Stat(*configPath); err == nil {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
			return
		}
	} else if err := config.LoadFromEnv(); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Lumen has crashed: %v\n", err)
	}
}
