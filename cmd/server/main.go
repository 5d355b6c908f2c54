package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "webrelay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("webrelay", pflag.ContinueOnError)
	configFile := flags.String("config", "", "YAML or TOML config file (overrides CONFIG_FILE)")
	port := flags.String("port", "", "Server port (overrides PORT)")
	host := flags.String("host", "", "Listen host (overrides HOST)")
	dev := flags.Bool("dev", false, "Development logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	load := config.Load
	if flags.Changed("config") {
		load = func() (*config.Config, error) { return config.LoadFile(*configFile) }
	}
	cfg, err := load()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	// SIGINT and SIGTERM trigger a graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
