package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"
	"libdb.so/micglow"
)

var (
	config  = ""
	driver  = ""
	source  = ""
	device  = ""
	verbose = false
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file, defaults are used if empty")
	pflag.StringVarP(&driver, "driver", "d", driver, "override the matrix driver (serial, spi, console)")
	pflag.StringVarP(&source, "mic", "m", source, "override the microphone source (serial, synthetic)")
	pflag.StringVar(&device, "device", device, "override the serial device")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
}

func main() {
	pflag.Parse()

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	if driver != "" {
		cfg.Matrix.Driver = micglow.MatrixDriver(driver)
	}
	if source != "" {
		cfg.Mic.Source = micglow.MicSource(source)
	}
	if device != "" {
		cfg.Serial.Device = device
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	d, err := micglow.NewDaemon(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon failed: %w", err)
	}

	return nil
}

func readConfig() (*micglow.Config, error) {
	if config == "" {
		return micglow.DefaultConfig(), nil
	}

	f, err := os.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return micglow.ParseConfig(f)
}
