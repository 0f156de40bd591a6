package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/chaz8081/blelock/internal/ble"
	"github.com/chaz8081/blelock/internal/ble/protocol"
	"github.com/chaz8081/blelock/internal/config"
)

var cli struct {
	Config     string `short:"c" help:"Path to config file (default: ~/.config/blelock/config.yaml)."`
	LogLevel   string `help:"Override log level (debug, info, warn, error)."`
	Name       string `short:"n" help:"Override the advertised device name to connect to."`
	InitConfig bool   `help:"Write the default config file and exit."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("blelock"),
		kong.Description("Find a BLE lock, register with it and keep the session alive."),
		kong.UsageOnError(),
	)

	if cli.InitConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "init config: %v\n", err)
			os.Exit(1)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.Name != "" {
		cfg.Device.Name = cli.Name
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	if err := run(cfg); err != nil {
		slog.Error("blelock stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Goodbye!")
}

// run wires the adapter, client, supervisor and scanner together and blocks
// until the lock is given up on or a shutdown signal arrives.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := ble.NewTinyGoAdapter()

	// One counter for the whole process so source addresses keep
	// increasing across reconnects.
	var counter protocol.Counter
	clientOpts := cfg.ClientOptions()
	clientOpts.OnNotification = func(text string) {
		slog.Info("Lock says", "message", text)
	}

	client, err := ble.NewClient(adapter, &counter, clientOpts)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	sup := ble.NewSupervisor(client, cfg.SupervisorOptions())
	scanner := ble.NewScanner(adapter, cfg.Device.Name, sup.Run)

	slog.Info("Scanning for lock... Ctrl+C to quit.", "name", cfg.Device.Name)
	err = scanner.Run(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		slog.Info("Received signal, shutting down...", "requests_sent", counter.Value())
		return nil
	default:
		return err
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		fmt.Printf("Config loaded from %s\n", defaultPath)
		return cfg, nil
	}

	fmt.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== blelock ===")
	fmt.Printf("  Device:   %s\n", cfg.Device.Name)
	fmt.Printf("  Service:  %s (public char %s)\n", cfg.Device.ServiceUUID, cfg.Device.PublicCharUUID)
	if cfg.Device.DestinationAddress != "" {
		fmt.Printf("  Dest:     %s\n", cfg.Device.DestinationAddress)
	}
	fmt.Printf("  Retries:  %d handshake, %d session (delay %s)\n", cfg.Retry.MaxRetries, cfg.Retry.SessionMaxRetries, cfg.Retry.Delay)
	fmt.Printf("  Refresh:  %d attempts, settle %s\n", cfg.Discovery.MaxRefreshAttempts, cfg.Discovery.SettleDelay)
	fmt.Printf("  Pacing:   %s\n", cfg.Session.PacingInterval)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===============")
}
