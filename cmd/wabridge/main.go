// Package main runs the WhatsApp Web automation bridge: a browser-driven
// session driver with a demo fallback, a WebSocket event relay, a SQLite
// message store, and a small REST surface for dashboards.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/wabridge/pkg/api"
	appconfig "github.com/entrhq/wabridge/pkg/config"
	"github.com/entrhq/wabridge/pkg/logging"
	"github.com/entrhq/wabridge/pkg/relay"
	"github.com/entrhq/wabridge/pkg/store"
	"github.com/entrhq/wabridge/pkg/whatsapp"
)

const version = "0.1.0"

type flags struct {
	ConfigPath  string
	ListenAddr  string
	DBPath      string
	SessionDir  string
	Headless    bool
	ShowVersion bool
}

func main() {
	f := parseFlags()

	if f.ShowVersion {
		fmt.Printf("wabridge v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, f); err != nil {
		cancel()
		log.Fatalf("Application error: %v", err)
	}
}

// parseFlags parses command line flags and environment variables.
func parseFlags() *flags {
	f := &flags{}

	flag.StringVar(&f.ConfigPath, "config", os.Getenv("WABRIDGE_CONFIG"), "Path to YAML config file (or set WABRIDGE_CONFIG env var)")
	flag.StringVar(&f.ListenAddr, "listen", os.Getenv("WABRIDGE_LISTEN"), "HTTP listen address (or set WABRIDGE_LISTEN env var)")
	flag.StringVar(&f.DBPath, "db", os.Getenv("WABRIDGE_DB"), "SQLite database path (or set WABRIDGE_DB env var)")
	flag.StringVar(&f.SessionDir, "session-dir", os.Getenv("WABRIDGE_SESSION_DIR"), "Browser profile directory (or set WABRIDGE_SESSION_DIR env var)")
	flag.BoolVar(&f.Headless, "headless", false, "Run the driven browser without a window")
	flag.BoolVar(&f.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "wabridge - WhatsApp Web automation bridge\n\n")
		fmt.Fprintf(os.Stderr, "Usage: wabridge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  WABRIDGE_CONFIG        Path to YAML config file\n")
		fmt.Fprintf(os.Stderr, "  WABRIDGE_LISTEN        HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  WABRIDGE_DB            SQLite database path\n")
		fmt.Fprintf(os.Stderr, "  WABRIDGE_SESSION_DIR   Browser profile directory\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  wabridge                                 # Defaults: :8080, wabridge.db\n")
		fmt.Fprintf(os.Stderr, "  wabridge -listen :9090 -headless\n")
		fmt.Fprintf(os.Stderr, "  wabridge -config wabridge.yaml\n")
	}

	flag.Parse()
	return f
}

// loadConfig layers explicit flags over the config file over the defaults.
func loadConfig(f *flags) (appconfig.Config, error) {
	cfg, err := appconfig.Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}

	if f.ListenAddr != "" {
		cfg.ListenAddr = f.ListenAddr
	}
	if f.DBPath != "" {
		cfg.DatabasePath = f.DBPath
	}
	if f.SessionDir != "" {
		cfg.SessionDir = f.SessionDir
	}
	headlessSet := false
	flag.Visit(func(fl *flag.Flag) {
		if fl.Name == "headless" {
			headlessSet = true
		}
	})
	if headlessSet {
		cfg.Headless = f.Headless
	}
	return cfg, nil
}

// run executes the main application logic.
func run(ctx context.Context, f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.NewLogger("main")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	messages, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open message store: %w", err)
	}
	defer messages.Close()

	bot := whatsapp.New(whatsapp.Config{
		SessionDir:    cfg.SessionDir,
		Headless:      cfg.Headless,
		DemoSeedDelay: cfg.DemoSeedDelay,
		DemoSendDelay: cfg.DemoSendDelay,
	})
	defer bot.Shutdown()

	hub := relay.NewHub(bot, messages)
	go hub.Run(ctx)
	defer hub.Shutdown()

	// Browser startup can take a while; bring the HTTP surface up first and
	// let the driver settle into live or demo mode in the background.
	go func() {
		result := bot.Initialize(ctx)
		if result.Mode == whatsapp.ModeDemo {
			logger.Warnf("session driver running in demo mode")
		} else {
			logger.Infof("session driver ready (live mode)")
		}
	}()

	server := api.NewServer(bot, hub, messages, cfg.AutoReplyDelay)

	fmt.Printf("wabridge v%s\n", version)
	fmt.Printf("Listening: %s\n", cfg.ListenAddr)
	fmt.Printf("Database:  %s\n", cfg.DatabasePath)
	fmt.Println()

	if err := server.Start(ctx, cfg.ListenAddr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
