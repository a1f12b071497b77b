// Package main bootstraps the Corpus Query Builder dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"corpus_dashboard/auth"
	"corpus_dashboard/config"
	"corpus_dashboard/events"
	"corpus_dashboard/monitor"
	"corpus_dashboard/notifiers"
	"corpus_dashboard/notifiers/gotify"
	"corpus_dashboard/server"
	"corpus_dashboard/templates"
	"corpus_dashboard/websocket"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.json", "Path to the configuration file")
	listen := flag.String("listen", "", "Override the listen address from the configuration")
	testNotify := flag.Bool("test-notify", false, "Send a test notification through Gotify and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	if *testNotify {
		n := gotify.New(cfg.Gotify)
		if n == nil {
			log.Fatal("Gotify is not configured")
		}
		if err := n.SendTest(); err != nil {
			log.Fatalf("Failed to send test notification: %v", err)
		}
		fmt.Println("Test notification sent")
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.close()

	if err := a.server.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the configuration file, falling back to defaults when it
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("No configuration at %s, using defaults", path)
		return config.Default(), nil
	}
	return nil, err
}

// app holds the long-lived components wired together at startup.
type app struct {
	bus       *events.Bus
	store     *templates.Store
	monitor   *monitor.Monitor
	hub       *websocket.Hub
	notifiers *notifiers.Manager
	server    *server.Server
}

// newApp wires the event bus, template store, file monitor, websocket hub,
// notifiers and HTTP server from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{bus: events.NewBus(true)}

	store, err := templates.Open(cfg.TemplatesPath, a.bus)
	if err != nil {
		return nil, err
	}
	a.store = store
	log.Printf("Loaded %d templates from %s", store.Count(), store.Path())

	if cfg.WatchTemplates {
		a.monitor = monitor.New(store)
		if err := a.monitor.Start(); err != nil {
			log.Printf("Template monitor disabled: %v", err)
			a.monitor = nil
		}
	}

	a.notifiers = notifiers.NewManager(a.bus)
	if n := gotify.New(cfg.Gotify); n != nil {
		a.notifiers.Register(n)
		log.Printf("Gotify notifications enabled")
	}

	a.hub = websocket.NewHub(a.bus, websocket.WithMaxMessageSize(cfg.MaxQueryLength))
	a.hub.Start()

	srvCfg := server.DefaultConfig()
	srvCfg.Listen = cfg.Listen
	srvCfg.WebSocketHub = a.hub
	srvCfg.TemplateStore = store

	if static, err := getStaticFS(); err == nil {
		srvCfg.StaticFS = static
	}
	if docs, err := getDocsFS(); err == nil {
		srvCfg.DocsFS = docs
	}

	if cfg.IsOIDCEnabled() {
		provider, err := auth.NewProvider(ctx, cfg.OIDC, cfg.Local)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to set up authentication: %w", err)
		}
		srvCfg.AuthProvider = provider
		log.Printf("OIDC authentication enabled for %s", cfg.OIDC.ServiceURL)
	} else {
		log.Printf("Authentication disabled, every user may edit templates")
	}

	a.server = server.New(srvCfg)
	return a, nil
}

// close stops background components in reverse start order.
func (a *app) close() {
	if a.hub != nil {
		a.hub.Stop()
	}
	if a.notifiers != nil {
		if err := a.notifiers.Close(); err != nil {
			log.Printf("Failed to close notifiers: %v", err)
		}
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
}
