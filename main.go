// main.go
// Application entry point: loads configuration, initializes the logger and
// wires the hub, catalog, auth and HTTP server together.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/cardroom/switchboard/internal/api"
	"github.com/cardroom/switchboard/internal/auth"
	"github.com/cardroom/switchboard/internal/catalog"
	"github.com/cardroom/switchboard/internal/config"
	"github.com/cardroom/switchboard/internal/hub"
	"github.com/cardroom/switchboard/internal/logger"
	"github.com/cardroom/switchboard/internal/presence"
)

func main() {
	cfg := config.LoadConfig("switchboard.toml")

	logger.InitLogger(cfg.LoggerConfig())
	mainLogger := logger.NewLogger("main")
	mainLogger.WithFields(map[string]interface{}{
		"level":       cfg.LogLevel,
		"log_to_file": cfg.LogToFile,
		"log_to_json": cfg.LogToJSON,
	}).Info("Logger initialized")

	tokens, err := auth.NewTokenStore(cfg.TokensFile, logger.NewLogger("auth"))
	if err != nil {
		mainLogger.Fatalf("Unable to load token table: %v", err)
	}

	rooms, err := catalog.New(cfg.RoomsFile, logger.NewLogger("catalog"))
	if err != nil {
		mainLogger.Fatalf("Unable to open room catalog: %v", err)
	}

	// Presence events always fan out in-process; the NATS bridge is attached
	// only when a broker is configured and reachable.
	notifier := presence.NewFanout()
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL)
		if err != nil {
			mainLogger.Warnf("Unable to connect to NATS at %s: %v, presence events stay in-process", cfg.NatsURL, err)
			nc = nil
		} else {
			mainLogger.Infof("Connected to NATS at %s", cfg.NatsURL)
			notifier.Observe(presence.NewNATSPublisher(nc, logger.NewLogger("presence")).Notify)
		}
	}

	h := hub.NewHub(cfg.SendQueueSize, notifier, logger.NewLogger("hub"))
	go h.Run()

	server := api.NewServer(cfg, h, rooms, tokens, nc, logger.NewLogger("api"))
	if err := server.Start(); err != nil {
		mainLogger.Fatalf("Unable to start server: %v", err)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	mainLogger.Infof("Received %s, stopping", sig)
	server.Stop()
}
