package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/motorbid/auction-engine/configs"
	"github.com/motorbid/auction-engine/internal/auth"
	"github.com/motorbid/auction-engine/internal/engine"
	"github.com/motorbid/auction-engine/internal/handlers/websocket"
	"github.com/motorbid/auction-engine/internal/monitor"
	"github.com/motorbid/auction-engine/internal/notify"
	"github.com/motorbid/auction-engine/internal/store"
	"github.com/motorbid/auction-engine/pkg/types"
)

// logDeliverer is the handoff point to the external push transport; it logs
// the delivery so operators can trace the pipeline end to end.
type logDeliverer struct{}

func (logDeliverer) Deliver(ctx context.Context, n types.Notification) error {
	log.Infof("Delivering notification %s (%s) to user %s", n.ID, n.Type, n.UserID)
	return nil
}

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug"
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	var logBuffer *bytes.Buffer
	if cfg.Dashboard.Enabled {
		// The dashboard owns the terminal; redirect logs to its viewport.
		logBuffer = new(bytes.Buffer)
		log.SetOutput(logBuffer)
	}

	// Initialize the store
	db, err := store.NewPostgres(cfg)
	if err != nil {
		log.Fatal("Error connecting to database: ", err)
	}
	defer db.Close()

	// Wire the engine: the websocket handler doubles as the broadcaster.
	hub := websocket.NewAuctionHandler(db, auth.NewCookie(cfg.Auth.SecretKey, db), websocket.Options{
		SendBuffer:     cfg.WebSocket.SendBuffer,
		PingInterval:   cfg.PingInterval(),
		MaxMessageSize: int64(cfg.WebSocket.MaxMessageSize),
	})
	bidder := engine.NewBidder(db, hub, cfg.Auction.MinIncrement)
	hub.SetBidder(bidder)

	machine := engine.NewStateMachine(db, hub)
	scheduler := notify.NewScheduler(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := monitor.New(cfg.MonitorInterval(), machine, scheduler, logDeliverer{})
	mon.Start(ctx)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/auction", hub.HandleAuctionWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(db.Health())
	})

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		log.Infof("Server started on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	if cfg.Dashboard.Enabled {
		if err := runDashboard(db, logBuffer); err != nil {
			log.Errorf("Error running dashboard: %v", err)
		}
	} else {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
	}

	log.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
}
