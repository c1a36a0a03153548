package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	internalhttp "github.com/EternisAI/silo-device/internal/api/http"
	"github.com/EternisAI/silo-device/internal/hub"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var AppVersion string

func main() {
	if len(os.Args) > 1 && os.Args[1] == "provision" {
		if err := runProvision(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	InitConfig("")

	slog.Info("Silo Device", "version", AppVersion, "device_id", config.Hub.DeviceID)

	if err := config.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	orchestrator, err := newOrchestrator(config)
	if err != nil {
		slog.Error("Failed to set up provisioning", "error", err)
		os.Exit(1)
	}

	client, err := newHubClient(config, orchestrator, hub.WithDesiredHandler(func(payload []byte) {
		slog.Info("Twin update", "payload", string(payload))
	}))
	if err != nil {
		slog.Error("Failed to set up hub client", "error", err)
		os.Exit(1)
	}

	dev, err := newAgent(client, config.Agent)
	if err != nil {
		slog.Error("Failed to set up agent", "error", err)
		os.Exit(1)
	}

	var server *http.Server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if config.Http.Enabled {
		services := &internalhttp.Services{
			Identity: orchestrator,
			Hub:      client,
			Version:  config.Agent.FirmwareVersion,
		}

		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		engine.Use(cors.New(cors.Config{
			AllowOrigins:  []string{"*"},
			AllowMethods:  []string{"GET", "POST"},
			AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "X-API-Key"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
		engine.Use(gin.Recovery())
		internalhttp.SetupRoute(engine, services, config.Http)

		server = &http.Server{
			Addr:    fmt.Sprintf(":%d", config.Http.Port),
			Handler: engine,
		}

		go func() {
			slog.Info("Starting HTTP server", "address", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP server error", "error", err)
				quit <- syscall.SIGTERM
			}
		}()
	}

	ctx, stop := context.WithCancel(context.Background())
	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		dev.run(ctx)
	}()

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-dev.Restart():
		slog.Info("Restarting after reboot request")
	}

	slog.Info("Shutting down...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			} else {
				slog.Info("HTTP server stopped")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-agentDone
		client.Disconnect()
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
}
