package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/EternisAI/silo-device/internal/hub"
)

const (
	minTemp = -20.0
	minLux  = 0.0
)

type hubClient interface {
	EnsureConnected(ctx context.Context) error
	Connected() bool
	SendMeasurement(name string, value float64) error
	SendProperty(name, value string) (string, error)
	Methods() *hub.MethodRegistry
}

// agent keeps the hub connection alive, sends simulated telemetry and
// serves the reboot method.
type agent struct {
	hub hubClient
	cfg AgentConfig

	restart     chan struct{}
	restartOnce sync.Once
	reported    bool
}

func newAgent(h hubClient, cfg AgentConfig) (*agent, error) {
	a := &agent{
		hub:     h,
		cfg:     cfg,
		restart: make(chan struct{}),
	}
	if err := h.Methods().Register("reboot", a.reboot); err != nil {
		return nil, err
	}
	return a, nil
}

// Restart is closed once a requested reboot delay has elapsed.
func (a *agent) Restart() <-chan struct{} {
	return a.restart
}

func (a *agent) run(ctx context.Context) {
	telemetry := time.NewTicker(a.cfg.TelemetryInterval)
	defer telemetry.Stop()
	check := time.NewTicker(a.cfg.ReconnectDelay)
	defer check.Stop()

	a.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			a.connect(ctx)
		case <-telemetry.C:
			a.sendTelemetry()
		}
	}
}

func (a *agent) connect(ctx context.Context) {
	wasConnected := a.hub.Connected()
	if err := a.hub.EnsureConnected(ctx); err != nil {
		slog.Error("Hub connection failed", "error", err, "retry_in", a.cfg.ReconnectDelay)
		return
	}
	if wasConnected && a.reported {
		return
	}

	if _, err := a.hub.SendProperty("firmware_ver", a.cfg.FirmwareVersion); err != nil {
		slog.Error("Failed to report firmware version", "error", err)
		return
	}
	a.reported = true
}

func (a *agent) sendTelemetry() {
	if !a.hub.Connected() {
		slog.Debug("Skipping telemetry, hub not connected")
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	measurements := []struct {
		name  string
		value float64
	}{
		{"temp", minTemp + float64(rand.IntN(10))},
		{"lux", minLux + float64(rand.IntN(10))},
		{"free_heap", float64(mem.HeapIdle - mem.HeapReleased)},
	}
	for _, m := range measurements {
		if err := a.hub.SendMeasurement(m.name, m.value); err != nil {
			slog.Error("Failed to send measurement", "name", m.name, "error", err)
			return
		}
	}
}

func (a *agent) reboot(_ context.Context, _ []byte) ([]byte, error) {
	slog.Info("Reboot requested", "delay", a.cfg.RebootDelay)
	time.AfterFunc(a.cfg.RebootDelay, func() {
		a.restartOnce.Do(func() { close(a.restart) })
	})
	return nil, nil
}
