package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/EternisAI/silo-device/internal/sas"
)

func runProvision(args []string) error {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to application.yaml (default: ./application.yaml)")
	timeout := fs.Duration("timeout", 2*time.Minute, "Overall provisioning timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	InitConfig(*configFile)

	if err := config.Validate(); err != nil {
		return err
	}

	orchestrator, err := newOrchestrator(config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	id, err := orchestrator.Identity(ctx)
	if err != nil {
		return fmt.Errorf("provisioning failed at stage %s: %w", orchestrator.Last().Stage, err)
	}

	expiry := "unknown"
	if token, err := sas.Parse(id.Password); err == nil {
		expiry = token.ExpiresAt().UTC().Format(time.RFC3339)
	}

	fmt.Println("Provisioning successful!")
	fmt.Printf("  Hub:       %s\n", id.HostName)
	fmt.Printf("  Device ID: %s\n", id.DeviceID)
	fmt.Printf("  Username:  %s\n", id.Username)
	fmt.Printf("  Password:  %s (expires %s)\n", redacted, expiry)

	return nil
}
