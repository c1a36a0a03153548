package main

import (
	"fmt"
	"time"

	"github.com/EternisAI/silo-device/internal/dps"
	"github.com/EternisAI/silo-device/internal/hub"
	"github.com/EternisAI/silo-device/internal/identity"
	"github.com/EternisAI/silo-device/internal/sas"
	"github.com/EternisAI/silo-device/internal/stream"
	internaltls "github.com/EternisAI/silo-device/internal/tls"
)

const dpsDialTimeout = 10 * time.Second

func newOrchestrator(cfg Config) (*identity.Orchestrator, error) {
	creds := identity.Credentials{
		ScopeID:      cfg.Hub.ScopeID,
		DeviceID:     cfg.Hub.DeviceID,
		SymmetricKey: cfg.Hub.SASKey,
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	tlsConfig, err := internaltls.LoadClientConfig(cfg.Dps.CAFile, "", cfg.Hub.TLSMinVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load DPS TLS config: %w", err)
	}

	client := dps.NewClient(cfg.Dps, stream.NewTLSStream(tlsConfig, dpsDialTimeout, 0))
	tokens := sas.NewBuilder(cfg.Auth.TokenValidity)
	return identity.NewOrchestrator(creds, client, tokens), nil
}

func newHubClient(cfg Config, identities hub.IdentitySource, opts ...hub.Option) (*hub.Client, error) {
	tlsConfig, err := internaltls.LoadClientConfig(cfg.Hub.CAFile, "", cfg.Hub.TLSMinVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load hub TLS config: %w", err)
	}

	opts = append(opts, hub.WithTLSConfig(tlsConfig))
	return hub.NewClient(cfg.Hub.Config, identities, opts...), nil
}
