package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/silo-device/internal/api/http"
	"github.com/EternisAI/silo-device/internal/dps"
	"github.com/EternisAI/silo-device/internal/hub"
	"github.com/EternisAI/silo-device/internal/sas"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const redacted = "<redacted>"

type Config struct {
	Log   LogConfig
	Http  http.Config
	Hub   HubConfig
	Dps   dps.Config
	Auth  AuthConfig
	Agent AgentConfig
}

type HubConfig struct {
	ScopeID       string `mapstructure:"scope_id"`
	DeviceID      string `mapstructure:"device_id"`
	SASKey        string `mapstructure:"sas_key"`
	TLSMinVersion string `mapstructure:"tls_min_version"`
	hub.Config    `mapstructure:",squash"`
}

type AuthConfig struct {
	TokenValidity time.Duration `mapstructure:"token_validity"`
}

type AgentConfig struct {
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	RebootDelay       time.Duration `mapstructure:"reboot_delay"`
	FirmwareVersion   string        `mapstructure:"firmware_version"`
}

var config Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", LOG_LEVEL_INFO)
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.port", 8081)
	v.SetDefault("hub.port", hub.DefaultPort)
	v.SetDefault("hub.keep_alive", 60*time.Second)
	v.SetDefault("dps.endpoint", dps.DefaultEndpoint)
	v.SetDefault("dps.port", dps.DefaultPort)
	v.SetDefault("auth.token_validity", sas.DefaultValidity)
	v.SetDefault("agent.telemetry_interval", 10*time.Second)
	v.SetDefault("agent.reconnect_delay", 5*time.Second)
	v.SetDefault("agent.reboot_delay", 5*time.Second)
	v.SetDefault("agent.firmware_version", "1.1")
}

func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	var cfg Config

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("application")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/silo-device")
		v.SetConfigType("yaml")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// InitConfig loads the configuration into the package config and installs
// the logger. Settings come from application.yaml, .env and the environment.
func InitConfig(configFile string) {
	_ = godotenv.Load()

	cfg, err := loadConfig(viper.GetViper(), configFile)
	if err != nil {
		panic(err)
	}
	config = cfg

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config.Redacted(), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func (c Config) Validate() error {
	var missing []string
	if c.Hub.ScopeID == "" {
		missing = append(missing, "hub.scope_id")
	}
	if c.Hub.DeviceID == "" {
		missing = append(missing, "hub.device_id")
	}
	if c.Hub.SASKey == "" {
		missing = append(missing, "hub.sas_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.Agent.TelemetryInterval <= 0 || c.Agent.ReconnectDelay <= 0 {
		return fmt.Errorf("agent.telemetry_interval and agent.reconnect_delay must be positive")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Hub.SASKey != "" {
		c.Hub.SASKey = redacted
	}
	if c.Http.APIKey != "" {
		c.Http.APIKey = redacted
	}
	return c
}
