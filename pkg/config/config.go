// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the runtime configuration for the gateway, populated
// from environment variables through viper.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config carries every tunable the gateway reads from the environment.
type Config struct {
	// Bind address for the HTTP listener.
	Host string
	Port int

	// Upstream signing material. Required in production.
	EnableAppID          string
	EnablePrivateKeyPath string

	// "production" enables the strict redirect-URI policy and disables the
	// sandbox token escape hatches.
	EnableEnv string

	// Defaults for upstream consent initiation.
	ASPSPName        string
	ASPSPCountry     string
	OAuthRedirectURL string

	// Overrides the issuer derived from forwarding headers.
	OAuthIssuer string

	// Optional Redis backend for the pending-consent state mapper.
	StateRedisURL string
}

// envBindings maps struct concerns to their environment variable names.
var envBindings = map[string]string{
	"host":                    "MCP_HOST",
	"port":                    "MCP_PORT",
	"enable_app_id":           "ENABLE_APP_ID",
	"enable_private_key_path": "ENABLE_PRIVATE_KEY_PATH",
	"enable_env":              "ENABLE_ENV",
	"aspsp_name":              "ENABLE_BANKING_ASPSP_ID",
	"aspsp_country":           "ENABLE_ASPSP_COUNTRY",
	"oauth_redirect_url":      "ENABLE_OAUTH_REDIRECT_URL",
	"oauth_issuer":            "OAUTH_ISSUER",
	"state_redis_url":         "STATE_REDIS_URL",
}

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8000)
	v.SetDefault("enable_env", "sandbox")
	v.SetDefault("aspsp_country", "FI")

	cfg := &Config{
		Host:                 v.GetString("host"),
		Port:                 v.GetInt("port"),
		EnableAppID:          v.GetString("enable_app_id"),
		EnablePrivateKeyPath: v.GetString("enable_private_key_path"),
		EnableEnv:            v.GetString("enable_env"),
		ASPSPName:            v.GetString("aspsp_name"),
		ASPSPCountry:         v.GetString("aspsp_country"),
		OAuthRedirectURL:     v.GetString("oauth_redirect_url"),
		OAuthIssuer:          v.GetString("oauth_issuer"),
		StateRedisURL:        v.GetString("state_redis_url"),
	}
	if cfg.ASPSPName == "" && !cfg.Production() {
		cfg.ASPSPName = "MOCKASPSP_SANDBOX"
	}
	return cfg, nil
}

// Production reports whether the gateway runs with the strict policy set.
func (c *Config) Production() bool {
	return c.EnableEnv == "production"
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
