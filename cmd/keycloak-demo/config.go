// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/cap-keycloak/keycloak"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"
)

const envPrefix = "KEYCLOAK"

// demoConfig is read from an optional YAML or JSON file and KEYCLOAK_*
// environment variables (for example KEYCLOAK_CLIENT_SECRET).
type demoConfig struct {
	Addr                  string   `mapstructure:"addr"`
	ServerURL             string   `mapstructure:"server_url"`
	Realm                 string   `mapstructure:"realm"`
	ClientID              string   `mapstructure:"client_id"`
	ClientSecret          string   `mapstructure:"client_secret"`
	RedirectURL           string   `mapstructure:"redirect_url"`
	PostLogoutRedirectURL string   `mapstructure:"post_logout_redirect_url"`
	Scopes                []string `mapstructure:"scopes"`
	ProviderCA            string   `mapstructure:"provider_ca"`
	SigningAlgs           []string `mapstructure:"signing_algs"`
	LogLevel              string   `mapstructure:"log_level"`
}

func loadConfig(path string) (*demoConfig, error) {
	v := viper.New()
	// every key needs a default so AutomaticEnv values reach Unmarshal
	v.SetDefault("addr", "localhost:3000")
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("realm", "master")
	v.SetDefault("client_id", "")
	v.SetDefault("client_secret", "")
	v.SetDefault("redirect_url", "http://localhost:3000/")
	v.SetDefault("post_logout_redirect_url", "http://localhost:3000/authorizationurl")
	v.SetDefault("scopes", []string{"profile", "email"})
	v.SetDefault("provider_ca", "")
	v.SetDefault("signing_algs", []string{string(keycloak.RS256)})
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file %q: %w", path, err)
		}
	}

	var c demoConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if c.ClientID == "" {
		return nil, fmt.Errorf("client_id is required (set %s_CLIENT_ID)", envPrefix)
	}
	return &c, nil
}

func (c *demoConfig) keycloakConfig(logger hclog.Logger) (*keycloak.Config, error) {
	opts := []keycloak.Option{
		keycloak.WithScopes(c.Scopes...),
		keycloak.WithLogger(logger),
	}
	if c.PostLogoutRedirectURL != "" {
		opts = append(opts, keycloak.WithPostLogoutRedirectURL(c.PostLogoutRedirectURL))
	}
	if len(c.SigningAlgs) > 0 {
		algs := make([]keycloak.Alg, 0, len(c.SigningAlgs))
		for _, a := range c.SigningAlgs {
			algs = append(algs, keycloak.Alg(a))
		}
		opts = append(opts, keycloak.WithSupportedSigningAlgs(algs...))
	}
	if c.ProviderCA != "" {
		opts = append(opts, keycloak.WithProviderCA(c.ProviderCA))
	}
	return keycloak.NewConfig(
		keycloak.KeycloakIssuer(c.ServerURL, c.Realm),
		c.ClientID,
		keycloak.ClientSecret(c.ClientSecret),
		c.RedirectURL,
		opts...,
	)
}
