// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// keycloak-demo is a small web app that signs users in with a Keycloak realm.
//
// Routes:
//
//	GET /authorizationurl   redirects to the realm's login page
//	GET /                   login callback, shows the user's claims
//	GET /signout?token=     redirects to the realm's logout page
//	GET /introspect?token=  shows the token's introspection response
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/cap-keycloak/keycloak"
	"github.com/hashicorp/cap-keycloak/keycloak/callback"
	"github.com/hashicorp/go-hclog"
)

const (
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 30 * time.Second
	defaultGracefulTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "keycloak-demo",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	kcConfig, err := cfg.keycloakConfig(logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	kc := keycloak.New()
	if err := kc.Configure(ctx, kcConfig); err != nil {
		return err
	}

	router, err := newRouter(kc, callback.NewSecureCookie(), logger)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	srvCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "login", fmt.Sprintf("http://%s/authorizationurl", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-srvCh:
		return fmt.Errorf("server closed with error: %w", err)
	case <-quit:
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
