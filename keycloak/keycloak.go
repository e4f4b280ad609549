// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"context"
	"fmt"
	"sync"
)

// Keycloak is a reconfigurable front for a Client. Configure discovers the
// issuer and installs a new Client; every other operation delegates to the
// installed Client and fails with ErrNotConfigured until Configure succeeds.
//
// The zero value is ready to use. A Keycloak is safe for concurrent use:
// operations in flight keep using the Client they started with while
// Configure swaps in a new one.
type Keycloak struct {
	mu     sync.RWMutex
	client *Client
}

// New returns an unconfigured Keycloak.
func New() *Keycloak {
	return &Keycloak{}
}

// Configure creates a Client from c (including issuer discovery) and makes
// it the active one. On error the previously configured Client, if any,
// stays active.
func (k *Keycloak) Configure(ctx context.Context, c *Config) error {
	const op = "Keycloak.Configure"
	client, err := NewClient(ctx, c)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.client = client
	return nil
}

// Client returns the active Client.
func (k *Keycloak) Client() (*Client, error) {
	const op = "Keycloak.Client"
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.client == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}
	return k.client, nil
}

// AuthURL returns the authorization URL. See Client.AuthURL.
func (k *Keycloak) AuthURL(ctx context.Context, opt ...Option) (string, error) {
	c, err := k.Client()
	if err != nil {
		return "", err
	}
	return c.AuthURL(ctx, opt...)
}

// Exchange completes the code flow. See Client.Exchange.
func (k *Keycloak) Exchange(ctx context.Context, params CallbackParams, opt ...Option) (*Tk, error) {
	c, err := k.Client()
	if err != nil {
		return nil, err
	}
	return c.Exchange(ctx, params, opt...)
}

// Refresh refreshes a token set. See Client.Refresh.
func (k *Keycloak) Refresh(ctx context.Context, rt RefreshToken, opt ...Option) (*Tk, error) {
	c, err := k.Client()
	if err != nil {
		return nil, err
	}
	return c.Refresh(ctx, rt, opt...)
}

// Introspect introspects a token. See Client.Introspect.
func (k *Keycloak) Introspect(ctx context.Context, token string, opt ...Option) (*Introspection, error) {
	c, err := k.Client()
	if err != nil {
		return nil, err
	}
	return c.Introspect(ctx, token, opt...)
}

// Revoke revokes a token. See Client.Revoke.
func (k *Keycloak) Revoke(ctx context.Context, token string, opt ...Option) error {
	c, err := k.Client()
	if err != nil {
		return err
	}
	return c.Revoke(ctx, token, opt...)
}

// UserInfo fetches the user info claims. See Client.UserInfo.
func (k *Keycloak) UserInfo(ctx context.Context, at AccessToken, claims interface{}, opt ...Option) error {
	c, err := k.Client()
	if err != nil {
		return err
	}
	return c.UserInfo(ctx, at, claims, opt...)
}

// SignOutURL returns the end session URL. See Client.SignOutURL.
func (k *Keycloak) SignOutURL(ctx context.Context, idTokenHint IDToken, opt ...Option) (string, error) {
	c, err := k.Client()
	if err != nil {
		return "", err
	}
	return c.SignOutURL(ctx, idTokenHint, opt...)
}
