// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/cap-keycloak/keycloak"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// t.Setenv prevents t.Parallel
	t.Run("file-and-env", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "demo.yaml")
		require.NoError(os.WriteFile(path, []byte(`
server_url: https://sso.example.com
realm: acme
client_id: from-file
scopes: [profile]
`), 0o600))
		t.Setenv("KEYCLOAK_CLIENT_ID", "from-env")
		t.Setenv("KEYCLOAK_CLIENT_SECRET", "shh")

		c, err := loadConfig(path)
		require.NoError(err)
		assert.Equal("from-env", c.ClientID)
		assert.Equal("shh", c.ClientSecret)
		assert.Equal("acme", c.Realm)
		assert.Equal([]string{"profile"}, c.Scopes)
		assert.Equal("localhost:3000", c.Addr)
		assert.Equal([]string{"RS256"}, c.SigningAlgs)

		kc, err := c.keycloakConfig(hclog.NewNullLogger())
		require.NoError(err)
		assert.Equal("https://sso.example.com/realms/acme", kc.Issuer)
		assert.Equal(keycloak.ClientSecret("shh"), kc.ClientSecret)
		assert.Equal("http://localhost:3000/authorizationurl", kc.PostLogoutRedirectURL)
	})
	t.Run("missing-client-id", func(t *testing.T) {
		_, err := loadConfig("")
		assert.Error(t, err)
	})
	t.Run("missing-file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
