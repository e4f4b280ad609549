// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		prefix  string
		wantLen int
	}{
		{
			name:    "valid",
			prefix:  "st",
			wantLen: idLen + len("st_"),
		},
		{
			name:    "no-prefix",
			prefix:  "",
			wantLen: idLen,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := New(tt.prefix)
			require.NoError(err)
			if tt.prefix != "" {
				assert.Truef(strings.HasPrefix(got, tt.prefix+"_"), "%s does not start with %s_", got, tt.prefix)
			}
			assert.Len(got, tt.wantLen)
			assert.NotContains(strings.TrimPrefix(got, tt.prefix+"_"), "-")
			assert.Regexp(`^[0-9a-f]{20}$`, strings.TrimPrefix(got, tt.prefix+"_"))
		})
	}
	t.Run("unique", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		first, err := New("n")
		require.NoError(err)
		second, err := New("n")
		require.NoError(err)
		assert.NotEqual(first, second)
	})
}
