// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package id generates opaque identifiers suitable for OIDC state and nonce
// values.
package id

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-uuid"
)

// idLen is the number of random characters in a generated id.
const idLen = 20

// New generates an id with an optional prefix. The random part is the first
// idLen characters of a random UUID with the dashes removed.
func New(optionalPrefix string) (string, error) {
	u, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	id := strings.ReplaceAll(u, "-", "")[:idLen]
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
