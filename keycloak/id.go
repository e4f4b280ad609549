// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"fmt"

	"github.com/hashicorp/cap-keycloak/sdk/id"
)

// NewID generates an ID with an optional prefix. The ID generated is suitable
// for a state or nonce.
func NewID(optionalPrefix string) (string, error) {
	const op = "NewID"
	id, err := id.New(optionalPrefix)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIDGeneratorFailed, err)
	}
	return id, nil
}
