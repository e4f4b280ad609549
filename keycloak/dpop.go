// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/segmentio/ksuid"
)

const (
	// DPoPHeaderName is the request header carrying a DPoP proof.
	DPoPHeaderName = "DPoP"

	// DPoPJwtType is the "typ" header of a DPoP proof.
	DPoPJwtType = "dpop+jwt"

	// DPoPTokenType is the token type (and Authorization scheme) of a DPoP
	// bound access token.
	DPoPTokenType = "DPoP"
)

// DPoPKey is a key pair used to sign DPoP proofs.
//
// See: https://www.rfc-editor.org/rfc/rfc9449.html
type DPoPKey struct {
	private    jwk.Key
	public     jwk.Key
	alg        jwa.SignatureAlgorithm
	thumbprint string
}

// GenerateDPoPKey creates a new ephemeral P-256 key for DPoP proofs.
func GenerateDPoPKey() (*DPoPKey, error) {
	const op = "GenerateDPoPKey"
	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate key: %w: %w", op, ErrDPoP, err)
	}
	return NewDPoPKey(raw)
}

// NewDPoPKey wraps an existing private key. Supported keys are
// *ecdsa.PrivateKey (P-256, P-384, P-521), *rsa.PrivateKey and
// ed25519.PrivateKey.
func NewDPoPKey(raw crypto.Signer) (*DPoPKey, error) {
	const op = "NewDPoPKey"
	if raw == nil {
		return nil, fmt.Errorf("%s: key is nil: %w", op, ErrNilParameter)
	}
	var alg jwa.SignatureAlgorithm
	switch k := raw.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			alg = jwa.ES256()
		case elliptic.P384():
			alg = jwa.ES384()
		case elliptic.P521():
			alg = jwa.ES512()
		default:
			return nil, fmt.Errorf("%s: unsupported curve: %w", op, ErrUnsupportedAlg)
		}
	case *rsa.PrivateKey:
		alg = jwa.RS256()
	case ed25519.PrivateKey:
		alg = jwa.EdDSA()
	default:
		return nil, fmt.Errorf("%s: unsupported key type %T: %w", op, raw, ErrUnsupportedAlg)
	}

	key, err := jwk.Import(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create JWK: %w: %w", op, ErrDPoP, err)
	}
	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to compute thumbprint: %w: %w", op, ErrDPoP, err)
	}
	public, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create public key: %w: %w", op, ErrDPoP, err)
	}
	return &DPoPKey{
		private:    key,
		public:     public,
		alg:        alg,
		thumbprint: base64.RawURLEncoding.EncodeToString(thumbprint),
	}, nil
}

// Thumbprint returns the base64url SHA-256 JWK thumbprint of the public key,
// the value a DPoP bound token carries in its "cnf.jkt" claim.
func (k *DPoPKey) Thumbprint() string {
	return k.thumbprint
}

// Algorithm returns the JWS algorithm proofs are signed with.
func (k *DPoPKey) Algorithm() string {
	return k.alg.String()
}

// Proof returns a signed DPoP proof for a request. The htu claim is the URI
// without query and fragment. When accessToken is not empty the proof
// includes its "ath" hash.
func (k *DPoPKey) Proof(method, uri string, accessToken AccessToken, iat time.Time) (string, error) {
	const op = "DPoPKey.Proof"
	if method == "" {
		return "", fmt.Errorf("%s: method is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s: invalid uri %q: %w", op, uri, ErrInvalidParameter)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""

	token := jwt.New()
	claims := map[string]interface{}{
		"jti": ksuid.New().String(),
		"htm": method,
		"htu": u.String(),
		"iat": iat.Unix(),
	}
	if accessToken != "" {
		claims["ath"] = AccessTokenHash(accessToken)
	}
	for name, v := range claims {
		if err := token.Set(name, v); err != nil {
			return "", fmt.Errorf("%s: unable to set %s: %w: %w", op, name, ErrDPoP, err)
		}
	}

	headers := jws.NewHeaders()
	if err := headers.Set("typ", DPoPJwtType); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrDPoP, err)
	}
	if err := headers.Set("jwk", k.public); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrDPoP, err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(k.alg, k.private, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign proof: %w: %w", op, ErrDPoP, err)
	}
	return string(signed), nil
}

// AccessTokenHash returns the base64url SHA-256 hash of an access token, the
// "ath" claim of a DPoP proof.
func AccessTokenHash(t AccessToken) string {
	sum := sha256.Sum256([]byte(t))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// dpopTransport adds a DPoP proof to every request it sends.
type dpopTransport struct {
	base        http.RoundTripper
	key         *DPoPKey
	accessToken AccessToken
	now         func() time.Time
}

func (t *dpopTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	proof, err := t.key.Proof(req.Method, req.URL.String(), t.accessToken, t.now())
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Header.Set(DPoPHeaderName, proof)
	return t.base.RoundTrip(r)
}
