// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-keycloak/keycloak/internal/strutils"
	sdkHttp "github.com/hashicorp/cap-keycloak/sdk/http"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// ResponseType is an OAuth2/OIDC response_type value.
type ResponseType string

const (
	CodeResponseType        ResponseType = "code"
	IDTokenResponseType     ResponseType = "id_token"
	CodeIDTokenResponseType ResponseType = "code id_token"
	NoneResponseType        ResponseType = "none"
)

var supportedResponseTypes = map[ResponseType]bool{
	CodeResponseType:        true,
	IDTokenResponseType:     true,
	CodeIDTokenResponseType: true,
	NoneResponseType:        true,
}

// Config represents the configuration for an OIDC relying party using the
// authorization code flow against a Keycloak realm (or any OIDC provider).
type Config struct {
	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components. For Keycloak it is the realm URL,
	// see KeycloakIssuer.
	Issuer string

	// ClientID is the relying party ID.
	ClientID string

	// ClientSecret is the relying party secret. It is empty for public
	// clients, in which case client_id is sent as a form parameter.
	ClientSecret ClientSecret

	// RedirectURL is the default login redirect URL used by AuthURL and
	// Exchange.
	RedirectURL string

	// AllowedRedirectURLs is the list of redirect URLs a request may override
	// RedirectURL with. RedirectURL is always allowed.
	AllowedRedirectURLs []string

	// PostLogoutRedirectURL is the optional default post_logout_redirect_uri
	// used by SignOutURL.
	PostLogoutRedirectURL string

	// ResponseTypes is the list of response types the client is registered
	// for. The first one is used by AuthURL. Defaults to ["code"].
	ResponseTypes []ResponseType

	// Scopes is a list of default oidc scopes to request of the provider. The
	// required "openid" scope is always included.
	Scopes []string

	// SupportedSigningAlgs is a list of supported signing algorithms for
	// id_tokens. Defaults to [RS256], which is what Keycloak realms use
	// unless reconfigured.
	SupportedSigningAlgs []Alg

	// Audiences is an optional list of case-sensitive strings to use when
	// verifying an id_token's "aud" claim (which is also a list). If provided,
	// the audiences of an id_token must match one of the configured audiences.
	Audiences []string

	// ProviderCA is an optional CA certs (PEM encoded) to use when sending
	// requests to the provider.
	ProviderCA string

	// Logger is an optional logger. Defaults to a null logger.
	Logger hclog.Logger

	// TracerProvider is an optional trace provider. Defaults to the otel
	// global provider.
	TracerProvider trace.TracerProvider

	// NowFunc is a time func that returns the current time.
	NowFunc func() time.Time
}

// NewConfig composes a new config for a relying party.
//
// The issuer and clientID are required. The clientSecret is optional (public
// clients). The redirectURL is the default login redirect URL.
//
// Supported options: WithScopes, WithAudiences, WithProviderCA,
// WithSupportedSigningAlgs, WithResponseTypes, WithAllowedRedirects,
// WithPostLogoutRedirectURL, WithLogger, WithTracerProvider, WithNow.
func NewConfig(issuer, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:                issuer,
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		RedirectURL:           redirectURL,
		PostLogoutRedirectURL: opts.withPostLogoutRedirectURL,
		ResponseTypes:         opts.withResponseTypes,
		SupportedSigningAlgs:  opts.withSupportedSigningAlgs,
		Audiences:             opts.withAudiences,
		ProviderCA:            opts.withProviderCA,
		Logger:                opts.withLogger,
		TracerProvider:        opts.withTracerProvider,
		NowFunc:               opts.withNowFunc,
	}
	c.Scopes = strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, opts.withScopes...), false)
	if redirectURL != "" {
		c.AllowedRedirectURLs = append(c.AllowedRedirectURLs, redirectURL)
	}
	c.AllowedRedirectURLs = strutils.RemoveDuplicatesStable(append(c.AllowedRedirectURLs, opts.withAllowedRedirects...), false)
	if len(c.ResponseTypes) == 0 {
		c.ResponseTypes = []ResponseType{CodeResponseType}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		c.SupportedSigningAlgs = []Alg{RS256}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// KeycloakIssuer returns the issuer URL of a Keycloak realm, given the
// server's base URL (for example "https://keycloak.example.com" or, for
// legacy distributions, "https://keycloak.example.com/auth").
func KeycloakIssuer(baseURL, realm string) string {
	return strings.TrimSuffix(baseURL, "/") + "/realms/" + url.PathEscape(realm)
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request. Every problem found is reported.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}

	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client ID is empty: %w", ErrInvalidParameter))
	}
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("discovery URL is empty: %w", ErrInvalidParameter))
	} else if err := validateURL(c.Issuer); err != nil {
		result = multierror.Append(result, fmt.Errorf("issuer %q: %w: %w", c.Issuer, ErrInvalidIssuer, err))
	}
	for _, r := range append([]string{c.RedirectURL, c.PostLogoutRedirectURL}, c.AllowedRedirectURLs...) {
		if r == "" {
			continue
		}
		if err := validateURL(r); err != nil {
			result = multierror.Append(result, fmt.Errorf("redirect URL %q: %w", r, err))
		}
	}
	for _, rt := range c.ResponseTypes {
		if !supportedResponseTypes[rt] {
			result = multierror.Append(result, fmt.Errorf("unsupported response type %q: %w", rt, ErrInvalidParameter))
		}
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %q: %w", a, ErrUnsupportedAlg))
		}
	}
	if c.ProviderCA != "" {
		if _, err := sdkHttp.NewClient(c.ProviderCA); err != nil {
			result = multierror.Append(result, fmt.Errorf("provider CA: %w", ErrInvalidCACert))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// validateURL requires an absolute http(s) URL without a fragment.
func validateURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, parsed.Scheme) {
		return fmt.Errorf("scheme is not http or https: %w", ErrInvalidParameter)
	}
	if parsed.Host == "" {
		return fmt.Errorf("host is empty: %w", ErrInvalidParameter)
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("fragment is not allowed: %w", ErrInvalidParameter)
	}
	return nil
}

// Now will return the current time which can be overridden by the NowFunc.
func (c *Config) Now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now() // fallback to this default
}

// HTTPClient returns an http client for the config's ProviderCA.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkHttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

func (c *Config) logger() hclog.Logger {
	if c.Logger == nil {
		return hclog.NewNullLogger()
	}
	return c.Logger.Named("keycloak")
}

func (c *Config) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes                []string
	withAudiences             []string
	withProviderCA            string
	withSupportedSigningAlgs  []Alg
	withResponseTypes         []ResponseType
	withAllowedRedirects      []string
	withPostLogoutRedirectURL string
	withLogger                hclog.Logger
	withTracerProvider        trace.TracerProvider
	withNowFunc               func() time.Time
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProviderCA provides optional CA certs (PEM encoded) for the provider's
// config. These certs will be used when making http requests to the provider.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithSupportedSigningAlgs provides the id_token signing algorithms the
// config accepts.
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = append(o.withSupportedSigningAlgs, algs...)
		}
	}
}

// WithResponseTypes provides the response types the client is registered for.
func WithResponseTypes(rts ...ResponseType) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withResponseTypes = append(o.withResponseTypes, rts...)
		}
	}
}

// WithAllowedRedirects provides additional redirect URLs a request may use.
func WithAllowedRedirects(urls ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAllowedRedirects = append(o.withAllowedRedirects, urls...)
		}
	}
}

// WithLogger provides an optional logger for the config.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}

// WithTracerProvider provides an optional otel tracer provider for the config.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTracerProvider = tp
		}
	}
}
