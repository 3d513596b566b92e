package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/notes-collab-server/internal/config"
	"github.com/stacklok/notes-collab-server/internal/httpclient"
)

// Components is everything the server needs from the auth configuration.
type Components struct {
	Verifier   Verifier
	Middleware *Middleware

	// Metadata serves RFC 9728 metadata; nil unless auth.resourceURL and
	// at least one OIDC provider are configured.
	Metadata http.Handler

	cache *jwk.Cache
}

// Close stops the background key set refresh.
func (c *Components) Close(ctx context.Context) error {
	if c == nil || c.cache == nil {
		return nil
	}
	return c.cache.Shutdown(ctx)
}

// NewFromConfig builds the verifier chain for cfg.Mode. client is used for
// OIDC discovery; nil selects the default client.
func NewFromConfig(ctx context.Context, cfg *config.AuthConfig, client httpclient.Client) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("auth configuration is required")
	}
	if client == nil {
		client = httpclient.NewDefaultClient(0)
	}
	claims := ClaimNames{Name: cfg.Claims.GetName(), Email: cfg.Claims.GetEmail()}

	c := &Components{}
	var verifiers []NamedVerifier

	if cfg.Mode == config.AuthModeHMAC || (cfg.Mode == config.AuthModeMulti && cfg.HMAC != nil) {
		secret, err := cfg.HMAC.GetSecret()
		if err != nil {
			return nil, err
		}
		v, err := NewHMACVerifier(secret, cfg.HMAC.Issuer, cfg.HMAC.Audience, claims)
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, NamedVerifier{Name: ProviderHMAC, Verifier: v})
	}

	if cfg.Mode == config.AuthModeOIDC || cfg.Mode == config.AuthModeMulti {
		issuers := make([]string, 0, len(cfg.Providers))
		for _, p := range cfg.Providers {
			if c.cache == nil {
				cache, err := jwk.NewCache(ctx, httprc.NewClient())
				if err != nil {
					return nil, fmt.Errorf("failed to create key set cache: %w", err)
				}
				c.cache = cache
			}
			v, err := NewOIDCVerifier(ctx, OIDCProvider{
				Name:      p.Name,
				IssuerURL: p.IssuerURL,
				JWKSURL:   p.JWKSURL,
				Audience:  p.Audience,
			}, client, c.cache, claims)
			if err != nil {
				_ = c.Close(ctx)
				return nil, err
			}
			verifiers = append(verifiers, NamedVerifier{Name: p.Name, Verifier: v})
			issuers = append(issuers, p.IssuerURL)
		}

		if cfg.ResourceURL != "" && len(issuers) > 0 {
			h, err := NewProtectedResourceHandler(cfg.ResourceURL, issuers)
			if err != nil {
				_ = c.Close(ctx)
				return nil, fmt.Errorf("failed to create protected resource handler: %w", err)
			}
			c.Metadata = h
		}
	}

	switch len(verifiers) {
	case 0:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	case 1:
		c.Verifier = verifiers[0].Verifier
	default:
		m, err := NewMultiVerifier(verifiers...)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		c.Verifier = m
	}

	c.Middleware = NewMiddleware(c.Verifier, cfg.GetRealm(), cfg.ResourceURL)
	slog.InfoContext(ctx, "Authentication configured", "mode", cfg.Mode, "providers", len(verifiers))
	return c, nil
}
