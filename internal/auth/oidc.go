package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/stacklok/notes-collab-server/internal/httpclient"
)

const wellKnownOpenIDConfiguration = "/.well-known/openid-configuration"

// OIDCProvider describes one trusted token issuer.
type OIDCProvider struct {
	Name      string
	IssuerURL string

	// JWKSURL skips discovery when set
	JWKSURL  string
	Audience string
}

// OIDCVerifier validates tokens against an issuer's published key set.
type OIDCVerifier struct {
	name     string
	issuer   string
	audience string
	keys     jwk.Set
	claims   ClaimNames
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// NewOIDCVerifier registers the provider's key set in cache and returns a
// verifier backed by it. Without an explicit JWKS URL the issuer's OpenID
// configuration is fetched with client to find it.
func NewOIDCVerifier(
	ctx context.Context,
	p OIDCProvider,
	client httpclient.Client,
	cache *jwk.Cache,
	claims ClaimNames,
) (*OIDCVerifier, error) {
	if p.IssuerURL == "" {
		return nil, fmt.Errorf("provider %q: issuer url is required", p.Name)
	}

	jwksURL := p.JWKSURL
	if jwksURL == "" {
		discovered, err := discoverJWKS(ctx, client, p.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.Name, err)
		}
		jwksURL = discovered
	}

	if !cache.IsRegistered(ctx, jwksURL) {
		// Fetched in the background; the first Verify waits for it.
		if err := cache.Register(ctx, jwksURL, jwk.WithWaitReady(false)); err != nil {
			return nil, fmt.Errorf("provider %q: failed to register key set: %w", p.Name, err)
		}
	}
	keys, err := cache.CachedSet(jwksURL)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", p.Name, err)
	}

	return &OIDCVerifier{
		name:     p.Name,
		issuer:   p.IssuerURL,
		audience: p.Audience,
		keys:     keys,
		claims:   claims,
	}, nil
}

func discoverJWKS(ctx context.Context, client httpclient.Client, issuer string) (string, error) {
	url := strings.TrimSuffix(issuer, "/") + wellKnownOpenIDConfiguration

	var doc discoveryDocument
	if err := httpclient.GetJSON(ctx, client, url, &doc); err != nil {
		return "", fmt.Errorf("oidc discovery failed: %w", err)
	}
	if strings.TrimSuffix(doc.Issuer, "/") != strings.TrimSuffix(issuer, "/") {
		return "", fmt.Errorf("oidc discovery returned issuer %q, expected %q", doc.Issuer, issuer)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("oidc discovery document at %s has no jwks_uri", url)
	}
	return doc.JWKSURI, nil
}

// Name returns the provider name.
func (v *OIDCVerifier) Name() string {
	return v.name
}

// Verify implements Verifier.
func (v *OIDCVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingCredential
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(v.keys),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAcceptableSkew(clockSkew),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	sub, _ := tok.Subject()
	return identityFromClaims(v.name, sub, func(name string) string {
		var s string
		if err := tok.Get(name, &s); err != nil {
			return ""
		}
		return s
	}, v.claims)
}
