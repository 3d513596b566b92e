package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ProviderHMAC names identities verified with the shared secret.
	ProviderHMAC = "hmac"

	minSecretLength = 32
	clockSkew       = 30 * time.Second
)

// HMACVerifier validates tokens signed by the notes API with a shared secret.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
	claims ClaimNames
}

// NewHMACVerifier creates a verifier for HS256/384/512 tokens.
// Empty issuer or audience disables that check. Tokens must carry exp.
func NewHMACVerifier(secret []byte, issuer, audience string, claims ClaimNames) (*HMACVerifier, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes, got %d", minSecretLength, len(secret))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &HMACVerifier{
		secret: secret,
		parser: jwt.NewParser(opts...),
		claims: claims,
	}, nil
}

// Verify implements Verifier.
func (v *HMACVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingCredential
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	return identityFromClaims(ProviderHMAC, sub, func(name string) string {
		s, _ := claims[name].(string)
		return s
	}, v.claims)
}
