package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// NamedVerifier pairs a verifier with the provider name used in logs.
type NamedVerifier struct {
	Name     string
	Verifier Verifier
}

// MultiVerifier tries each verifier in order and returns the first success.
type MultiVerifier struct {
	verifiers []NamedVerifier
}

// providerError pairs a provider name with its validation error
type providerError struct {
	Provider string
	Err      error
}

// NewMultiVerifier creates a sequential fallback verifier.
func NewMultiVerifier(verifiers ...NamedVerifier) (*MultiVerifier, error) {
	if len(verifiers) == 0 {
		return nil, errors.New("at least one verifier must be configured")
	}
	return &MultiVerifier{verifiers: verifiers}, nil
}

// Verify implements Verifier.
func (m *MultiVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingCredential
	}

	failures := make([]providerError, 0, len(m.verifiers))
	for _, nv := range m.verifiers {
		id, err := nv.Verifier.Verify(ctx, token)
		if err != nil {
			failures = append(failures, providerError{Provider: nv.Name, Err: err})
			slog.DebugContext(ctx, "Provider failed to validate token", "provider", nv.Name, "error", err)
			continue
		}
		if id.Provider == "" {
			id.Provider = nv.Name
		}
		return id, nil
	}

	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Provider, f.Err))
	}
	return Identity{}, fmt.Errorf("%w: all providers failed: %w", ErrInvalidCredential, errors.Join(errs...))
}
