// Package smtpauth adapts the credential registry to the SASL
// mechanisms a mail submission frontend negotiates.
package smtpauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/emersion/go-sasl"

	"github.com/foxzi/relaykeys/internal/credential"
	"github.com/foxzi/relaykeys/internal/fault"
	"github.com/foxzi/relaykeys/internal/metrics"
)

// ErrAuthFailed is returned for any credential mismatch. The reason is
// deliberately uniform so probing cannot distinguish unknown usernames
// from wrong passwords.
var ErrAuthFailed = errors.New("authentication failed")

// authTimeout bounds the storage round-trip behind a single AUTH
// exchange.
const authTimeout = 5 * time.Second

// Backend authenticates SASL exchanges against issued credentials.
type Backend struct {
	registry *credential.Registry
	logger   *slog.Logger
}

// NewBackend creates an authentication backend over the registry.
func NewBackend(registry *credential.Registry, logger *slog.Logger) *Backend {
	return &Backend{registry: registry, logger: logger}
}

// Mechanisms returns the SASL mechanisms the backend supports.
func (b *Backend) Mechanisms() []string {
	return []string{sasl.Plain}
}

// Server returns a SASL server for the given mechanism. The returned
// server resolves the username to a credential, checks its status and
// password, and records the usage.
func (b *Backend) Server(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}

	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return errors.New("identity must be empty or match username")
		}

		ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
		defer cancel()

		cred, err := b.registry.Authenticate(ctx, username, password)
		if err != nil {
			if fault.IsKind(err, fault.Unauthorized) {
				metrics.IncCredentialAuth("failed")
				b.logger.Warn("authentication failed", "username", username)
				return ErrAuthFailed
			}
			metrics.IncCredentialAuth("error")
			b.logger.Error("authentication backend error", "username", username, "error", err)
			return err
		}

		metrics.IncCredentialAuth("success")
		b.logger.Info("authentication successful",
			"username", username,
			"credential_id", cred.ID,
			"account_id", cred.AccountID,
		)
		return nil
	}), nil
}

// Check performs a one-shot username/password check outside a SASL
// exchange, for frontends that collect both values up front.
func (b *Backend) Check(ctx context.Context, username, password string) (*credential.Credential, error) {
	cred, err := b.registry.Authenticate(ctx, username, password)
	if err != nil {
		if fault.IsKind(err, fault.Unauthorized) {
			return nil, ErrAuthFailed
		}
		return nil, err
	}
	return cred, nil
}
