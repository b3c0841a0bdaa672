// Package credential manages relay-access credentials: username/password
// pairs that mail clients use to authenticate to the relay.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/relaykeys/internal/fault"
	"github.com/foxzi/relaykeys/internal/metrics"
	"github.com/foxzi/relaykeys/internal/secrets"
)

const (
	// maxGenerateAttempts bounds the username collision retry loop.
	maxGenerateAttempts = 5

	// defaultMaxPerAccount limits credentials per account.
	defaultMaxPerAccount = 10

	defaultMaxRecipients = 100
)

// Registry implements the credential lifecycle over durable storage.
type Registry struct {
	storage       *Storage
	logger        *slog.Logger
	maxPerAccount int
	now           func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxPerAccount overrides the per-account credential cap.
func WithMaxPerAccount(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxPerAccount = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a credential registry.
func NewRegistry(storage *Storage, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		storage:       storage,
		logger:        logger,
		maxPerAccount: defaultMaxPerAccount,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create generates a new credential and returns it together with the
// plaintext password. The plaintext is returned exactly once; only the
// bcrypt hash is persisted.
func (r *Registry) Create(ctx context.Context, accountID, name, description string) (*Credential, string, error) {
	if err := validateName(name); err != nil {
		return nil, "", err
	}
	if err := validateDescription(description); err != nil {
		return nil, "", err
	}

	count, err := r.storage.Count(ctx, accountID)
	if err != nil {
		return nil, "", err
	}
	if count >= r.maxPerAccount {
		return nil, "", fault.Newf(fault.Validation, "credential limit reached (%d per account)", r.maxPerAccount)
	}

	password, err := secrets.GeneratePassword()
	if err != nil {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fault.Wrap(fault.Internal, err, "failed to hash password")
	}

	now := r.now()
	cred := &Credential{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		Name:         name,
		Description:  description,
		PasswordHash: string(hash),
		Status:       StatusActive,
		Settings: Settings{
			MaxRecipients: defaultMaxRecipients,
		},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	// The username index enforces global uniqueness; regenerate on
	// collision, bounded by maxGenerateAttempts.
	for attempt := 1; ; attempt++ {
		username, err := secrets.GenerateUsername(accountID)
		if err != nil {
			return nil, "", err
		}
		cred.Username = username

		err = r.storage.Create(ctx, cred)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrUsernameTaken) {
			return nil, "", err
		}
		metrics.IncUsernameRetry()
		if attempt >= maxGenerateAttempts {
			return nil, "", fault.Wrap(fault.Internal, err,
				"failed to generate a unique username after bounded attempts")
		}
	}

	r.logger.Info("credential created",
		"account_id", accountID,
		"credential_id", cred.ID,
		"name", name,
		"username", cred.Username,
	)

	return cred, password, nil
}

// List returns all credentials owned by the account.
func (r *Registry) List(ctx context.Context, accountID string) ([]*Credential, error) {
	return r.storage.List(ctx, accountID)
}

// Get returns a single credential owned by the account.
func (r *Registry) Get(ctx context.Context, accountID, id string) (*Credential, error) {
	return r.storage.Get(ctx, accountID, id)
}

// Delete removes a credential irreversibly. Historical mail logs keep a
// back-reference by id; they are not cascaded.
func (r *Registry) Delete(ctx context.Context, accountID, id string) error {
	if err := r.storage.Delete(ctx, accountID, id); err != nil {
		return err
	}
	r.logger.Info("credential deleted", "account_id", accountID, "credential_id", id)
	return nil
}

// ResetPassword replaces the stored hash atomically and returns the new
// plaintext once. The old password is rejected from the instant the new
// hash is committed.
func (r *Registry) ResetPassword(ctx context.Context, accountID, id string) (string, error) {
	password, err := secrets.GeneratePassword()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fault.Wrap(fault.Internal, err, "failed to hash password")
	}

	err = r.mutate(ctx, accountID, id, func(c *Credential) error {
		c.PasswordHash = string(hash)
		c.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("credential password reset", "account_id", accountID, "credential_id", id)
	return password, nil
}

// UpdateSettings replaces the per-credential settings.
func (r *Registry) UpdateSettings(ctx context.Context, accountID, id string, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return r.mutate(ctx, accountID, id, func(c *Credential) error {
		c.Settings = settings
		c.UpdatedAt = r.now()
		return nil
	})
}

// SetStatus enables or disables a credential.
func (r *Registry) SetStatus(ctx context.Context, accountID, id string, status Status) error {
	if status != StatusActive && status != StatusDisabled {
		return fault.Newf(fault.Validation, "unknown status %q", status)
	}
	return r.mutate(ctx, accountID, id, func(c *Credential) error {
		c.Status = status
		c.UpdatedAt = r.now()
		return nil
	})
}

// Authenticate verifies a username/password pair and records usage on
// success. Disabled credentials are rejected.
func (r *Registry) Authenticate(ctx context.Context, username, password string) (*Credential, error) {
	cred, err := r.storage.GetByUsername(ctx, username)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return nil, fault.New(fault.Unauthorized, "invalid username or password")
		}
		return nil, err
	}
	if cred.Status != StatusActive {
		return nil, fault.New(fault.Unauthorized, "credential is disabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, fault.New(fault.Unauthorized, "invalid username or password")
	}

	// Usage accounting is best-effort; a concurrent mutation simply
	// skips the bump rather than failing the authentication.
	now := r.now()
	cred.UsageCount++
	cred.LastUsed = &now
	if err := r.storage.Update(ctx, cred, cred.Version); err != nil {
		if !fault.IsKind(err, fault.Conflict) {
			r.logger.Warn("failed to record credential usage", "credential_id", cred.ID, "error", err)
		}
	}

	return cred, nil
}

// mutate applies fn to the credential under an optimistic version check,
// retrying a few times if a concurrent writer wins the race.
func (r *Registry) mutate(ctx context.Context, accountID, id string, fn func(*Credential) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var cred *Credential
		cred, err = r.storage.Get(ctx, accountID, id)
		if err != nil {
			return err
		}

		version := cred.Version
		if err = fn(cred); err != nil {
			return err
		}

		err = r.storage.Update(ctx, cred, version)
		if err == nil || !fault.IsKind(err, fault.Conflict) {
			return err
		}
	}
	return err
}
