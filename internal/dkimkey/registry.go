// Package dkimkey manages domain-signing key pairs and the DNS records
// that publish their public halves.
package dkimkey

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/relaykeys/internal/dnscheck"
	"github.com/foxzi/relaykeys/internal/fault"
	"github.com/foxzi/relaykeys/internal/secrets"
)

// Registry implements the signing-key lifecycle over durable storage.
type Registry struct {
	storage *Storage
	logger  *slog.Logger
	now     func() time.Time

	// keyMaxAge, when positive, sets expires_at on newly created keys.
	keyMaxAge time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithKeyMaxAge makes newly created keys expire after the given age.
func WithKeyMaxAge(age time.Duration) RegistryOption {
	return func(r *Registry) { r.keyMaxAge = age }
}

// NewRegistry creates a signing-key registry.
func NewRegistry(storage *Storage, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Storage exposes the underlying storage for the verification engine
// and the lifecycle orchestrator, which apply version-checked updates.
func (r *Registry) Storage() *Storage {
	return r.storage
}

// Create generates a new key pair for (domain, selector). The key
// starts inactive: it is not trusted for signing until the operator has
// published the DNS record and a verification run confirmed it.
func (r *Registry) Create(ctx context.Context, accountID, domain, selector string, keySize int) (*KeyPair, error) {
	if err := dnscheck.ValidateDomain(domain); err != nil {
		return nil, fault.Newf(fault.Validation, "invalid domain %q", domain)
	}
	if err := dnscheck.ValidateSelector(selector); err != nil {
		return nil, fault.Newf(fault.Validation, "invalid selector %q", selector)
	}
	if selector == "" {
		selector = DefaultSelector
	}

	publicPEM, privatePEM, err := secrets.GenerateRSAKeyPair(keySize)
	if err != nil {
		return nil, err
	}

	now := r.now()
	key := &KeyPair{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Domain:     domain,
		Selector:   selector,
		KeySize:    keySize,
		Algorithm:  Algorithm,
		PublicKey:  publicPEM,
		PrivateKey: privatePEM,
		Status:     StatusInactive,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	if r.keyMaxAge > 0 {
		expires := now.Add(r.keyMaxAge)
		key.ExpiresAt = &expires
	}

	if err := r.storage.Create(ctx, key); err != nil {
		return nil, err
	}

	r.logger.Info("dkim key pair created",
		"account_id", accountID,
		"key_id", key.ID,
		"domain", domain,
		"selector", selector,
		"key_size", keySize,
	)

	return key, nil
}

// List returns all key pairs owned by the account.
func (r *Registry) List(ctx context.Context, accountID string) ([]*KeyPair, error) {
	return r.storage.List(ctx, accountID)
}

// Get returns a single key pair owned by the account.
func (r *Registry) Get(ctx context.Context, accountID, id string) (*KeyPair, error) {
	return r.storage.Get(ctx, accountID, id)
}

// Delete removes a key pair irreversibly. Deleting an active, verified
// key requires explicit confirmation from the caller: receivers may
// still be validating signatures against its published record.
func (r *Registry) Delete(ctx context.Context, accountID, id string, confirm bool) error {
	key, err := r.storage.Delete(ctx, accountID, id, confirm)
	if err != nil {
		return err
	}

	r.logger.Info("dkim key pair deleted",
		"account_id", accountID,
		"key_id", id,
		"domain", key.Domain,
		"selector", key.Selector,
	)
	return nil
}

// GetDNSRecord recomputes the publishable DNS record from stored key
// material. Pure: no network, no mutation.
func (r *Registry) GetDNSRecord(ctx context.Context, accountID, id string) (*DNSRecord, error) {
	key, err := r.storage.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	return key.DNSRecord()
}

// ActiveSigner returns a message signer for the newest active, verified
// key of the domain. The relay's signing pipeline consumes this.
func (r *Registry) ActiveSigner(ctx context.Context, accountID, domain string) (*Signer, error) {
	keys, err := r.storage.ListByDomain(ctx, accountID, domain)
	if err != nil {
		return nil, err
	}

	var candidates []*KeyPair
	for _, k := range keys {
		if k.Status == StatusActive && k.DNSVerified {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return nil, fault.Newf(fault.NotFound, "no active verified signing key for %s", domain)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})

	return NewSigner(candidates[0])
}
