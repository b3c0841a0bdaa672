// Package lifecycle ties rotation and expiry together over the
// signing-key registry.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxzi/relaykeys/internal/dkimkey"
	"github.com/foxzi/relaykeys/internal/dnscheck"
	"github.com/foxzi/relaykeys/internal/fault"
	"github.com/foxzi/relaykeys/internal/secrets"
)

// DefaultWarningWindow is how long before expiry a key is flagged as
// expiring.
const DefaultWarningWindow = 7 * 24 * time.Hour

// Orchestrator drives key rotation and the scheduled expire sweep.
type Orchestrator struct {
	storage       *dkimkey.Storage
	logger        *slog.Logger
	warningWindow time.Duration
	now           func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWarningWindow overrides the expiring warning window.
func WithWarningWindow(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.warningWindow = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates a lifecycle orchestrator.
func NewOrchestrator(storage *dkimkey.Storage, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		storage:       storage,
		logger:        logger,
		warningWindow: DefaultWarningWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RotateOptions carries optional rotation parameters. Zero values keep
// the key's current selector and size.
type RotateOptions struct {
	Selector string
	KeySize  int
}

// Rotate replaces the key material atomically. The published DNS record
// is stale from this moment, so dns_verified drops to false and the
// status returns to inactive until the operator republishes and
// re-verifies. Signatures on already-delivered mail stay validatable by
// receivers for as long as the old record remains published; rotation
// only affects future signing.
func (o *Orchestrator) Rotate(ctx context.Context, accountID, id string, opts RotateOptions) (*dkimkey.KeyPair, *dkimkey.DNSRecord, error) {
	key, err := o.storage.Get(ctx, accountID, id)
	if err != nil {
		return nil, nil, err
	}
	if key.Status == dkimkey.StatusExpired {
		return nil, nil, fault.New(fault.Validation, "expired keys cannot be rotated")
	}

	size := key.KeySize
	if opts.KeySize != 0 {
		size = opts.KeySize
	}
	if opts.Selector != "" {
		if err := dnscheck.ValidateSelector(opts.Selector); err != nil {
			return nil, nil, fault.Newf(fault.Validation, "invalid selector %q", opts.Selector)
		}
	}

	publicPEM, privatePEM, err := secrets.GenerateRSAKeyPair(size)
	if err != nil {
		return nil, nil, err
	}

	version := key.Version
	key.PublicKey = publicPEM
	key.PrivateKey = privatePEM
	key.KeySize = size
	if opts.Selector != "" {
		key.Selector = opts.Selector
	}
	key.DNSVerified = false
	key.Status = dkimkey.StatusInactive
	key.UpdatedAt = o.now()

	if err := o.storage.Update(ctx, key, version); err != nil {
		return nil, nil, err
	}

	record, err := key.DNSRecord()
	if err != nil {
		return nil, nil, err
	}

	o.logger.Info("dkim key rotated",
		"account_id", accountID,
		"key_id", id,
		"domain", key.Domain,
		"selector", key.Selector,
		"key_size", size,
	)

	return key, record, nil
}

// Transition records one status change applied by a sweep.
type Transition struct {
	ID     string
	Status dkimkey.Status
}

// ExpireSweep transitions keys whose expiry has passed to expired and
// keys inside the warning window to expiring. It returns the applied
// transitions. Each one uses the same optimistic version check as
// user-initiated mutations; a key that changes concurrently is skipped
// and picked up by the next sweep.
func (o *Orchestrator) ExpireSweep(ctx context.Context, now time.Time) ([]Transition, error) {
	keys, err := o.storage.All(ctx)
	if err != nil {
		return nil, err
	}

	var affected []Transition
	for _, key := range keys {
		if key.ExpiresAt == nil || key.Status == dkimkey.StatusExpired {
			continue
		}

		var target dkimkey.Status
		switch {
		case key.IsExpired(now):
			target = dkimkey.StatusExpired
		case key.Status == dkimkey.StatusActive && !now.Before(key.ExpiresAt.Add(-o.warningWindow)):
			target = dkimkey.StatusExpiring
		default:
			continue
		}

		if !key.Status.CanTransition(target) {
			continue
		}

		version := key.Version
		key.Status = target
		if target == dkimkey.StatusExpired {
			key.DNSVerified = false
		}
		key.UpdatedAt = now

		if err := o.storage.Update(ctx, key, version); err != nil {
			if fault.IsKind(err, fault.Conflict) {
				continue
			}
			return affected, err
		}

		affected = append(affected, Transition{ID: key.ID, Status: target})
		o.logger.Info("dkim key expiry transition",
			"key_id", key.ID,
			"domain", key.Domain,
			"selector", key.Selector,
			"status", target,
		)
	}

	return affected, nil
}
