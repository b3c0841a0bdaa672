// Package verify checks published DNS records against the records
// expected from stored DKIM key material.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/foxzi/relaykeys/internal/dkimkey"
	"github.com/foxzi/relaykeys/internal/fault"
)

// Engine performs DNS verification runs. A run never regenerates keys
// and mutates only the derived fields (dns_verified, last_verified,
// status).
type Engine struct {
	storage  *dkimkey.Storage
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a verification engine.
func NewEngine(storage *dkimkey.Storage, resolver Resolver, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		storage:  storage,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify compares the published TXT record with the value expected from
// the key's current public material and applies the outcome.
//
// The key's version is captured before the lookup and the result is
// applied with an optimistic check: if the key changed while the lookup
// was in flight (for example a concurrent rotation), the result is
// discarded with a Conflict error instead of being applied to newer
// material than was checked. No lock is held during the network call.
//
// Resolver failures (timeout, SERVFAIL) surface as retryable
// Unavailable errors and leave the stored verification state untouched;
// only a conclusive found-or-not-found result changes it.
func (e *Engine) Verify(ctx context.Context, accountID, id string) (*dkimkey.ValidationResult, error) {
	key, err := e.storage.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if key.Status == dkimkey.StatusExpired {
		return nil, fault.New(fault.Validation, "expired keys cannot be re-verified")
	}

	expected, err := key.TXTValue()
	if err != nil {
		return nil, err
	}
	version := key.Version

	result := &dkimkey.ValidationResult{
		Domain:      key.Domain,
		Selector:    key.Selector,
		ExpectedDNS: expected,
		CheckedAt:   e.now(),
	}

	records, err := e.resolver.LookupTXT(ctx, key.DNSName())
	switch {
	case errors.Is(err, ErrNoRecord):
		result.DNSFound = false
		result.Valid = false
		result.ErrorMessage = "no TXT record published"
	case err != nil:
		// Inconclusive: do not downgrade the stored state.
		return nil, err
	default:
		result.DNSFound = true
		want := normalize(expected)
		for _, rec := range records {
			if normalize(rec) == want {
				result.Valid = true
				result.DNSRecord = rec
				break
			}
		}
		if !result.Valid {
			result.DNSRecord = records[0]
			result.ErrorMessage = "TXT record found but does not match expected value"
		}
	}

	if err := e.apply(ctx, key, version, result); err != nil {
		return nil, err
	}

	e.logger.Info("dkim verification",
		"account_id", accountID,
		"key_id", id,
		"domain", key.Domain,
		"selector", key.Selector,
		"valid", result.Valid,
		"dns_found", result.DNSFound,
	)

	return result, nil
}

// apply commits the derived fields under the version captured at read
// time.
func (e *Engine) apply(ctx context.Context, key *dkimkey.KeyPair, version int64, result *dkimkey.ValidationResult) error {
	key.DNSVerified = result.Valid
	key.LastVerified = &result.CheckedAt
	key.UpdatedAt = result.CheckedAt

	if result.Valid {
		if key.Status == dkimkey.StatusInactive {
			key.Status = dkimkey.StatusActive
		}
	} else {
		if key.Status == dkimkey.StatusActive {
			key.Status = dkimkey.StatusInactive
		}
	}

	err := e.storage.Update(ctx, key, version)
	if fault.IsKind(err, fault.Conflict) {
		return fault.Wrap(fault.Conflict, err, "key changed during verification, retry")
	}
	return err
}

// normalize strips all whitespace so records split or reflowed by the
// resolver compare equal to the expected value.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
