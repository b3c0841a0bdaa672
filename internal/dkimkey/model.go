package dkimkey

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/foxzi/relaykeys/internal/secrets"
)

// Status of a DKIM key pair. A key starts inactive and becomes active
// only after its DNS record has been verified.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusExpiring Status = "expiring"
	StatusExpired  Status = "expired"
)

// CanTransition reports whether the status machine allows moving to
// the given status. Expired is terminal.
func (s Status) CanTransition(to Status) bool {
	if s == to {
		return true
	}
	switch s {
	case StatusInactive:
		return to == StatusActive || to == StatusExpired
	case StatusActive:
		return to == StatusInactive || to == StatusExpiring || to == StatusExpired
	case StatusExpiring:
		return to == StatusExpired
	case StatusExpired:
		return false
	default:
		return false
	}
}

// DefaultSelector is used when a key is created without one.
const DefaultSelector = "default"

// Algorithm is fixed at creation; only RSA-SHA256 keys are issued.
const Algorithm = "rsa-sha256"

// DefaultTTL is the suggested TTL for synthesized DNS records.
const DefaultTTL = 3600

// KeyPair is a domain-signing key pair. The private key is persisted
// for the signing pipeline but never crosses the registry boundary.
type KeyPair struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	Domain     string `json:"domain"`
	Selector   string `json:"selector"`
	KeySize    int    `json:"key_size"`
	Algorithm  string `json:"algorithm"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`

	Status       Status     `json:"status"`
	DNSVerified  bool       `json:"dns_verified"`
	LastVerified *time.Time `json:"last_verified,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Version backs the optimistic concurrency check: verification
	// results are applied only if the key has not changed since read.
	Version int64 `json:"version"`
}

// DNSName returns the name of the TXT record receivers query.
func (k *KeyPair) DNSName() string {
	return fmt.Sprintf("%s._domainkey.%s", k.Selector, k.Domain)
}

// TXTValue computes the DKIM TXT payload from the stored public key.
// It is a pure function of the key material.
func (k *KeyPair) TXTValue() (string, error) {
	der, err := secrets.PublicKeyDER(k.PublicKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("v=DKIM1; h=sha256; k=rsa; p=%s", base64.StdEncoding.EncodeToString(der)), nil
}

// DNSRecord synthesizes the publishable record. It is recomputed on
// every call and never persisted, so it cannot go stale.
func (k *KeyPair) DNSRecord() (*DNSRecord, error) {
	value, err := k.TXTValue()
	if err != nil {
		return nil, err
	}
	return &DNSRecord{
		Type:     "TXT",
		Name:     k.DNSName(),
		Value:    value,
		TTL:      DefaultTTL,
		Priority: 0,
	}, nil
}

// IsExpired reports whether the key's expiry has passed.
func (k *KeyPair) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// DNSRecord is the derived, publishable DNS record for a key pair.
type DNSRecord struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl"`
	Priority int    `json:"priority"`
}

// ValidationResult is the outcome of comparing published DNS against
// the expected record. Derived, never persisted.
type ValidationResult struct {
	Domain       string    `json:"domain"`
	Selector     string    `json:"selector"`
	Valid        bool      `json:"valid"`
	DNSFound     bool      `json:"dns_found"`
	DNSRecord    string    `json:"dns_record,omitempty"`
	ExpectedDNS  string    `json:"expected_dns"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}
