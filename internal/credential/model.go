package credential

import (
	"time"

	"github.com/foxzi/relaykeys/internal/dnscheck"
	"github.com/foxzi/relaykeys/internal/fault"
)

// Status of a relay credential.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Name and description limits enforced at creation and update.
const (
	MaxNameLength        = 50
	MaxDescriptionLength = 200
)

// Settings holds per-credential sending restrictions.
type Settings struct {
	AllowedDomains []string `json:"allowed_domains"`
	DailyQuota     int      `json:"daily_quota"`
	HourlyQuota    int      `json:"hourly_quota"`
	MaxRecipients  int      `json:"max_recipients"`
}

// Validate checks quota bounds and allowed-domain syntax.
func (s *Settings) Validate() error {
	if s.DailyQuota < 0 {
		return fault.New(fault.Validation, "daily_quota must not be negative")
	}
	if s.HourlyQuota < 0 {
		return fault.New(fault.Validation, "hourly_quota must not be negative")
	}
	if s.MaxRecipients <= 0 {
		return fault.New(fault.Validation, "max_recipients must be positive")
	}
	for _, d := range s.AllowedDomains {
		if err := dnscheck.ValidateDomain(d); err != nil {
			return fault.Newf(fault.Validation, "allowed domain %q: invalid domain syntax", d)
		}
	}
	return nil
}

// Credential is a username/password pair authorizing a client to submit
// mail through the relay. The password hash is persisted; the plaintext
// exists only in the create/reset response.
type Credential struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"password_hash"`
	Settings     Settings   `json:"settings"`
	Status       Status     `json:"status"`
	UsageCount   int64      `json:"usage_count"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Version increments on every committed mutation and backs the
	// optimistic concurrency check in the storage layer.
	Version int64 `json:"version"`
}

func validateName(name string) error {
	if len(name) < 1 || len(name) > MaxNameLength {
		return fault.Newf(fault.Validation, "name must be 1-%d characters", MaxNameLength)
	}
	return nil
}

func validateDescription(description string) error {
	if len(description) > MaxDescriptionLength {
		return fault.Newf(fault.Validation, "description must be at most %d characters", MaxDescriptionLength)
	}
	return nil
}
