// Package dnscheck provides DNS name syntax validation.
package dnscheck

import (
	"errors"
	"regexp"
	"strings"
)

// Validation errors
var (
	ErrInvalidDomain   = errors.New("invalid domain name")
	ErrInvalidSelector = errors.New("invalid selector")
)

// domainRegex validates domain name format (RFC 1035).
// Each label must not start or end with a hyphen.
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// selectorRegex follows the same rules as a single domain label.
var selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateDomain checks if a domain name is a valid hostname with at
// least one dot. Single-label names are rejected: mail domains are
// always fully qualified.
func ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > 253 {
		return ErrInvalidDomain
	}
	if !strings.Contains(domain, ".") {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if a DKIM selector is valid.
// An empty selector is allowed; the registry substitutes its default.
func ValidateSelector(selector string) error {
	if selector == "" {
		return nil
	}
	if len(selector) > 63 {
		return ErrInvalidSelector
	}
	if !selectorRegex.MatchString(selector) {
		return ErrInvalidSelector
	}
	return nil
}
