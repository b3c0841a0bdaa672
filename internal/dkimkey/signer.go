package dkimkey

import (
	"bytes"
	"crypto"
	"crypto/rsa"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/foxzi/relaykeys/internal/fault"
	"github.com/foxzi/relaykeys/internal/secrets"
)

// Signer signs outbound messages with a key pair from the registry.
type Signer struct {
	privateKey *rsa.PrivateKey
	domain     string
	selector   string
}

// NewSigner builds a signer from stored key material.
func NewSigner(key *KeyPair) (*Signer, error) {
	privateKey, err := secrets.ParsePrivateKey(key.PrivateKey)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "failed to load signing key")
	}

	return &Signer{
		privateKey: privateKey,
		domain:     key.Domain,
		selector:   key.Selector,
	}, nil
}

// Sign signs the message and returns it with the DKIM-Signature header
// prepended.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.privateKey,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "failed to sign message")
	}

	return signed.Bytes(), nil
}

// Domain returns the signing domain.
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the signing selector.
func (s *Signer) Selector() string {
	return s.selector
}
