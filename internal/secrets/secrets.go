// Package secrets generates relay credentials and DKIM key material.
// All randomness comes from crypto/rand. Generated plaintext secrets
// are handed to the caller exactly once and never logged here.
package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/foxzi/relaykeys/internal/fault"
)

const (
	usernamePrefix = "relay"

	// passwordBytes is the entropy floor for generated passwords.
	// 16 random bytes encode to a 32-character hex password.
	passwordBytes = 16
)

// Allowed RSA key sizes for DKIM keys.
const (
	KeySize1024 = 1024
	KeySize2048 = 2048
)

// GenerateUsername generates a relay username of the form
// relay_<account8>_<rand4>. Practical uniqueness comes from the random
// suffix; the registry still re-checks against its unique index before
// commit.
func GenerateUsername(accountID string) (string, error) {
	prefix := accountID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return "", fault.Wrap(fault.Internal, err, "failed to generate username suffix")
	}

	return fmt.Sprintf("%s_%s_%s", usernamePrefix, prefix, hex.EncodeToString(buf)), nil
}

// GeneratePassword generates a random plaintext password.
func GeneratePassword() (string, error) {
	buf := make([]byte, passwordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fault.Wrap(fault.Internal, err, "failed to generate password")
	}
	return hex.EncodeToString(buf), nil
}

// GenerateRSAKeyPair generates an RSA key pair for DKIM signing and
// returns PEM-encoded public and private key material. The size is
// validated before any generation work happens.
func GenerateRSAKeyPair(size int) (publicPEM, privatePEM string, err error) {
	if size != KeySize1024 && size != KeySize2048 {
		return "", "", fault.Newf(fault.Validation, "unsupported key size %d, must be 1024 or 2048", size)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, size)
	if err != nil {
		return "", "", fault.Wrap(fault.Internal, err, "failed to generate RSA key")
	}

	privateBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", fault.Wrap(fault.Internal, err, "failed to encode public key")
	}
	publicBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	}

	return string(pem.EncodeToMemory(publicBlock)), string(pem.EncodeToMemory(privateBlock)), nil
}

// ParsePrivateKey parses a PEM-encoded RSA private key.
func ParsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fault.New(fault.Internal, "failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fault.Wrap(fault.Internal, err, "failed to parse private key")
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fault.Wrap(fault.Internal, err, "failed to parse private key")
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fault.New(fault.Internal, "key is not RSA")
		}
		return rsaKey, nil
	default:
		return nil, fault.Newf(fault.Internal, "unsupported key type: %s", block.Type)
	}
}

// PublicKeyDER returns the raw DER bytes from a PEM-encoded public key.
func PublicKeyDER(pemData string) ([]byte, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fault.New(fault.Internal, "failed to decode public key PEM block")
	}
	return block.Bytes, nil
}
