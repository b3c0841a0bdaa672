package secrets

import (
	"strings"
	"testing"

	"github.com/foxzi/relaykeys/internal/fault"
)

func TestGenerateUsername(t *testing.T) {
	username, err := GenerateUsername("3f6c1d2a-9b41-4f88-8a2e-6f1f0c9d7e55")
	if err != nil {
		t.Fatalf("GenerateUsername failed: %v", err)
	}

	parts := strings.Split(username, "_")
	if len(parts) != 3 {
		t.Fatalf("username %q should have 3 parts", username)
	}
	if parts[0] != "relay" {
		t.Errorf("prefix = %q, want relay", parts[0])
	}
	if parts[1] != "3f6c1d2a" {
		t.Errorf("account part = %q, want first 8 chars of account id", parts[1])
	}
	if len(parts[2]) != 4 {
		t.Errorf("random suffix length = %d, want 4", len(parts[2]))
	}
}

func TestGenerateUsernameShortAccount(t *testing.T) {
	username, err := GenerateUsername("abc")
	if err != nil {
		t.Fatalf("GenerateUsername failed: %v", err)
	}
	if !strings.HasPrefix(username, "relay_abc_") {
		t.Errorf("username = %q, want relay_abc_ prefix", username)
	}
}

func TestGeneratePassword(t *testing.T) {
	p1, err := GeneratePassword()
	if err != nil {
		t.Fatalf("GeneratePassword failed: %v", err)
	}
	if len(p1) != 32 {
		t.Errorf("password length = %d, want 32", len(p1))
	}

	p2, err := GeneratePassword()
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Error("two generated passwords should differ")
	}
}

func TestGenerateRSAKeyPair(t *testing.T) {
	for _, size := range []int{KeySize1024, KeySize2048} {
		pub, priv, err := GenerateRSAKeyPair(size)
		if err != nil {
			t.Fatalf("GenerateRSAKeyPair(%d) failed: %v", size, err)
		}
		if !strings.Contains(pub, "PUBLIC KEY") {
			t.Error("public key should be PEM encoded")
		}
		if !strings.Contains(priv, "RSA PRIVATE KEY") {
			t.Error("private key should be PEM encoded")
		}

		key, err := ParsePrivateKey(priv)
		if err != nil {
			t.Fatalf("ParsePrivateKey failed: %v", err)
		}
		if key.N.BitLen() != size {
			t.Errorf("key size = %d bits, want %d", key.N.BitLen(), size)
		}
	}
}

func TestGenerateRSAKeyPairInvalidSize(t *testing.T) {
	for _, size := range []int{0, 512, 4096, -1} {
		_, _, err := GenerateRSAKeyPair(size)
		if !fault.IsKind(err, fault.Validation) {
			t.Errorf("GenerateRSAKeyPair(%d) = %v, want validation error", size, err)
		}
	}
}

func TestPublicKeyDER(t *testing.T) {
	pub, _, err := GenerateRSAKeyPair(KeySize1024)
	if err != nil {
		t.Fatal(err)
	}

	der, err := PublicKeyDER(pub)
	if err != nil {
		t.Fatalf("PublicKeyDER failed: %v", err)
	}
	if len(der) == 0 {
		t.Error("DER bytes should not be empty")
	}

	if _, err := PublicKeyDER("not pem"); err == nil {
		t.Error("PublicKeyDER should fail on invalid input")
	}
}
