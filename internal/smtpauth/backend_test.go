package smtpauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/emersion/go-sasl"

	"github.com/foxzi/relaykeys/internal/credential"
	"github.com/foxzi/relaykeys/internal/store"
)

func newTestBackend(t *testing.T) (*Backend, *credential.Registry) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := credential.NewStorage(db)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := credential.NewRegistry(storage, logger)
	return NewBackend(registry, logger), registry
}

// plainAuth runs a PLAIN exchange against the backend the way a mail
// frontend would.
func plainAuth(t *testing.T, b *Backend, identity, username, password string) error {
	t.Helper()

	srv, err := b.Server(sasl.Plain)
	if err != nil {
		t.Fatalf("Server failed: %v", err)
	}

	client := sasl.NewPlainClient(identity, username, password)
	_, ir, err := client.Start()
	if err != nil {
		t.Fatalf("client start failed: %v", err)
	}
	_, done, err := srv.Next(ir)
	if err != nil {
		return err
	}
	if !done {
		t.Fatal("PLAIN exchange should complete in one step")
	}
	return nil
}

func TestPlainAuth(t *testing.T) {
	backend, registry := newTestBackend(t)
	ctx := context.Background()

	cred, password, err := registry.Create(ctx, "acct-1", "ci-sender", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := plainAuth(t, backend, "", cred.Username, password); err != nil {
		t.Errorf("auth with issued credentials failed: %v", err)
	}
	if err := plainAuth(t, backend, cred.Username, cred.Username, password); err != nil {
		t.Errorf("auth with matching identity failed: %v", err)
	}
}

func TestPlainAuthRejections(t *testing.T) {
	backend, registry := newTestBackend(t)
	ctx := context.Background()

	cred, password, err := registry.Create(ctx, "acct-1", "ci-sender", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := plainAuth(t, backend, "", cred.Username, "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("wrong password: err = %v, want ErrAuthFailed", err)
	}
	if err := plainAuth(t, backend, "", "relay_nobody_0000", password); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("unknown username: err = %v, want ErrAuthFailed", err)
	}
	if err := plainAuth(t, backend, "other", cred.Username, password); err == nil {
		t.Error("mismatched identity should be rejected")
	}
}

func TestPlainAuthDisabledCredential(t *testing.T) {
	backend, registry := newTestBackend(t)
	ctx := context.Background()

	cred, password, err := registry.Create(ctx, "acct-1", "ci-sender", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := registry.SetStatus(ctx, "acct-1", cred.ID, credential.StatusDisabled); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	if err := plainAuth(t, backend, "", cred.Username, password); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("disabled credential: err = %v, want ErrAuthFailed", err)
	}
}

func TestUnsupportedMechanism(t *testing.T) {
	backend, _ := newTestBackend(t)

	if _, err := backend.Server("LOGIN"); err == nil {
		t.Error("non-PLAIN mechanism should be rejected")
	}
}

func TestCheck(t *testing.T) {
	backend, registry := newTestBackend(t)
	ctx := context.Background()

	cred, password, err := registry.Create(ctx, "acct-1", "ci-sender", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := backend.Check(ctx, cred.Username, password)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if got.ID != cred.ID {
		t.Errorf("credential id = %q, want %q", got.ID, cred.ID)
	}

	if _, err := backend.Check(ctx, cred.Username, "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v, want ErrAuthFailed", err)
	}
}
