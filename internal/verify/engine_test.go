package verify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/relaykeys/internal/dkimkey"
	"github.com/foxzi/relaykeys/internal/fault"
	"github.com/foxzi/relaykeys/internal/secrets"
	"github.com/foxzi/relaykeys/internal/store"
)

// fakeResolver serves TXT records from a map, or a fixed error. onLookup,
// when set, runs before the records are served, standing in for work that
// happens while a real lookup is in flight.
type fakeResolver struct {
	records  map[string][]string
	err      error
	onLookup func()
}

func (f *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if f.onLookup != nil {
		f.onLookup()
	}
	if f.err != nil {
		return nil, f.err
	}
	recs, ok := f.records[name]
	if !ok || len(recs) == 0 {
		return nil, ErrNoRecord
	}
	return recs, nil
}

type testEnv struct {
	registry *dkimkey.Registry
	resolver *fakeResolver
	engine   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storage, err := dkimkey.NewStorage(db)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := &fakeResolver{records: make(map[string][]string)}

	return &testEnv{
		registry: dkimkey.NewRegistry(storage, logger),
		resolver: resolver,
		engine:   NewEngine(storage, resolver, logger),
	}
}

// publish places the key's exact expected TXT value in the fake DNS.
func (env *testEnv) publish(t *testing.T, key *dkimkey.KeyPair) {
	t.Helper()
	value, err := key.TXTValue()
	if err != nil {
		t.Fatal(err)
	}
	env.resolver.records[key.DNSName()] = []string{value}
}

func TestVerifySuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 2048)
	if err != nil {
		t.Fatal(err)
	}
	env.publish(t, key)

	result, err := env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || !result.DNSFound {
		t.Errorf("result = %+v, want valid and found", result)
	}

	got, err := env.registry.Get(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dkimkey.StatusActive {
		t.Errorf("status = %q, want active after successful verification", got.Status)
	}
	if !got.DNSVerified {
		t.Error("dns_verified should be true")
	}
	if got.LastVerified == nil {
		t.Error("last_verified should be set")
	}
}

func TestVerifySplitRecordSegments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 2048)
	if err != nil {
		t.Fatal(err)
	}

	// Resolvers may reflow whitespace; the comparison must normalize.
	value, err := key.TXTValue()
	if err != nil {
		t.Fatal(err)
	}
	env.resolver.records[key.DNSName()] = []string{" " + value + "\n"}

	result, err := env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Error("whitespace differences must not fail verification")
	}
}

func TestVerifyNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatal(err)
	}

	result, err := env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid || result.DNSFound {
		t.Errorf("result = %+v, want not found", result)
	}
	if result.ErrorMessage == "" {
		t.Error("error message should explain the missing record")
	}

	got, _ := env.registry.Get(ctx, "acct-1", key.ID)
	if got.Status != dkimkey.StatusInactive {
		t.Errorf("status = %q, want inactive", got.Status)
	}
}

func TestVerifyMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatal(err)
	}
	env.resolver.records[key.DNSName()] = []string{"v=DKIM1; h=sha256; k=rsa; p=c29tZW90aGVya2V5"}

	result, err := env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Error("mismatching record must not verify")
	}
	if !result.DNSFound {
		t.Error("dns_found should be true for a mismatching record")
	}
	if result.DNSRecord == "" {
		t.Error("observed record should be reported on mismatch")
	}
}

func TestVerifyFailureDemotesActiveKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatal(err)
	}
	env.publish(t, key)
	if _, err := env.engine.Verify(ctx, "acct-1", key.ID); err != nil {
		t.Fatal(err)
	}

	// The operator removes the record; the next run demotes the key.
	delete(env.resolver.records, key.DNSName())

	result, err := env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid {
		t.Error("verification should fail after record removal")
	}

	got, _ := env.registry.Get(ctx, "acct-1", key.ID)
	if got.Status != dkimkey.StatusInactive || got.DNSVerified {
		t.Errorf("key = status %q verified %v, want inactive/false", got.Status, got.DNSVerified)
	}
}

func TestVerifyResolverErrorPreservesState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatal(err)
	}
	env.publish(t, key)
	if _, err := env.engine.Verify(ctx, "acct-1", key.ID); err != nil {
		t.Fatal(err)
	}

	env.resolver.err = fault.Wrap(fault.Unavailable, errors.New("i/o timeout"), "dns lookup failed")

	_, err = env.engine.Verify(ctx, "acct-1", key.ID)
	if !fault.IsKind(err, fault.Unavailable) {
		t.Fatalf("Verify = %v, want unavailable", err)
	}

	// An inconclusive lookup must never downgrade the verified state.
	got, _ := env.registry.Get(ctx, "acct-1", key.ID)
	if got.Status != dkimkey.StatusActive || !got.DNSVerified {
		t.Errorf("key = status %q verified %v, want active/true preserved", got.Status, got.DNSVerified)
	}
}

func TestVerifyIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	fixed := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	env.engine.now = func() time.Time { return fixed }

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatal(err)
	}
	env.publish(t, key)

	r1, err := env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatal(err)
	}

	if *r1 != *r2 {
		t.Errorf("repeated verification differs:\n%+v\n%+v", r1, r2)
	}
}

func TestVerifyDiscardedWhenKeyChangesDuringLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatal(err)
	}
	env.publish(t, key)

	// The key material is replaced while the lookup is in flight, as a
	// rotation would. The positive result was computed against the old
	// material and must not be applied to the new.
	env.resolver.onLookup = func() {
		current, err := env.registry.Get(ctx, "acct-1", key.ID)
		if err != nil {
			t.Error(err)
			return
		}
		publicPEM, privatePEM, err := secrets.GenerateRSAKeyPair(1024)
		if err != nil {
			t.Error(err)
			return
		}
		current.PublicKey = publicPEM
		current.PrivateKey = privatePEM
		current.Status = dkimkey.StatusInactive
		current.DNSVerified = false
		if err := env.registry.Storage().Update(ctx, current, current.Version); err != nil {
			t.Error(err)
		}
	}

	_, err = env.engine.Verify(ctx, "acct-1", key.ID)
	if !fault.IsKind(err, fault.Conflict) {
		t.Fatalf("Verify = %v, want conflict", err)
	}

	got, err := env.registry.Get(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != dkimkey.StatusInactive || got.DNSVerified {
		t.Errorf("key = status %q verified %v, want replacement left inactive/unverified", got.Status, got.DNSVerified)
	}
	if got.LastVerified != nil {
		t.Error("discarded result must not record last_verified")
	}
	if got.PublicKey == key.PublicKey {
		t.Error("replacement material should have been stored")
	}
}

func TestVerifyExpiredKeyRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatal(err)
	}

	key.Status = dkimkey.StatusExpired
	if err := env.registry.Storage().Update(ctx, key, key.Version); err != nil {
		t.Fatal(err)
	}

	_, err = env.engine.Verify(ctx, "acct-1", key.ID)
	if !fault.IsKind(err, fault.Validation) {
		t.Errorf("Verify on expired key = %v, want validation error", err)
	}
}

func TestVerifyNotFoundKey(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Verify(context.Background(), "acct-1", "missing")
	if !fault.IsKind(err, fault.NotFound) {
		t.Errorf("Verify = %v, want not found", err)
	}
}
