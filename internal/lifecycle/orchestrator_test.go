package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/relaykeys/internal/dkimkey"
	"github.com/foxzi/relaykeys/internal/fault"
	"github.com/foxzi/relaykeys/internal/store"
	"github.com/foxzi/relaykeys/internal/verify"
)

type fakeResolver struct {
	records map[string][]string
}

func (f *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	recs, ok := f.records[name]
	if !ok {
		return nil, verify.ErrNoRecord
	}
	return recs, nil
}

type testEnv struct {
	registry     *dkimkey.Registry
	orchestrator *Orchestrator
	engine       *verify.Engine
	resolver     *fakeResolver
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
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
	resolver := &fakeResolver{records: map[string][]string{}}
	return &testEnv{
		registry:     dkimkey.NewRegistry(storage, logger),
		orchestrator: NewOrchestrator(storage, logger, opts...),
		engine:       verify.NewEngine(storage, resolver, logger),
		resolver:     resolver,
	}
}

// publish copies the key's expected TXT value into the fake DNS zone.
func (env *testEnv) publish(t *testing.T, key *dkimkey.KeyPair) {
	t.Helper()
	value, err := key.TXTValue()
	if err != nil {
		t.Fatalf("TXTValue failed: %v", err)
	}
	env.resolver.records[key.DNSName()] = []string{value}
}

func TestRotateResetsVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	env.publish(t, key)
	if _, err := env.engine.Verify(ctx, "acct-1", key.ID); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	oldRecord, err := key.DNSRecord()
	if err != nil {
		t.Fatalf("DNSRecord failed: %v", err)
	}

	rotated, record, err := env.orchestrator.Rotate(ctx, "acct-1", key.ID, RotateOptions{})
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if rotated.Status != dkimkey.StatusInactive {
		t.Errorf("status = %q, want inactive after rotation", rotated.Status)
	}
	if rotated.DNSVerified {
		t.Error("dns_verified should be false after rotation")
	}
	if rotated.PrivateKey == key.PrivateKey {
		t.Error("private key should be regenerated")
	}
	if record.Value == oldRecord.Value {
		t.Error("published record value should change with the key material")
	}
	if record.Name != oldRecord.Name {
		t.Errorf("record name = %q, want %q unchanged", record.Name, oldRecord.Name)
	}
}

func TestRotateChangesSelector(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "s1", 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rotated, record, err := env.orchestrator.Rotate(ctx, "acct-1", key.ID, RotateOptions{Selector: "s2"})
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if rotated.Selector != "s2" {
		t.Errorf("selector = %q, want s2", rotated.Selector)
	}
	if record.Name != "s2._domainkey.example.com" {
		t.Errorf("record name = %q, want s2._domainkey.example.com", record.Name)
	}

	// The freed selector becomes usable again.
	if _, err := env.registry.Create(ctx, "acct-1", "example.com", "s1", 1024); err != nil {
		t.Errorf("creating a key on the freed selector failed: %v", err)
	}
}

func TestRotateSelectorConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.registry.Create(ctx, "acct-1", "example.com", "taken", 1024); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	key, err := env.registry.Create(ctx, "acct-1", "example.com", "mine", 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, _, err = env.orchestrator.Rotate(ctx, "acct-1", key.ID, RotateOptions{Selector: "taken"})
	if !fault.IsKind(err, fault.Conflict) {
		t.Errorf("err = %v, want Conflict for occupied selector", err)
	}
}

func TestRotateInvalidSelector(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, _, err = env.orchestrator.Rotate(ctx, "acct-1", key.ID, RotateOptions{Selector: "bad selector"})
	if !fault.IsKind(err, fault.Validation) {
		t.Errorf("err = %v, want Validation", err)
	}
}

func TestRotateExpiredKeyRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	key.Status = dkimkey.StatusExpired
	if err := env.registry.Storage().Update(ctx, key, key.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_, _, err = env.orchestrator.Rotate(ctx, "acct-1", key.ID, RotateOptions{})
	if !fault.IsKind(err, fault.Validation) {
		t.Errorf("err = %v, want Validation for expired key", err)
	}
}

func TestRotateUnknownKey(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.orchestrator.Rotate(context.Background(), "acct-1", "missing", RotateOptions{})
	if !fault.IsKind(err, fault.NotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestExpireSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	mkKey := func(selector string, status dkimkey.Status, expiresAt time.Time) *dkimkey.KeyPair {
		t.Helper()
		key, err := env.registry.Create(ctx, "acct-1", "example.com", selector, 1024)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		key.Status = status
		key.ExpiresAt = &expiresAt
		if err := env.registry.Storage().Update(ctx, key, key.Version); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		return key
	}

	past := mkKey("past", dkimkey.StatusActive, now.Add(-time.Hour))
	warning := mkKey("warning", dkimkey.StatusActive, now.Add(24*time.Hour))
	healthy := mkKey("healthy", dkimkey.StatusActive, now.Add(30*24*time.Hour))
	inactiveSoon := mkKey("inactive-soon", dkimkey.StatusInactive, now.Add(24*time.Hour))

	affected, err := env.orchestrator.ExpireSweep(ctx, now)
	if err != nil {
		t.Fatalf("ExpireSweep failed: %v", err)
	}
	if len(affected) != 2 {
		t.Fatalf("affected = %v, want exactly the past and warning keys", affected)
	}
	byID := map[string]dkimkey.Status{}
	for _, tr := range affected {
		byID[tr.ID] = tr.Status
	}
	if byID[past.ID] != dkimkey.StatusExpired || byID[warning.ID] != dkimkey.StatusExpiring {
		t.Errorf("transitions = %v, want past expired and warning expiring", byID)
	}

	check := func(id string, want dkimkey.Status) {
		t.Helper()
		key, err := env.registry.Get(ctx, "acct-1", id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if key.Status != want {
			t.Errorf("key %s status = %q, want %q", id, key.Status, want)
		}
	}
	check(past.ID, dkimkey.StatusExpired)
	check(warning.ID, dkimkey.StatusExpiring)
	check(healthy.ID, dkimkey.StatusActive)
	// Inactive keys never enter the warning state: they were never
	// verified, so there is nothing to warn about.
	check(inactiveSoon.ID, dkimkey.StatusInactive)

	expired, err := env.registry.Get(ctx, "acct-1", past.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if expired.DNSVerified {
		t.Error("expired key should drop dns_verified")
	}
}

func TestExpireSweepIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	expiry := now.Add(-time.Hour)
	key.ExpiresAt = &expiry
	if err := env.registry.Storage().Update(ctx, key, key.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := env.orchestrator.ExpireSweep(ctx, now); err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	affected, err := env.orchestrator.ExpireSweep(ctx, now)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if len(affected) != 0 {
		t.Errorf("second sweep affected %v, want none", affected)
	}
}

func TestExpireSweepCustomWindow(t *testing.T) {
	env := newTestEnv(t, WithWarningWindow(48*time.Hour))
	ctx := context.Background()
	now := time.Now()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	key.Status = dkimkey.StatusActive
	expiry := now.Add(36 * time.Hour)
	key.ExpiresAt = &expiry
	if err := env.registry.Storage().Update(ctx, key, key.Version); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	affected, err := env.orchestrator.ExpireSweep(ctx, now)
	if err != nil {
		t.Fatalf("ExpireSweep failed: %v", err)
	}
	if len(affected) != 1 {
		t.Fatalf("affected = %v, want one key inside the widened window", affected)
	}

	got, err := env.registry.Get(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != dkimkey.StatusExpiring {
		t.Errorf("status = %q, want expiring", got.Status)
	}
}

// TestRotationRoundTrip walks a key through its full life: created
// unverified, verified against published DNS, rotated, then failing
// verification until the new record is published.
func TestRotationRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, err := env.registry.Create(ctx, "acct-1", "example.com", "default", 1024)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if key.Status != dkimkey.StatusInactive || key.DNSVerified {
		t.Fatalf("new key = %q/%v, want inactive/unverified", key.Status, key.DNSVerified)
	}

	env.publish(t, key)
	result, err := env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("verification failed: %s", result.ErrorMessage)
	}

	verified, err := env.registry.Get(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if verified.Status != dkimkey.StatusActive || !verified.DNSVerified {
		t.Fatalf("verified key = %q/%v, want active/verified", verified.Status, verified.DNSVerified)
	}

	rotated, record, err := env.orchestrator.Rotate(ctx, "acct-1", key.ID, RotateOptions{})
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if rotated.Status != dkimkey.StatusInactive || rotated.DNSVerified {
		t.Fatalf("rotated key = %q/%v, want inactive/unverified", rotated.Status, rotated.DNSVerified)
	}

	// DNS still serves the old record, so verification must fail.
	result, err = env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("verification should fail while the old record is still published")
	}

	env.resolver.records[rotated.DNSName()] = []string{record.Value}
	result, err = env.engine.Verify(ctx, "acct-1", key.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("verification after republish failed: %s", result.ErrorMessage)
	}
}
