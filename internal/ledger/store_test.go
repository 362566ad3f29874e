package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sealgate/internal/errs"
)

const testPackage = "0x5ea1"

var (
	alice = "0x" + repeat("a1", 32)
	bob   = "0x" + repeat("b2", 32)
)

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

// testStore creates a temporary ledger for testing.
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	st, err := Open(path, testPackage)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func submit(t *testing.T, st *Store, sender string, calls ...Call) Effects {
	t.Helper()
	effects, err := st.SubmitTransaction(context.Background(), Transaction{Sender: sender, Calls: calls})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return effects
}

func TestOpenRequiresPackageID(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "x.db"), ""); err == nil {
		t.Fatal("expected error without package id")
	}
}

func TestGetObjectNotFound(t *testing.T) {
	st := testStore(t)
	_, err := st.GetObject(context.Background(), "0xmissing")
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestOwnedObjectsByTypeExactMatch(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	submit(t, st, alice, MoveCall(testPackage, ModuleAllowlist, FnCreateAllowlistEntry, "one"))
	submit(t, st, alice, MoveCall(testPackage, ModuleAllowlist, FnCreateAllowlistEntry, "two"))
	submit(t, st, alice, MoveCall(testPackage, ModuleSubscription, FnCreateServiceEntry, "10", "60000", "svc"))

	caps, err := st.GetOwnedObjectsByType(ctx, alice, StructTag(testPackage, ModuleAllowlist, StructCap))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(caps) != 2 {
		t.Fatalf("expected 2 allowlist caps, got %d", len(caps))
	}

	other, err := st.GetOwnedObjectsByType(ctx, alice, StructTag("0xother", ModuleAllowlist, StructCap))
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("type tags from another package must not match, got %d", len(other))
	}

	none, err := st.GetOwnedObjectsByType(ctx, bob, StructTag(testPackage, ModuleAllowlist, StructCap))
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("bob owns nothing, got %d", len(none))
	}
}

func TestInfoCounts(t *testing.T) {
	st := testStore(t)
	submit(t, st, alice, MoveCall(testPackage, ModuleAllowlist, FnCreateAllowlistEntry, "docs"))

	info, err := st.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.SchemaVersion != 2 {
		t.Fatalf("expected schema version 2, got %d", info.SchemaVersion)
	}
	if info.Transactions != 1 {
		t.Fatalf("expected 1 transaction, got %d", info.Transactions)
	}
	if got := info.ObjectCounts[string(StructTag(testPackage, ModuleAllowlist, StructAllowlist))]; got != 1 {
		t.Fatalf("expected 1 allowlist, got %d", got)
	}
}

func TestRegisterKeyServers(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for _, name := range []string{"ks-0", "ks-1"} {
		_, err := st.RegisterKeyServer(ctx, KeyServerFields{Name: name, URL: "local", PublicKey: []byte("pk-" + name)}, []byte("sk-"+name))
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	records, err := st.KeyServers(ctx)
	if err != nil {
		t.Fatalf("key servers: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 key servers, got %d", len(records))
	}
	if records[0].Fields.Name != "ks-0" || string(records[1].PrivateKey) != "sk-ks-1" {
		t.Fatalf("unexpected records: %+v", records)
	}

	if _, err := st.RegisterKeyServer(ctx, KeyServerFields{Name: "bad"}, nil); err == nil {
		t.Fatal("expected error without key pair")
	}
}

func TestSetClock(t *testing.T) {
	st := testStore(t)
	fixed := time.UnixMilli(1_700_000_000_000)
	st.SetClock(func() time.Time { return fixed })
	if !st.Now().Equal(fixed) {
		t.Fatalf("expected fixed clock, got %v", st.Now())
	}
	st.SetClock(nil)
	if st.Now().Before(fixed) {
		t.Fatal("expected wall clock after reset")
	}
}
