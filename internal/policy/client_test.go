package policy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sealgate/internal/errs"
	"sealgate/internal/ledger"
	"sealgate/internal/models"
)

const testPackage = "0x5ea1"

var (
	alice = models.MustAddress("0x" + strings.Repeat("a1", 32))
	bob   = models.MustAddress("0x" + strings.Repeat("b2", 32))
	carol = models.MustAddress("0x" + strings.Repeat("c3", 32))
)

// countingLedger records how many transactions reach the ledger.
type countingLedger struct {
	ledger.Ledger
	mu      sync.Mutex
	submits int
}

func (c *countingLedger) SubmitTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Effects, error) {
	c.mu.Lock()
	c.submits++
	c.mu.Unlock()
	return c.Ledger.SubmitTransaction(ctx, tx)
}

func (c *countingLedger) Submits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

func testLedger(t *testing.T) *ledger.Store {
	t.Helper()
	st, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"), testPackage)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testClient(t *testing.T) (*Client, *countingLedger) {
	t.Helper()
	counting := &countingLedger{Ledger: testLedger(t)}
	return NewClient(counting, testPackage, nil), counting
}

func TestCreateAllowlistAndMembers(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	policy, capability, err := client.CreateAllowlist(ctx, alice, "team-docs")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if policy.Kind != models.KindAllowlist || capability.PolicyID != policy.ID || capability.Owner != alice {
		t.Fatalf("unexpected mint: %+v %+v", policy, capability)
	}

	if _, err := client.SubmitPolicyMutation(ctx, alice, AddMember(policy.ID, capability.ID, bob.String())); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := client.GetPolicy(ctx, policy.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.HasMember(bob) || got.Name != "team-docs" {
		t.Fatalf("expected bob in %+v", got)
	}

	if _, err := client.SubmitPolicyMutation(ctx, alice, RemoveMember(policy.ID, capability.ID, bob.String())); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := client.SubmitPolicyMutation(ctx, alice, RemoveMember(policy.ID, capability.ID, bob.String())); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	got, err = client.GetPolicy(ctx, policy.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HasMember(bob) {
		t.Fatalf("bob should be gone: %+v", got.Members)
	}
}

func TestMutationErrors(t *testing.T) {
	client, counting := testClient(t)
	ctx := context.Background()

	first, firstCap, err := client.CreateAllowlist(ctx, alice, "first")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	_, secondCap, err := client.CreateAllowlist(ctx, alice, "second")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	t.Run("capability for another policy", func(t *testing.T) {
		_, err := client.SubmitPolicyMutation(ctx, alice, AddMember(first.ID, secondCap.ID, bob.String()))
		if !errs.Is(err, errs.Unauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	})

	t.Run("capability held by someone else", func(t *testing.T) {
		_, err := client.SubmitPolicyMutation(ctx, bob, AddMember(first.ID, firstCap.ID, bob.String()))
		if !errs.Is(err, errs.Unauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	})

	t.Run("malformed address never reaches the ledger", func(t *testing.T) {
		before := counting.Submits()
		_, err := client.SubmitPolicyMutation(ctx, alice, AddMember(first.ID, firstCap.ID, "0xnot-an-address"))
		if !errs.Is(err, errs.InvalidInput) || !errors.Is(err, errs.ErrInvalidAddress) {
			t.Fatalf("expected invalid address, got %v", err)
		}
		if counting.Submits() != before {
			t.Fatal("ledger should not be called")
		}
	})

	t.Run("missing policy", func(t *testing.T) {
		_, err := client.SubmitPolicyMutation(ctx, alice, AddMember("0xmissing", firstCap.ID, bob.String()))
		if !errors.Is(err, errs.ErrPolicyNotFound) {
			t.Fatalf("expected policy not found, got %v", err)
		}
	})
}

func TestGetPolicyNotFound(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	if _, err := client.GetPolicy(ctx, "0xmissing"); !errors.Is(err, errs.ErrPolicyNotFound) {
		t.Fatalf("expected policy not found, got %v", err)
	}

	_, capability, err := client.CreateAllowlist(ctx, alice, "docs")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := client.GetPolicy(ctx, capability.ID); !errors.Is(err, errs.ErrPolicyNotFound) {
		t.Fatalf("a capability is not a policy, got %v", err)
	}
}

func TestServiceSubscribeAndGrants(t *testing.T) {
	st := testLedger(t)
	t0 := time.UnixMilli(1_700_000_000_000)
	st.SetClock(func() time.Time { return t0 })
	client := NewClient(st, testPackage, nil)
	ctx := context.Background()

	service, _, err := client.CreateService(ctx, alice, "news", 10, 60_000)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	loaded, err := client.GetPolicy(ctx, service.ID)
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if loaded.Kind != models.KindSubscription || loaded.FeeAmount != 10 || loaded.TTLMillis != 60_000 || loaded.Owner != alice {
		t.Fatalf("unexpected service: %+v", loaded)
	}

	if _, err := client.Subscribe(ctx, carol, service.ID, 9); !errs.Is(err, errs.Rejected) {
		t.Fatalf("expected rejected for wrong payment, got %v", err)
	}

	grant, err := client.Subscribe(ctx, carol, service.ID, 10)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if grant.PurchasedAt != t0.UnixMilli() {
		t.Fatalf("expected purchase at ledger clock, got %d", grant.PurchasedAt)
	}

	grants, err := client.ListGrants(ctx, carol, service.ID)
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	if len(grants) != 1 || grants[0].ID != grant.ID || grants[0].Holder != carol {
		t.Fatalf("unexpected grants: %+v", grants)
	}

	none, err := client.ListGrants(ctx, bob, service.ID)
	if err != nil {
		t.Fatalf("list bob grants: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("bob has no grants, got %+v", none)
	}
}

func TestPublishAssetMutation(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	service, capability, err := client.CreateService(ctx, alice, "news", 1, 1000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m := PublishAsset(models.KindSubscription, service.ID, capability.ID, "http://agg/v1/blobs/x")
	if _, err := client.SubmitPolicyMutation(ctx, alice, m); err != nil {
		t.Fatalf("publish: %v", err)
	}
	loaded, err := client.GetPolicy(ctx, service.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.HasAsset("http://agg/v1/blobs/x") {
		t.Fatalf("expected asset recorded, got %v", loaded.Assets)
	}

	empty := PublishAsset(models.KindSubscription, service.ID, capability.ID, " ")
	if _, err := client.SubmitPolicyMutation(ctx, alice, empty); !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
