package access

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sealgate/internal/blobstore"
	"sealgate/internal/errs"
	"sealgate/internal/ledger"
	"sealgate/internal/models"
	"sealgate/internal/policy"
	"sealgate/internal/publish"
	"sealgate/internal/seal"
)

const e2ePackage = "0x5ea1"

type countingDecrypter struct {
	inner Decrypter
	calls int
}

func (c *countingDecrypter) Decrypt(ctx context.Context, ciphertext []byte, policyID string, proof seal.Proof) ([]byte, error) {
	c.calls++
	return c.inner.Decrypt(ctx, ciphertext, policyID, proof)
}

type stack struct {
	ledger    *ledger.Store
	policies  *policy.Client
	blobs     *blobstore.LocalStore
	approver  *LedgerApprover
	decrypter *countingDecrypter
	publisher *publish.Orchestrator
	evaluator *Evaluator
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	st, err := ledger.Open(filepath.Join(dir, "ledger.db"), e2ePackage)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	blobs, err := blobstore.NewLocalStore(filepath.Join(dir, "blobs"), "http://127.0.0.1:8080", blobstore.DefaultEpochDuration)
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}

	client := policy.NewClient(st, e2ePackage, nil)
	approver := NewLedgerApprover(client)
	ctx := context.Background()
	locals, err := seal.LocalCommittee(ctx, st, seal.DefaultCommitteeSize, "local", e2ePackage, approver, nil)
	if err != nil {
		t.Fatalf("committee: %v", err)
	}
	gateway, err := seal.NewGateway("localnet", e2ePackage, seal.LocalServers(locals), nil)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}

	dec := &countingDecrypter{inner: gateway}
	return &stack{
		ledger:    st,
		policies:  client,
		blobs:     blobs,
		approver:  approver,
		decrypter: dec,
		publisher: publish.New(publish.Config{}, gateway, blobs, client, policy.NewResolver(client, nil), nil),
		evaluator: NewEvaluator(client, dec, blobs, nil),
	}
}

func (s *stack) setClock(now time.Time) {
	clock := func() time.Time { return now }
	s.ledger.SetClock(clock)
	s.approver.SetClock(clock)
	s.evaluator.SetClock(clock)
}

func (s *stack) publish(t *testing.T, actor models.Address, policyID, text string) *publish.Run {
	t.Helper()
	ctx := context.Background()
	session, err := s.publisher.OpenSession(ctx, actor, policyID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	run, err := s.publisher.Publish(ctx, session, []byte(text), 2)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if run.Phase != publish.PhaseAssociated {
		t.Fatalf("expected associated run, got %s", run.Phase)
	}
	return run
}

func TestTeamDocsAllowlist(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	p, capability, err := s.policies.CreateAllowlist(ctx, alice, "team-docs")
	if err != nil {
		t.Fatalf("create allowlist: %v", err)
	}
	if _, err := s.policies.SubmitPolicyMutation(ctx, alice, policy.AddMember(p.ID, capability.ID, alice.String())); err != nil {
		t.Fatalf("add member: %v", err)
	}

	run := s.publish(t, alice, p.ID, "hello")

	got, err := s.evaluator.RequestAccess(ctx, alice, p.ID)
	if err != nil {
		t.Fatalf("member access: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	got, err = s.evaluator.RequestAsset(ctx, alice, p.ID, run.Blob.BlobID)
	if err != nil || string(got) != "hello" {
		t.Fatalf("request asset: %q, %v", got, err)
	}

	before := s.decrypter.calls
	if _, err := s.evaluator.RequestAccess(ctx, bob, p.ID); !errs.Is(err, errs.NotEligible) {
		t.Fatalf("expected not eligible, got %v", err)
	}
	if s.decrypter.calls != before {
		t.Fatal("non-member must not reach the key servers")
	}

	// Even a viewer that skips the local check is refused by the committee.
	ct, err := s.blobs.Fetch(ctx, run.Blob.BlobID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := s.decrypter.inner.Decrypt(ctx, ct, p.ID, seal.Proof{Viewer: bob}); !errs.Is(err, errs.AccessDenied) {
		t.Fatalf("expected key servers to deny, got %v", err)
	}
}

func TestSubscriptionExpiry(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	t0 := time.UnixMilli(1_700_000_000_000)
	s.setClock(t0)

	p, _, err := s.policies.CreateService(ctx, alice, "weekly", 10, 60_000)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	s.publish(t, alice, p.ID, "issue 1")

	if _, err := s.policies.Subscribe(ctx, carol, p.ID, 9); !errs.Is(err, errs.Rejected) {
		t.Fatalf("underpayment: expected rejected, got %v", err)
	}
	grant, err := s.policies.Subscribe(ctx, carol, p.ID, 10)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if grant.PurchasedAt != t0.UnixMilli() {
		t.Fatalf("expected purchase at %d, got %d", t0.UnixMilli(), grant.PurchasedAt)
	}

	tests := []struct {
		name   string
		offset time.Duration
		ok     bool
	}{
		{"half way", 30 * time.Second, true},
		{"at expiry", 60 * time.Second, true},
		{"just after expiry", 60*time.Second + time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.setClock(t0.Add(tt.offset))
			got, err := s.evaluator.RequestAccess(ctx, carol, p.ID)
			if !tt.ok {
				if !errs.Is(err, errs.NotEligible) {
					t.Fatalf("expected not eligible, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("request access: %v", err)
			}
			if string(got) != "issue 1" {
				t.Fatalf("unexpected plaintext %q", got)
			}
		})
	}

	s.setClock(t0)
	if _, err := s.evaluator.RequestAccess(ctx, bob, p.ID); !errs.Is(err, errs.NotEligible) {
		t.Fatalf("non-subscriber: expected not eligible, got %v", err)
	}
}

func TestRequestAllAcrossPublishes(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	p, capability, err := s.policies.CreateAllowlist(ctx, alice, "feed")
	if err != nil {
		t.Fatalf("create allowlist: %v", err)
	}
	if _, err := s.policies.SubmitPolicyMutation(ctx, alice, policy.AddMember(p.ID, capability.ID, bob.String())); err != nil {
		t.Fatalf("add member: %v", err)
	}
	s.publish(t, alice, p.ID, "first")
	s.publish(t, alice, p.ID, "second")

	results, err := s.evaluator.RequestAll(ctx, bob, p.ID)
	if err != nil {
		t.Fatalf("request all: %v", err)
	}
	if len(results) != 2 || string(results[0].Plaintext) != "first" || string(results[1].Plaintext) != "second" {
		t.Fatalf("unexpected results %+v", results)
	}
}
