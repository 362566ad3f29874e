package policy

import (
	"context"
	"testing"
	"time"

	"sealgate/internal/models"
)

func TestWatcherDeliversSnapshotsAndStops(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	policy, capability, err := client.CreateAllowlist(ctx, alice, "docs")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w := NewWatcher(client, NewResolver(client, nil), WatchConfig{
		PolicyID: policy.ID,
		Kind:     models.KindAllowlist,
		Owner:    alice,
		Interval: 10 * time.Millisecond,
	}, nil)
	if _, ok := w.Latest(); ok {
		t.Fatal("no snapshot expected before Run")
	}

	updates := w.Updates()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	select {
	case snap := <-updates:
		if snap.Policy.ID != policy.ID {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
		if snap.Capability == nil || snap.Capability.ID != capability.ID {
			t.Fatalf("expected resolved capability, got %+v", snap.Capability)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first snapshot")
	}

	if _, err := client.SubmitPolicyMutation(ctx, alice, AddMember(policy.ID, capability.ID, bob.String())); err != nil {
		t.Fatalf("add: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		snap, ok := <-updates
		if !ok {
			t.Fatal("updates closed early")
		}
		if snap.Policy.HasMember(bob) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for member update")
		default:
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	for range updates {
	}

	latest, ok := w.Latest()
	if !ok || !latest.Policy.HasMember(bob) {
		t.Fatalf("latest snapshot should include bob: %+v", latest)
	}
	if w.Updates() == updates {
		t.Fatal("a finished run should leave a fresh channel for the next one")
	}
}

func TestWatcherWithoutOwnerSkipsCapability(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	policy, _, err := client.CreateAllowlist(ctx, alice, "docs")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := NewWatcher(client, NewResolver(client, nil), WatchConfig{PolicyID: policy.ID, Kind: models.KindAllowlist}, nil)

	snap, err := w.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.Capability != nil {
		t.Fatalf("expected no capability, got %+v", snap.Capability)
	}

	wrongKind := NewWatcher(client, nil, WatchConfig{PolicyID: policy.ID, Kind: models.KindSubscription}, nil)
	if _, err := wrongKind.Refresh(ctx); err == nil {
		t.Fatal("expected kind mismatch error")
	}
}

func TestDefaultInterval(t *testing.T) {
	if DefaultInterval(models.KindAllowlist) != 2*time.Second {
		t.Fatal("allowlist refresh should default to 2s")
	}
	if DefaultInterval(models.KindSubscription) != 5*time.Second {
		t.Fatal("service refresh should default to 5s")
	}
}
