package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"sealgate/internal/errs"
	"sealgate/internal/ledger"
	"sealgate/internal/models"
)

// capLedger serves a fixed set of owned capability objects.
type capLedger struct {
	ledger.Ledger
	owned []ledger.Object
}

func (c *capLedger) GetOwnedObjectsByType(_ context.Context, owner string, typ ledger.TypeTag) ([]ledger.Object, error) {
	var out []ledger.Object
	for _, obj := range c.owned {
		if obj.Owner == owner && obj.Type == typ {
			out = append(out, obj)
		}
	}
	return out, nil
}

func allowlistCap(t *testing.T, id string, owner models.Address, policyID string) ledger.Object {
	t.Helper()
	raw, err := json.Marshal(ledger.AllowlistCapFields{AllowlistID: policyID})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ledger.Object{
		ID:     id,
		Type:   ledger.StructTag(testPackage, ledger.ModuleAllowlist, ledger.StructCap),
		Owner:  owner.String(),
		Fields: raw,
	}
}

func TestResolveCapability(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	l := &capLedger{owned: []ledger.Object{
		allowlistCap(t, "0xcap1", alice, "0xlist-a"),
		allowlistCap(t, "0xcap2", alice, "0xlist-b"),
		allowlistCap(t, "0xcap3", alice, "0xlist-b"),
		allowlistCap(t, "0xcap4", bob, "0xlist-c"),
	}}
	resolver := NewResolver(NewClient(l, testPackage, logger), logger)
	ctx := context.Background()

	got, err := resolver.ResolveCapability(ctx, alice, "0xlist-a", models.KindAllowlist)
	if err != nil || got.ID != "0xcap1" {
		t.Fatalf("expected 0xcap1, got %+v, %v", got, err)
	}
	if logs.Len() != 0 {
		t.Fatalf("unexpected log output: %s", logs.String())
	}

	got, err = resolver.ResolveCapability(ctx, alice, "0xlist-b", models.KindAllowlist)
	if err != nil || got.ID != "0xcap2" {
		t.Fatalf("expected first duplicate 0xcap2, got %+v, %v", got, err)
	}
	if !strings.Contains(logs.String(), "multiple capabilities") {
		t.Fatalf("expected duplicate warning, got %q", logs.String())
	}

	_, err = resolver.ResolveCapability(ctx, alice, "0xlist-c", models.KindAllowlist)
	if !errors.Is(err, errs.ErrCapabilityNotFound) {
		t.Fatalf("expected capability not found, got %v", err)
	}

	_, err = resolver.ResolveCapability(ctx, alice, "0xlist-a", models.KindSubscription)
	if !errors.Is(err, errs.ErrCapabilityNotFound) {
		t.Fatalf("kind must be part of the lookup, got %v", err)
	}
}
