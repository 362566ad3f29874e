package blobstore

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

func testLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	st, err := NewLocalStore(t.TempDir(), "http://aggregator.test", time.Hour)
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	return st
}

func atEpoch(st *LocalStore, epoch int) func() time.Time {
	return func() time.Time {
		return st.Genesis().Add(time.Duration(epoch)*time.Hour + time.Minute)
	}
}

func TestLocalStoreStoreFetch(t *testing.T) {
	st := testLocalStore(t)
	ctx := context.Background()

	first, err := st.Store(ctx, []byte("hello"), 2)
	if err != nil {
		t.Fatalf("store first: %v", err)
	}
	if first.Status != models.BlobNewlyStored || first.BlobID == "" || first.CertifyingRef == "" {
		t.Fatalf("unexpected first result: %#v", first)
	}
	if first.EndEpoch != 2 {
		t.Fatalf("expected end epoch 2, got %d", first.EndEpoch)
	}

	second, err := st.Store(ctx, []byte("hello"), 1)
	if err != nil {
		t.Fatalf("store second: %v", err)
	}
	if second.Status != models.BlobAlreadyStored || second.BlobID != first.BlobID {
		t.Fatalf("expected already stored with same id: first=%#v second=%#v", first, second)
	}
	if second.EndEpoch != 2 {
		t.Fatalf("shorter request must not shrink retention, got %d", second.EndEpoch)
	}

	data, err := st.Fetch(ctx, first.BlobID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", data)
	}

	rc, meta, err := st.Open(ctx, first.BlobID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	if meta.SizeBytes != 5 {
		t.Fatalf("expected size 5, got %d", meta.SizeBytes)
	}
	if b, _ := io.ReadAll(rc); string(b) != "hello" {
		t.Fatalf("unexpected open content %q", b)
	}
}

func TestLocalStoreRetention(t *testing.T) {
	st := testLocalStore(t)
	ctx := context.Background()

	res, err := st.Store(ctx, []byte("short lived"), 1)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	st.SetClock(atEpoch(st, 1))
	_, err = st.Fetch(ctx, res.BlobID)
	if !errs.Is(err, errs.Expired) {
		t.Fatalf("expected expired, got %v", err)
	}

	again, err := st.Store(ctx, []byte("short lived"), 3)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if again.Status != models.BlobNewlyStored || again.EndEpoch != 4 {
		t.Fatalf("expected a new storage period ending at 4, got %#v", again)
	}
	if _, err := st.Fetch(ctx, res.BlobID); err != nil {
		t.Fatalf("fetch after restore: %v", err)
	}

	extended, err := st.Store(ctx, []byte("short lived"), 5)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if extended.Status != models.BlobAlreadyStored || extended.EndEpoch != 6 {
		t.Fatalf("expected extension to epoch 6, got %#v", extended)
	}
}

func TestLocalStoreNotFound(t *testing.T) {
	st := testLocalStore(t)
	ctx := context.Background()

	missing, err := blobCID([]byte("never stored"))
	if err != nil {
		t.Fatalf("cid: %v", err)
	}
	for _, id := range []string{missing, "not-a-cid", "../../etc/passwd"} {
		if _, err := st.Fetch(ctx, id); !errs.Is(err, errs.NotFound) {
			t.Fatalf("fetch %q: expected not found, got %v", id, err)
		}
	}
}

func TestLocalStoreGenesisPersists(t *testing.T) {
	dir := t.TempDir()
	first, err := NewLocalStore(dir, "", time.Hour)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewLocalStore(dir, "", time.Hour)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !first.Genesis().Equal(second.Genesis()) {
		t.Fatalf("genesis changed across opens: %v vs %v", first.Genesis(), second.Genesis())
	}
}

func TestLocalStoreCanceledContext(t *testing.T) {
	st := testLocalStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Store(ctx, []byte("x"), 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestBlobURLRoundTrip(t *testing.T) {
	st := testLocalStore(t)
	url := st.URL("bafkreiabc")
	if url != "http://aggregator.test/v1/blobs/bafkreiabc" {
		t.Fatalf("unexpected url %q", url)
	}
	id, err := ParseURL(url)
	if err != nil || id != "bafkreiabc" {
		t.Fatalf("parse url: %q, %v", id, err)
	}
	for _, bad := range []string{"", "http://x/other/abc", "http://x/v1/blobs/", "http://x/v1/blobs/a/b"} {
		if _, err := ParseURL(bad); !errs.Is(err, errs.InvalidInput) {
			t.Fatalf("ParseURL(%q): expected invalid input, got %v", bad, err)
		}
	}
}
