package blobstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"sealgate/internal/errs"
	"sealgate/internal/models"
)

// DefaultEpochDuration is the length of one retention epoch.
const DefaultEpochDuration = 24 * time.Hour

// BlobMeta is the retention record kept next to each blob.
type BlobMeta struct {
	BlobID    string `json:"blob_id"`
	ObjectID  string `json:"object_id"`
	SizeBytes int64  `json:"size_bytes"`
	EndEpoch  uint64 `json:"end_epoch"`
	// CertifiedDigest identifies the certification of the current storage
	// period.
	CertifiedDigest string `json:"certified_digest"`
}

type epochState struct {
	Genesis time.Time `json:"genesis"`
}

// LocalStore keeps blobs in a local content-addressed tree keyed by CIDv1
// (raw, sha2-256) and tracks retention in epochs. Expired blobs stay on disk
// until overwritten but are no longer served.
type LocalStore struct {
	root          string
	baseURL       string
	epochDuration time.Duration
	genesis       time.Time

	mu  sync.Mutex
	now func() time.Time
}

var _ Transport = (*LocalStore)(nil)

// NewLocalStore creates a store rooted at root. baseURL is the aggregator
// address used to build blob URLs.
func NewLocalStore(root, baseURL string, epochDuration time.Duration) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("blob store root is required")
	}
	if epochDuration <= 0 {
		epochDuration = DefaultEpochDuration
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{abs, filepath.Join(abs, "tmp"), filepath.Join(abs, "blobs"), filepath.Join(abs, "meta")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	s := &LocalStore{root: abs, baseURL: strings.TrimRight(baseURL, "/"), epochDuration: epochDuration, now: time.Now}
	if err := s.loadGenesis(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock driving epochs.
func (s *LocalStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Genesis is the start of epoch 0.
func (s *LocalStore) Genesis() time.Time {
	return s.genesis
}

// CurrentEpoch is the number of whole epochs since the store was created.
func (s *LocalStore) CurrentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentEpochLocked()
}

func (s *LocalStore) currentEpochLocked() uint64 {
	elapsed := s.now().Sub(s.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / s.epochDuration)
}

// Store persists data for epochs epochs. Content that is already live is
// reported as already certified, with its retention extended when the new
// request reaches further.
func (s *LocalStore) Store(ctx context.Context, data []byte, epochs int) (models.BlobResult, error) {
	if err := ctx.Err(); err != nil {
		return models.BlobResult{}, err
	}
	if epochs < 1 {
		epochs = DefaultEpochs
	}
	id, err := blobCID(data)
	if err != nil {
		return models.BlobResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.currentEpochLocked()
	end := current + uint64(epochs)

	meta, err := s.readMeta(id)
	switch {
	case err == nil && current < meta.EndEpoch:
		if end > meta.EndEpoch {
			meta.EndEpoch = end
			if err := s.writeMeta(meta); err != nil {
				return models.BlobResult{}, err
			}
		}
		return models.BlobResult{
			Status:        models.BlobAlreadyStored,
			BlobID:        id,
			CertifyingRef: meta.CertifiedDigest,
			EndEpoch:      meta.EndEpoch,
		}, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return models.BlobResult{}, err
	}

	if err := s.writeBlob(id, data); err != nil {
		return models.BlobResult{}, err
	}
	objectID, err := randomObjectID()
	if err != nil {
		return models.BlobResult{}, err
	}
	digest, err := certificationDigest(id, objectID, end)
	if err != nil {
		return models.BlobResult{}, err
	}
	meta = BlobMeta{BlobID: id, ObjectID: objectID, SizeBytes: int64(len(data)), EndEpoch: end, CertifiedDigest: digest}
	if err := s.writeMeta(meta); err != nil {
		return models.BlobResult{}, err
	}
	return models.BlobResult{
		Status:        models.BlobNewlyStored,
		BlobID:        id,
		CertifyingRef: objectID,
		EndEpoch:      end,
	}, nil
}

// Open returns a reader for a live blob.
func (s *LocalStore) Open(ctx context.Context, blobID string) (io.ReadCloser, BlobMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, BlobMeta{}, err
	}
	id, err := cid.Decode(strings.TrimSpace(blobID))
	if err != nil {
		return nil, BlobMeta{}, errs.New(errs.NotFound, "blob %s not found", blobID)
	}
	key := id.String()

	s.mu.Lock()
	meta, err := s.readMeta(key)
	current := s.currentEpochLocked()
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, BlobMeta{}, errs.New(errs.NotFound, "blob %s not found", key)
	}
	if err != nil {
		return nil, BlobMeta{}, err
	}
	if current >= meta.EndEpoch {
		return nil, meta, errs.New(errs.Expired, "blob %s expired at epoch %d", key, meta.EndEpoch)
	}

	f, err := os.Open(s.blobPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, BlobMeta{}, errs.New(errs.NotFound, "blob %s not found", key)
	}
	if err != nil {
		return nil, BlobMeta{}, err
	}
	return f, meta, nil
}

// Fetch reads a live blob into memory.
func (s *LocalStore) Fetch(ctx context.Context, blobID string) ([]byte, error) {
	rc, _, err := s.Open(ctx, blobID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// URL returns the aggregator URL of blobID.
func (s *LocalStore) URL(blobID string) string {
	return BlobURL(s.baseURL, blobID)
}

func (s *LocalStore) writeBlob(id string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "put-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}

	dst := s.blobPath(id)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (s *LocalStore) readMeta(id string) (BlobMeta, error) {
	raw, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return BlobMeta{}, err
	}
	var meta BlobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return BlobMeta{}, fmt.Errorf("read blob metadata %s: %w", id, err)
	}
	return meta, nil
}

func (s *LocalStore) writeMeta(meta BlobMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	path := s.metaPath(meta.BlobID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *LocalStore) loadGenesis() error {
	path := filepath.Join(s.root, "epoch.json")
	raw, err := os.ReadFile(path)
	if err == nil {
		var state epochState
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("read epoch state: %w", err)
		}
		s.genesis = state.Genesis
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.genesis = time.Now().UTC()
	raw, err = json.Marshal(epochState{Genesis: s.genesis})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (s *LocalStore) blobPath(id string) string {
	return filepath.Join(s.root, "blobs", id[len(id)-2:], id)
}

func (s *LocalStore) metaPath(id string) string {
	return filepath.Join(s.root, "meta", id+".json")
}

// blobCID returns the CIDv1 (raw, sha2-256) string of data.
func blobCID(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

func certificationDigest(blobID, objectID string, endEpoch uint64) (string, error) {
	sum, err := multihash.Sum([]byte(fmt.Sprintf("%s/%s/%d", blobID, objectID, endEpoch)), multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return sum.B58String(), nil
}

func randomObjectID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}
