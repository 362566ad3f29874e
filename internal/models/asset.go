package models

// BlobStatus tells whether the blob store already held the content.
type BlobStatus string

const (
	BlobAlreadyStored BlobStatus = "already_certified"
	BlobNewlyStored   BlobStatus = "newly_created"
)

// BlobResult is the normalized outcome of storing a blob. Both statuses carry
// the same logical payload; Status only matters for telemetry and display.
type BlobResult struct {
	Status BlobStatus `json:"status" yaml:"status"`
	BlobID string     `json:"blob_id" yaml:"blob_id"`
	// CertifyingRef is the certification event digest for already-stored
	// blobs and the storage object id for newly stored ones.
	CertifyingRef string `json:"certifying_ref" yaml:"certifying_ref"`
	EndEpoch      uint64 `json:"end_epoch" yaml:"end_epoch"`
}

// Label is the human-readable status used by the upload summary.
func (r BlobResult) Label() string {
	switch r.Status {
	case BlobAlreadyStored:
		return "Already certified"
	case BlobNewlyStored:
		return "Newly created"
	default:
		return string(r.Status)
	}
}

// EncryptedAsset is a published ciphertext bound to a policy.
type EncryptedAsset struct {
	PolicyID     string     `json:"policy_id" yaml:"policy_id"`
	BlobID       string     `json:"blob_id" yaml:"blob_id"`
	PublishedURL string     `json:"published_url" yaml:"published_url"`
	EndEpoch     uint64     `json:"end_epoch,omitempty" yaml:"end_epoch,omitempty"`
	Status       BlobStatus `json:"status,omitempty" yaml:"status,omitempty"`
}
