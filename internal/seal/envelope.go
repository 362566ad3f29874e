package seal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/secretsharing"
	"golang.org/x/crypto/hkdf"

	"sealgate/internal/errs"
)

const envelopeVersion = 2

const (
	dataKeySize = 32

	// headerLenSize prefixes the JSON header with its length.
	headerLenSize = 4
	// maxHeaderBytes bounds the JSON header of a parsed envelope.
	maxHeaderBytes = 1 << 20
)

// Envelope is the serialized ciphertext: a length-prefixed JSON header
// followed by the raw sealed payload. Everything except Ciphertext is public.
type Envelope struct {
	Version    int           `json:"v"`
	PackageID  string        `json:"package_id"`
	PolicyID   string        `json:"policy_id"`
	Threshold  int           `json:"threshold"`
	Nonce      []byte        `json:"nonce"`
	Ciphertext []byte        `json:"-"`
	Shares     []SealedShare `json:"shares"`
}

// SealedShare is one secret share sealed to the key server Server.
type SealedShare struct {
	Server string `json:"server"`
	Data   []byte `json:"data"`
}

// sharePayload is the plaintext inside a SealedShare and inside a released
// share.
type sharePayload struct {
	PackageID string `json:"package_id"`
	PolicyID  string `json:"policy_id"`
	ID        []byte `json:"id"`
	Value     []byte `json:"value"`
}

// ParseEnvelope decodes ciphertext produced by Gateway.Encrypt.
func ParseEnvelope(data []byte) (Envelope, error) {
	if len(data) < headerLenSize {
		return Envelope{}, errs.New(errs.InvalidInput, "malformed ciphertext: %d bytes", len(data))
	}
	n := binary.BigEndian.Uint32(data[:headerLenSize])
	if n > maxHeaderBytes || int(n) > len(data)-headerLenSize {
		return Envelope{}, errs.New(errs.InvalidInput, "malformed ciphertext: header of %d bytes", n)
	}
	var env Envelope
	if err := json.Unmarshal(data[headerLenSize:headerLenSize+int(n)], &env); err != nil {
		return Envelope{}, errs.New(errs.InvalidInput, "malformed ciphertext: %v", err)
	}
	env.Ciphertext = data[headerLenSize+int(n):]
	if env.Version != envelopeVersion {
		return Envelope{}, errs.New(errs.InvalidInput, "unsupported ciphertext version %d", env.Version)
	}
	if env.Threshold < 1 || env.Threshold > len(env.Shares) {
		return Envelope{}, errs.New(errs.InvalidInput, "malformed ciphertext: threshold %d with %d shares", env.Threshold, len(env.Shares))
	}
	return env, nil
}

// Marshal encodes the envelope. The payload is appended as is, so the
// envelope is only a small fixed header larger than the sealed plaintext.
func (e Envelope) Marshal() ([]byte, error) {
	header, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerLenSize, headerLenSize+len(header)+len(e.Ciphertext))
	binary.BigEndian.PutUint32(out, uint32(len(header)))
	out = append(out, header...)
	return append(out, e.Ciphertext...), nil
}

// MaxEnvelopeSize bounds the encoded size of an envelope sealing at most
// plaintextBytes for a committee of servers key servers.
func MaxEnvelopeSize(plaintextBytes, servers int) int64 {
	const (
		fixedHeader = 1 << 10
		perShare    = 1 << 10
		aeadTag     = 16
	)
	return int64(headerLenSize+fixedHeader+servers*perShare+aeadTag) + int64(plaintextBytes)
}

// associatedData binds the ciphertext to its package and policy.
func associatedData(packageID, policyID string) []byte {
	return []byte(packageID + "::" + policyID)
}

// deriveDataKey expands the shared secret into the content key.
func deriveDataKey(secret group.Scalar, packageID, policyID string) ([]byte, error) {
	raw, err := secret.MarshalBinary()
	if err != nil {
		return nil, err
	}
	key := make([]byte, dataKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, associatedData(packageID, policyID)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func encodeShare(packageID, policyID string, share secretsharing.Share) ([]byte, error) {
	id, err := share.ID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	value, err := share.Value.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(sharePayload{PackageID: packageID, PolicyID: policyID, ID: id, Value: value})
}

func decodeShare(data []byte) (sharePayload, secretsharing.Share, error) {
	var p sharePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return sharePayload{}, secretsharing.Share{}, fmt.Errorf("decode share: %w", err)
	}
	id := group.Ristretto255.NewScalar()
	if err := id.UnmarshalBinary(p.ID); err != nil {
		return sharePayload{}, secretsharing.Share{}, fmt.Errorf("decode share id: %w", err)
	}
	value := group.Ristretto255.NewScalar()
	if err := value.UnmarshalBinary(p.Value); err != nil {
		return sharePayload{}, secretsharing.Share{}, fmt.Errorf("decode share value: %w", err)
	}
	return p, secretsharing.Share{ID: id, Value: value}, nil
}
