package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/multiformats/go-multihash"
)

const (
	objectIDBytes = 32
	idMaxAttempts = 20
)

// GenerateObjectID returns a fresh 0x-prefixed 32-byte object id. It retries
// on collisions using the provided exists function.
func GenerateObjectID(exists func(string) (bool, error)) (string, error) {
	for i := 0; i < idMaxAttempts; i++ {
		b := make([]byte, objectIDBytes)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		id := "0x" + hex.EncodeToString(b)
		if exists == nil {
			return id, nil
		}
		ok, err := exists(id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
	}

	return "", fmt.Errorf("unable to generate unique object id")
}

// transactionDigest derives a base58 sha2-256 multihash over the
// transaction, its execution time and a random salt.
func transactionDigest(tx Transaction, executedAtMs int64) (string, error) {
	payload, err := json.Marshal(struct {
		Tx   Transaction `json:"tx"`
		At   int64       `json:"at"`
		Salt []byte      `json:"salt"`
	}{Tx: tx, At: executedAtMs, Salt: randomSalt()})
	if err != nil {
		return "", err
	}
	sum, err := multihash.Sum(payload, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return sum.B58String(), nil
}

func randomSalt() []byte {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return b
}
