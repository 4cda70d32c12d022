package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"mlserve/pkg/types"
)

// Key prefixes used by the two cache consumers.
const (
	PrefixPrediction = "prediction"
	PrefixRemote     = "remote"
)

// Key derives a content-addressed key for (model, params, input):
// prefix:model:hex(sha256(model || canonical(params) || input)).
// Each component is length-prefixed so distinct tuples never share a
// preimage.
func Key(prefix, model string, input []byte, params types.Params) (string, error) {
	canon, err := CanonicalParams(params)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	writeField(h, []byte(model))
	writeField(h, canon)
	writeField(h, input)
	return fmt.Sprintf("%s:%s:%s", prefix, model, hex.EncodeToString(h.Sum(nil))), nil
}

func writeField(h interface{ Write([]byte) (int, error) }, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(b)
}

// CanonicalParams serializes params as JSON. encoding/json sorts map keys
// at every nesting level, so equal maps always serialize identically. Nil
// and empty params are equivalent.
func CanonicalParams(params types.Params) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(map[string]any(params))
	if err != nil {
		return nil, fmt.Errorf("canonical params: %w", err)
	}
	return b, nil
}
