package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestPrefix is prepended to every content hash WorkRail computes so
// digests are self-describing (e.g. "sha256:ab12...").
const DigestPrefix = "sha256:"

// Hash returns the prefixed SHA-256 digest of v's canonical encoding.
func Hash(v interface{}) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes returns the prefixed SHA-256 digest of already-canonical bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// Equal reports whether two values hash to the same digest under
// canonical encoding, without the caller needing to compute either digest
// directly.
func Equal(a, b interface{}) (bool, error) {
	ha, err := Hash(a)
	if err != nil {
		return false, err
	}
	hb, err := Hash(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}
