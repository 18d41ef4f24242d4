package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Digest is the lowercase hex SHA-256 of a blob's content. It serves
// as both the blob's identity and its integrity check.
type Digest string

// HexLen is the length of an encoded digest.
const HexLen = sha256.Size * 2

// FromBytes hashes content into its digest.
func FromBytes(content []byte) Digest {
	sum := sha256.Sum256(content)
	return Digest(hex.EncodeToString(sum[:]))
}

// Parse validates s and returns it as a Digest.
func Parse(s string) (Digest, error) {
	d := Digest(s)
	if !d.Valid() {
		return "", fmt.Errorf("invalid digest: %q", s)
	}
	return d, nil
}

// Valid reports whether d is a well-formed digest. Uppercase hex is
// rejected: digests are file names and map keys, so one content must
// have exactly one spelling.
func (d Digest) Valid() bool {
	if len(d) != HexLen {
		return false
	}
	for _, c := range d {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (d Digest) String() string {
	return string(d)
}

// Short returns the truncated form used in human-facing output.
func (d Digest) Short() string {
	if len(d) < 12 {
		return string(d)
	}
	return string(d[:12])
}
