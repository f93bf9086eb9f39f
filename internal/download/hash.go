package download

import (
	"crypto/md5" //nolint:gosec // identity checks, not security
	"crypto/sha1" //nolint:gosec // identity checks, not security
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// DefaultHashAlgorithm is the digest recorded for completed downloads.
const DefaultHashAlgorithm = "sha256"

// ErrUnknownAlgorithm is returned for an unsupported hash algorithm.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

var hashers = map[string]func() hash.Hash{
	"md5":         md5.New,
	"sha1":        sha1.New,
	"sha256":      sha256.New,
	"sha512":      sha512.New,
	"sha3-256":    func() hash.Hash { return sha3.New256() },
	"blake2b-256": newBlake2b256,
	"xxh64":       func() hash.Hash { return xxhash.New() },
}

func newBlake2b256() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only a key longer than 64 bytes fails.
		panic(err)
	}
	return h
}

// Algorithms returns the supported hash algorithm names, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(hashers))
	for name := range hashers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewHasher returns a new hash for the named algorithm.
func NewHasher(algorithm string) (hash.Hash, error) {
	newHash, ok := hashers[strings.ToLower(algorithm)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	return newHash(), nil
}

// ValidAlgorithm reports whether algorithm is supported.
func ValidAlgorithm(algorithm string) bool {
	_, ok := hashers[strings.ToLower(algorithm)]
	return ok
}
