// Package cache provides caching of decrypted package payloads.
//
// Keys are digests derived from the byte source identity and the entry name
// (see [Key]), so a cache directory can be shared by many packages.
package cache

import (
	_ "crypto/sha256" // registers the digest.Canonical hash

	digest "github.com/opencontainers/go-digest"
)

// Cache stores decrypted payloads.
//
// Implementations should handle their own size limits and eviction policies.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves content by key.
	// Returns nil, false if the content is not cached.
	Get(key digest.Digest) ([]byte, bool)

	// Put stores content under key.
	Put(key digest.Digest, content []byte) error

	// Delete removes cached content for key.
	// Implementations should treat missing entries as a no-op.
	Delete(key digest.Digest) error
}

// Key returns the cache key for the entry name in the source identified by sourceID.
func Key(sourceID, name string) digest.Digest {
	return digest.FromString(sourceID + "\x00" + name)
}
