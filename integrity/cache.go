package integrity

import (
	"sync"
)

// ChecksumCache maps checksums of any supported algorithm to the digest
// of the same content under the configured digest function.
// Keys are the hash padded to 64 bytes followed by one algorithm identifier byte.
// It is safe for concurrent use.
type ChecksumCache struct {
	shards [shardCount]map[cacheKey]Digest
	muxs   [shardCount]sync.RWMutex
}

type cacheKey [65]byte

func NewCache() *ChecksumCache {
	cache := &ChecksumCache{}
	for i := range cache.shards {
		cache.shards[i] = make(map[cacheKey]Digest)
	}
	return cache
}

func keyFor(hash []byte, identifier byte) (cacheKey, uint8) {
	var key cacheKey
	copy(key[:64], hash)
	key[64] = identifier
	return key, hash[0] & shardMask
}

func (c *ChecksumCache) GetSlice(hash []byte, identifier byte) (Digest, bool) {
	if len(hash) == 0 {
		return Digest{}, false
	}
	key, shard := keyFor(hash, identifier)
	c.muxs[shard].RLock()
	defer c.muxs[shard].RUnlock()
	digest, ok := c.shards[shard][key]
	return digest, ok
}

func (c *ChecksumCache) PutSlice(hash []byte, identifier byte, digest Digest) {
	if len(hash) == 0 {
		return
	}
	key, shard := keyFor(hash, identifier)
	c.muxs[shard].Lock()
	defer c.muxs[shard].Unlock()
	c.shards[shard][key] = digest
}

// FromIntegrity returns the first cached digest for any checksum in integrity.
func (c *ChecksumCache) FromIntegrity(integrity Integrity) (Digest, bool) {
	for checksum := range integrity.Items() {
		if digest, ok := c.FromChecksum(checksum); ok {
			return digest, true
		}
	}
	return Digest{}, false
}

func (c *ChecksumCache) FromChecksum(checksum Checksum) (Digest, bool) {
	return c.GetSlice(checksum.Hash, checksum.Algorithm.Identifier())
}

// PutIntegrity remembers every checksum of integrity as its own digest.
func (c *ChecksumCache) PutIntegrity(integrity Integrity, sizeBytes int64) {
	for checksum := range integrity.Items() {
		c.PutSlice(checksum.Hash, checksum.Algorithm.Identifier(), NewDigest(checksum.Hash, sizeBytes, checksum.Algorithm))
	}
}

// PutAlias records that content known under checksum has digest under another algorithm.
func (c *ChecksumCache) PutAlias(checksum Checksum, digest Digest) {
	c.PutSlice(checksum.Hash, checksum.Algorithm.Identifier(), digest)
}

const (
	shardCount = 1 << 8
	shardMask  = shardCount - 1
)
