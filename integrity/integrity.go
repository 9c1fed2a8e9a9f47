package integrity

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"iter"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest identifies a blob by the hash of its content and its size in bytes.
// This is the same shape as the remote execution API digest,
// but the hash is kept as raw bytes instead of a hex string.
type Digest struct {
	// Inlined hash bytes, sized for the largest supported hash (64 bytes).
	// Only the first algorithm.SizeBytes() bytes are meaningful.
	hash [64]byte
	// Size of the content in bytes.
	SizeBytes int64
}

// NewDigest creates a digest from a raw hash.
// It panics if the hash length does not match the algorithm.
func NewDigest(hash []byte, sizeBytes int64, algorithm Algorithm) Digest {
	if len(hash) != algorithm.SizeBytes() {
		panic("hash length does not match algorithm size")
	}
	out := Digest{SizeBytes: sizeBytes}
	copy(out.hash[:], hash)
	return out
}

// DigestFromHex parses a lowercase hex hash, as used by the remote execution API.
func DigestFromHex(hexDigest string, sizeBytes int64, algorithm Algorithm) (Digest, error) {
	hash, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to decode hex digest %q: %w", hexDigest, err)
	}
	if len(hash) != algorithm.SizeBytes() {
		return Digest{}, fmt.Errorf("unexpected hash size in hex digest %q: got %d, want %d", hexDigest, len(hash), algorithm.SizeBytes())
	}
	return NewDigest(hash, sizeBytes, algorithm), nil
}

func (d Digest) Equals(other Digest, algorithm Algorithm) bool {
	if d.Uninitialized() || other.Uninitialized() {
		// uninitialized digests are never equal to anything
		return false
	}
	if d.SizeBytes != other.SizeBytes {
		return false
	}
	sz := algorithm.SizeBytes()
	return bytes.Equal(d.hash[:sz], other.hash[:sz])
}

func (d Digest) Uninitialized() bool {
	return d.SizeBytes == 0 && d.hash == [64]byte{}
}

// Hash returns a copy of the hash bytes.
func (d Digest) Hash(algorithm Algorithm) []byte {
	out := make([]byte, algorithm.SizeBytes())
	copy(out, d.hash[:])
	return out
}

// CopyHashInto copies the hash into the destination buffer.
// The destination buffer must be at least the size of the hash.
func (d Digest) CopyHashInto(dest []byte, algorithm Algorithm) error {
	sz := algorithm.SizeBytes()
	if len(dest) < sz {
		return fmt.Errorf("destination buffer is too small: got %d, want %d", len(dest), sz)
	}
	copy(dest, d.hash[:sz])
	return nil
}

func (d Digest) Hex(algorithm Algorithm) string {
	return hex.EncodeToString(d.hash[:algorithm.SizeBytes()])
}

// CheckContent reads r to the end and verifies that size and hash match the digest.
func (d Digest) CheckContent(r io.Reader, algorithm Algorithm) error {
	got, err := algorithm.CalculateDigest(r)
	if err != nil {
		return err
	}
	if got.SizeBytes != d.SizeBytes {
		return fmt.Errorf("%w: size %d, want %d", ErrContentMismatch, got.SizeBytes, d.SizeBytes)
	}
	if !got.Equals(d, algorithm) {
		return fmt.Errorf("%w: %s %s, want %s", ErrContentMismatch, algorithm, got.Hex(algorithm), d.Hex(algorithm))
	}
	return nil
}

// ErrContentMismatch is returned when content does not hash to the expected digest.
var ErrContentMismatch = errors.New("content does not match digest")

// Checksum is a single hash of some content for a specific algorithm.
// Unlike Digest, it doesn't carry the size of the content.
type Checksum struct {
	Algorithm Algorithm
	Hash      []byte
}

// ChecksumFromSRI parses a subresource integrity string such as "sha256-<base64>".
func ChecksumFromSRI(integrity string) (Checksum, error) {
	name, encoded, ok := strings.Cut(integrity, "-")
	if !ok {
		return Checksum{}, fmt.Errorf("malformed sri %q: missing algorithm prefix", integrity)
	}
	algorithm, ok := AlgorithmFromString(name)
	if !ok {
		return Checksum{}, fmt.Errorf("unsupported algorithm in sri: %s", integrity)
	}
	hash, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Checksum{}, fmt.Errorf("failed to decode sri hash from base64 in %q: %w", integrity, err)
	}
	if len(hash) != algorithm.SizeBytes() {
		return Checksum{}, fmt.Errorf("unexpected hash size in sri %q: got %d, want %d", integrity, len(hash), algorithm.SizeBytes())
	}
	return Checksum{Algorithm: algorithm, Hash: hash}, nil
}

func ChecksumFromDigest(digest Digest, algorithm Algorithm) Checksum {
	return Checksum{Algorithm: algorithm, Hash: digest.Hash(algorithm)}
}

// ChecksumOf hashes data in memory.
func ChecksumOf(data []byte, algorithm Algorithm) Checksum {
	hasher := algorithm.Hasher()
	hasher.Write(data)
	return Checksum{Algorithm: algorithm, Hash: hasher.Sum(nil)}
}

func (c Checksum) ToSRI() string {
	return fmt.Sprintf("%s-%s", c.Algorithm.String(), base64.StdEncoding.EncodeToString(c.Hash))
}

func (c Checksum) Hex() string {
	return hex.EncodeToString(c.Hash)
}

func (c Checksum) Equals(other Checksum) bool {
	return c.Algorithm == other.Algorithm && len(c.Hash) > 0 && len(other.Hash) > 0 && bytes.Equal(c.Hash, other.Hash)
}

// Empty returns true if the checksum is empty.
func (c Checksum) Empty() bool {
	return len(c.Hash) == 0
}

// Valid reports whether the hash has the length required by its algorithm.
func (c Checksum) Valid() bool {
	return c.Algorithm.name != "" && len(c.Hash) == c.Algorithm.SizeBytes()
}

// Integrity holds up to one checksum per supported algorithm for the same content.
type Integrity struct {
	sha256 Checksum
	sha384 Checksum
	sha512 Checksum
	blake3 Checksum
}

func (i Integrity) Empty() bool {
	return i.sha256.Hash == nil && i.sha384.Hash == nil && i.sha512.Hash == nil && i.blake3.Hash == nil
}

// Items yields the checksums in a fixed algorithm order.
func (i Integrity) Items() iter.Seq[Checksum] {
	return func(yield func(Checksum) bool) {
		for _, alg := range KnownAlgorithms {
			if checksum, ok := i.ChecksumForAlgorithm(alg); ok {
				if !yield(checksum) {
					return
				}
			}
		}
	}
}

// Equivalent returns true if, for every algorithm present in both,
// the checksums are equal, and at least one algorithm is shared.
func (i Integrity) Equivalent(other Integrity) bool {
	if i.Empty() || other.Empty() {
		return false
	}
	var matchingChecksums int
	for mine := range i.Items() {
		theirs, ok := other.ChecksumForAlgorithm(mine.Algorithm)
		if !ok {
			continue
		}
		if !bytes.Equal(mine.Hash, theirs.Hash) {
			return false
		}
		matchingChecksums++
	}
	return matchingChecksums > 0
}

// ToSRIString joins all checksums with spaces, as in the HTML integrity attribute.
func (i Integrity) ToSRIString() string {
	var parts []string
	for checksum := range i.Items() {
		parts = append(parts, checksum.ToSRI())
	}
	return strings.Join(parts, " ")
}

func IntegrityFromString(integrity ...string) (Integrity, error) {
	out := Integrity{}
	for i, sri := range integrity {
		c, err := ChecksumFromSRI(sri)
		if err != nil {
			return Integrity{}, fmt.Errorf("parsing integrity string %d: %w", i, err)
		}
		if _, ok := out.ChecksumForAlgorithm(c.Algorithm); ok {
			return Integrity{}, fmt.Errorf("duplicate %s checksums in integrity strings", c.Algorithm)
		}
		out.set(c)
	}
	return out, nil
}

func IntegrityFromChecksums(checksums ...Checksum) Integrity {
	i := Integrity{}
	for _, c := range checksums {
		i.set(c)
	}
	return i
}

func (i *Integrity) set(c Checksum) {
	switch c.Algorithm {
	case SHA256:
		i.sha256 = c
	case SHA384:
		i.sha384 = c
	case SHA512:
		i.sha512 = c
	case Blake3:
		i.blake3 = c
	}
}

func (i Integrity) ChecksumForAlgorithm(alg Algorithm) (Checksum, bool) {
	switch alg {
	case SHA256:
		return i.sha256, i.sha256.Hash != nil
	case SHA384:
		return i.sha384, i.sha384.Hash != nil
	case SHA512:
		return i.sha512, i.sha512.Hash != nil
	case Blake3:
		return i.blake3, i.blake3.Hash != nil
	}
	return Checksum{}, false
}

type Algorithm struct{ name string }

func (a Algorithm) String() string { return a.name }

func AlgorithmFromString(name string) (Algorithm, bool) {
	switch strings.ToLower(name) {
	case "sha256":
		return SHA256, true
	case "sha384":
		return SHA384, true
	case "sha512":
		return SHA512, true
	case "blake3":
		return Blake3, true
	}
	return Algorithm{}, false
}

func (a Algorithm) SizeBytes() int {
	switch a {
	case SHA256:
		return 32
	case SHA384:
		return 48
	case SHA512:
		return 64
	case Blake3:
		return 32
	}
	// Should be unreachable.
	panic("unsupported algorithm")
}

// Identifier is a single byte that distinguishes algorithms in cache keys.
func (a Algorithm) Identifier() byte {
	switch a {
	case SHA256:
		return 1
	case SHA384:
		return 2
	case SHA512:
		return 3
	case Blake3:
		return 4
	}
	return 0
}

func (a Algorithm) Hasher() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	case Blake3:
		return blake3.New()
	}
	// Should be unreachable.
	panic("unsupported algorithm")
}

// CalculateDigest hashes everything readable from r.
func (a Algorithm) CalculateDigest(r io.Reader) (Digest, error) {
	hasher := a.Hasher()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, err
	}
	return NewDigest(hasher.Sum(nil), n, a), nil
}

// SupportedAlgorithms yields every algorithm known to this package.
func SupportedAlgorithms() iter.Seq[Algorithm] {
	return func(yield func(Algorithm) bool) {
		for _, alg := range KnownAlgorithms {
			if !yield(alg) {
				return
			}
		}
	}
}

var (
	SHA256          Algorithm = Algorithm{"sha256"}
	SHA384          Algorithm = Algorithm{"sha384"}
	SHA512          Algorithm = Algorithm{"sha512"}
	Blake3          Algorithm = Algorithm{"blake3"}
	KnownAlgorithms           = []Algorithm{SHA256, SHA384, SHA512, Blake3}
)
