package integrity_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tweag/asset-hashserve/integrity"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

func TestChecksumFromSRI(t *testing.T) {
	// sha256 of the empty string
	const emptySRI = "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="
	c, err := integrity.ChecksumFromSRI(emptySRI)
	if err != nil {
		t.Fatal(err)
	}
	if c.Algorithm != integrity.SHA256 {
		t.Fatalf("expected sha256, got %s", c.Algorithm)
	}
	if got := c.Hex(); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected hex %s", got)
	}
	if c.ToSRI() != emptySRI {
		t.Fatalf("round trip: got %s", c.ToSRI())
	}

	for _, bad := range []string{
		"sha256",
		"md5-1B2M2Y8AsgTpgAmY7PhCfg==",
		"sha256-not base64",
		"sha256-AAAA",
	} {
		if _, err := integrity.ChecksumFromSRI(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestIntegrityFromString(t *testing.T) {
	a := integrity.ChecksumOf([]byte("a"), integrity.SHA256)
	b := integrity.ChecksumOf([]byte("a"), integrity.SHA512)

	i, err := integrity.IntegrityFromString(b.ToSRI(), a.ToSRI())
	if err != nil {
		t.Fatal(err)
	}
	// items are ordered by algorithm, not by input order
	if want := a.ToSRI() + " " + b.ToSRI(); i.ToSRIString() != want {
		t.Fatalf("expected %q, got %q", want, i.ToSRIString())
	}
	if _, err := integrity.IntegrityFromString(a.ToSRI(), a.ToSRI()); err == nil {
		t.Fatal("expected duplicate algorithm error")
	}
}

func TestIntegrityEquivalent(t *testing.T) {
	sha := integrity.ChecksumOf([]byte("a"), integrity.SHA256)
	blake := integrity.ChecksumOf([]byte("a"), integrity.Blake3)
	other := integrity.ChecksumOf([]byte("b"), integrity.SHA256)

	if !integrity.IntegrityFromChecksums(sha, blake).Equivalent(integrity.IntegrityFromChecksums(sha)) {
		t.Error("shared sha256 should be equivalent")
	}
	if integrity.IntegrityFromChecksums(sha).Equivalent(integrity.IntegrityFromChecksums(blake)) {
		t.Error("no shared algorithm should not be equivalent")
	}
	if integrity.IntegrityFromChecksums(sha, blake).Equivalent(integrity.IntegrityFromChecksums(other, blake)) {
		t.Error("conflicting sha256 should not be equivalent")
	}
}

func TestAlgorithmSizes(t *testing.T) {
	for alg := range integrity.SupportedAlgorithms() {
		sum := integrity.ChecksumOf([]byte("x"), alg)
		if len(sum.Hash) != alg.SizeBytes() {
			t.Errorf("%s: hasher produced %d bytes, want %d", alg, len(sum.Hash), alg.SizeBytes())
		}
		parsed, ok := integrity.AlgorithmFromString(strings.ToUpper(alg.String()))
		if !ok || parsed != alg {
			t.Errorf("AlgorithmFromString(%q) = %v, %v", alg, parsed, ok)
		}
	}
}

func TestDigestCheckContent(t *testing.T) {
	content := []byte("immutable")
	for alg := range integrity.SupportedAlgorithms() {
		digest, err := alg.CalculateDigest(bytesReader(content))
		if err != nil {
			t.Fatal(err)
		}
		if digest.SizeBytes != int64(len(content)) {
			t.Fatalf("%s: size %d", alg, digest.SizeBytes)
		}
		if err := digest.CheckContent(bytesReader(content), alg); err != nil {
			t.Errorf("%s: %v", alg, err)
		}
		err = digest.CheckContent(bytesReader([]byte("Immutable")), alg)
		if !errors.Is(err, integrity.ErrContentMismatch) {
			t.Errorf("%s: expected content mismatch, got %v", alg, err)
		}

		roundTrip, err := integrity.DigestFromHex(digest.Hex(alg), digest.SizeBytes, alg)
		if err != nil {
			t.Fatal(err)
		}
		if !roundTrip.Equals(digest, alg) {
			t.Errorf("%s: hex round trip changed digest", alg)
		}
	}
}

func TestUninitializedDigestNeverEqual(t *testing.T) {
	var zero integrity.Digest
	if zero.Equals(zero, integrity.SHA256) {
		t.Fatal("zero digest must not equal itself")
	}
}
