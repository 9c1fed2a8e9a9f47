package protohelper

import (
	"strings"
	"testing"

	"github.com/tweag/asset-hashserve/integrity"
)

func TestResourceNameRoundTrip(t *testing.T) {
	content := strings.NewReader("body{}")
	for alg := range integrity.SupportedAlgorithms() {
		content.Seek(0, 0)
		digest, err := alg.CalculateDigest(content)
		if err != nil {
			t.Fatal(err)
		}
		name := ResourceName(digest, alg)
		if alg == integrity.Blake3 && !strings.HasPrefix(name, "blobs/blake3/") {
			t.Errorf("blake3 resource name must name the digest function: %s", name)
		}
		for _, candidate := range []string{name, "my-instance/" + name, "my-instance/" + UploadResourceName("0b4c6e2a", digest, alg)} {
			parsed, parsedAlg, err := ParseResourceName(candidate)
			if err != nil {
				t.Fatalf("%s: %v", candidate, err)
			}
			if parsedAlg != alg || !parsed.Equals(digest, alg) {
				t.Errorf("%s: parsed %s %s", candidate, parsedAlg, parsed.Hex(parsedAlg))
			}
		}
	}
}

func TestParseResourceNameErrors(t *testing.T) {
	for _, name := range []string{
		"",
		"blobs",
		"blobs/abc",
		"blobs/md5/00/1",
		"blobs/zz/1",
		"blobs/" + strings.Repeat("0", 64) + "/x",
	} {
		if _, _, err := ParseResourceName(name); err == nil {
			t.Errorf("expected error for %q", name)
		}
	}
}
