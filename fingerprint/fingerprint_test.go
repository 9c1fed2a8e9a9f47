package fingerprint_test

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/tweag/asset-hashserve/fingerprint"
)

func TestEncodeKnownVectors(t *testing.T) {
	for _, tc := range []struct {
		hash  []byte
		token string
	}{
		{[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, "AAECAwQFBgc"},
		{[]byte{0xfb, 0xff, 0xbf, 0xfb, 0xff, 0xbf, 0xfb, 0xff}, "-_-_-_-_-_8"},
		{make([]byte, 32), "AAAAAAAAAAA"},
	} {
		got := fingerprint.Of(tc.hash).String()
		if got != tc.token {
			t.Errorf("Of(%x) = %q, want %q", tc.hash, got, tc.token)
		}
		if len(got) != fingerprint.TokenLen {
			t.Errorf("token %q has length %d, want %d", got, len(got), fingerprint.TokenLen)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, content := range []string{"", "a", "body{}", "console.log(1)"} {
		sum := sha256.Sum256([]byte(content))
		f := fingerprint.Of(sum[:])
		raw, err := fingerprint.Decode(fingerprint.Encode(f))
		if err != nil {
			t.Fatalf("decode %q: %v", content, err)
		}
		if !bytes.Equal(raw, sum[:fingerprint.Size]) {
			t.Fatalf("round trip of %q: got %x, want %x", content, raw, sum[:fingerprint.Size])
		}
		if !f.Matches(sum[:]) {
			t.Fatalf("fingerprint of %q does not match its own hash", content)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", fingerprint.ErrInvalidLength},
		{"too short", "AAECAwQFBg", fingerprint.ErrInvalidLength},
		{"too long", "AAECAwQFBgcI", fingerprint.ErrInvalidLength},
		{"standard alphabet", "AAECAwQF+gc", fingerprint.ErrInvalidFormat},
		{"padding", "AAECAwQFBgc=", fingerprint.ErrInvalidFormat},
		{"newline", "AAECAwQF\nBgc", fingerprint.ErrInvalidFormat},
		{"dot", "AAECAwQF.gc", fingerprint.ErrInvalidFormat},
		{"non canonical trailing bits", "AAECAwQFBgd", fingerprint.ErrInvalidFormat},
		{"impossible length", "AAECAwQFBgcIC", fingerprint.ErrInvalidFormat},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fingerprint.Decode(tc.token)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode(%q) = %v, want %v", tc.token, err, tc.want)
			}
			if !errors.Is(err, fingerprint.ErrMalformedToken) {
				t.Fatalf("Decode(%q) error %v does not match ErrMalformedToken", tc.token, err)
			}
		})
	}
}

func TestEncodingIsInjective(t *testing.T) {
	seen := make(map[string]fingerprint.Fingerprint)
	for i := 0; i < 512; i++ {
		sum := sha256.Sum256([]byte{byte(i), byte(i >> 8)})
		f := fingerprint.Of(sum[:])
		token := f.String()
		if prev, ok := seen[token]; ok && prev != f {
			t.Fatalf("token %q produced by %x and %x", token, prev, f)
		}
		seen[token] = f
	}
}

func TestMatches(t *testing.T) {
	sum := sha256.Sum256([]byte("x"))
	f := fingerprint.Of(sum[:])

	tampered := sum
	tampered[fingerprint.Size-1] ^= 1
	if f.Matches(tampered[:]) {
		t.Error("fingerprint matched a hash differing in its last prefix byte")
	}

	beyond := sum
	beyond[fingerprint.Size] ^= 1
	if !f.Matches(beyond[:]) {
		t.Error("bytes after the prefix must not affect matching")
	}

	if f.Matches(sum[:fingerprint.Size-1]) {
		t.Error("short hash must not match")
	}
}

func TestParse(t *testing.T) {
	f, err := fingerprint.Parse("AAECAwQFBgc")
	if err != nil {
		t.Fatal(err)
	}
	if f != (fingerprint.Fingerprint{0, 1, 2, 3, 4, 5, 6, 7}) {
		t.Fatalf("unexpected fingerprint %x", f)
	}
}

func TestOfPanicsOnShortHash(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	fingerprint.Of([]byte{1, 2, 3})
}
