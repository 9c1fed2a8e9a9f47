package manifest_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/registry"
	"github.com/tweag/asset-hashserve/registry/manifest"
	"github.com/tweag/asset-hashserve/service/cas"
)

func testAssets(t *testing.T) *registry.Static {
	t.Helper()
	large := bytes.Repeat([]byte("0123456789abcdef"), 1<<17) // 2 MiB
	return registry.MustStatic(
		registry.NewAsset("css/style.css", []byte("body { color: #333 }"), integrity.SHA256),
		registry.NewAsset("js/app.js", []byte("console.log('hi')"), integrity.SHA256),
		registry.NewAsset("data/large.bin", large, integrity.SHA256),
	)
}

func newDisk(t *testing.T) *cas.Disk {
	t.Helper()
	disk, err := cas.NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return disk
}

func TestGeneratePushLoad(t *testing.T) {
	ctx := context.Background()
	assets := testAssets(t)
	disk := newDisk(t)

	pushed, err := manifest.Push(ctx, assets, disk, integrity.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if pushed != 3 {
		t.Fatalf("expected 3 uploads, got %d", pushed)
	}
	if pushed, _ := manifest.Push(ctx, assets, disk, integrity.SHA256); pushed != 0 {
		t.Fatalf("second push should upload nothing, uploaded %d", pushed)
	}

	var encoded bytes.Buffer
	if err := manifest.Generate(assets, integrity.Blake3).Encode(&encoded); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(encoded.String(), `"blake3-`) {
		t.Fatalf("generated manifest lacks blake3 checksums:\n%s", encoded.String())
	}

	loaded, err := manifest.NewLoader(disk, integrity.SHA256, nil).Load(ctx, &encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !registry.Equal(assets, loaded) {
		t.Fatal("loaded registry differs from the generated one")
	}
}

func TestLoadWithComments(t *testing.T) {
	ctx := context.Background()
	disk := newDisk(t)
	data := []byte("h1 { margin: 0 }")
	asset := registry.NewAsset("print.css", data, integrity.SHA256)
	if _, err := manifest.Push(ctx, registry.MustStatic(asset), disk, integrity.SHA256); err != nil {
		t.Fatal(err)
	}

	source := `{
  // stylesheet for printing
  "print.css": {
    "integrity": "` + asset.Checksum.ToSRI() + `",
    "size": 16,
    "mime_type": "text/css",
  },
}`
	loaded, err := manifest.NewLoader(disk, integrity.SHA256, nil).Load(ctx, strings.NewReader(source))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := loaded.Get("print.css")
	if !ok || got.MIMEType != "text/css" || !bytes.Equal(got.Data, data) {
		t.Fatalf("unexpected asset %+v", got)
	}
}

func TestLoadUsesChecksumCacheForOtherAlgorithms(t *testing.T) {
	ctx := context.Background()
	disk := newDisk(t)
	data := []byte("export default 42")
	asset := registry.NewAsset("main.js", data, integrity.SHA256)
	if _, err := manifest.Push(ctx, registry.MustStatic(asset), disk, integrity.SHA256); err != nil {
		t.Fatal(err)
	}
	blake := integrity.ChecksumOf(data, integrity.Blake3)
	size := int64(len(data))

	both := manifest.Manifest{"main.js": manifest.NewEntry(integrity.IntegrityFromChecksums(asset.Checksum, blake), size, "")}
	blakeOnly := manifest.Manifest{"main.js": manifest.NewEntry(integrity.IntegrityFromChecksums(blake), size, "")}

	cache := integrity.NewCache()
	loader := manifest.NewLoader(disk, integrity.SHA256, cache)
	if _, err := loader.Load(ctx, encode(t, blakeOnly)); err == nil {
		t.Fatal("expected error without a known sha256 digest")
	}
	if _, err := loader.Load(ctx, encode(t, both)); err != nil {
		t.Fatal(err)
	}
	loaded, err := loader.Load(ctx, encode(t, blakeOnly))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := loaded.Get("main.js")
	if !got.Checksum.Equals(asset.Checksum) {
		t.Fatal("asset should carry its sha256 checksum")
	}
	if !strings.Contains(got.MIMEType, "javascript") {
		t.Fatalf("unexpected detected mime type %q", got.MIMEType)
	}
}

func encode(t *testing.T, m manifest.Manifest) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestLoadRejectsMismatchingChecksum(t *testing.T) {
	ctx := context.Background()
	disk := newDisk(t)
	data := []byte("original")
	asset := registry.NewAsset("a.txt", data, integrity.SHA256)
	if _, err := manifest.Push(ctx, registry.MustStatic(asset), disk, integrity.SHA256); err != nil {
		t.Fatal(err)
	}
	wrong := integrity.ChecksumOf([]byte("something else"), integrity.SHA512)
	m := manifest.Manifest{"a.txt": manifest.NewEntry(integrity.IntegrityFromChecksums(asset.Checksum, wrong), int64(len(data)), "")}

	_, err := manifest.NewLoader(disk, integrity.SHA256, nil).Load(ctx, encode(t, m))
	if !errors.Is(err, integrity.ErrContentMismatch) {
		t.Fatalf("expected content mismatch, got %v", err)
	}
}

func TestLoadMissingBlob(t *testing.T) {
	ctx := context.Background()
	asset := registry.NewAsset("gone.css", []byte("gone"), integrity.SHA256)
	m := manifest.Generate(registry.MustStatic(asset))
	_, err := manifest.NewLoader(newDisk(t), integrity.SHA256, nil).Load(ctx, encode(t, m))
	if !errors.Is(err, cas.ErrBatchResponseHasNonZeroStatus) {
		t.Fatalf("expected batch error, got %v", err)
	}
}

func TestDecodeValidation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		source string
		issue  string
	}{
		{"empty", `{}`, "empty manifest"},
		{"syntax", `{"a.css": `, "decoding manifest"},
		{"unknown field", `{"a.css": {"integrity": "x", "size": 1, "uris": []}}`, "decoding manifest"},
		{"absolute path", `{"/a.css": {"integrity": "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", "size": 0}}`, "relative path"},
		{"integrity type", `{"a.css": {"integrity": 5, "size": 0}}`, "must be a string or a list"},
		{"bad sri", `{"a.css": {"integrity": "md5-xyz", "size": 0}}`, "unsupported algorithm"},
		{"missing size", `{"a.css": {"integrity": "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="}}`, `"size" must be provided`},
		{"negative size", `{"a.css": {"integrity": "sha256-47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", "size": -1}}`, "non-negative"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manifest.Decode(strings.NewReader(tc.source))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.issue) {
				t.Fatalf("error %q does not mention %q", err, tc.issue)
			}
		})
	}
	var decodeErr manifest.DecodeError
	if _, err := manifest.Decode(strings.NewReader(`[]`)); !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}
