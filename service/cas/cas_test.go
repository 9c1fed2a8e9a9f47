package cas_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/service/cas"
	"github.com/tweag/asset-hashserve/service/status"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

func digestOf(t *testing.T, data []byte) integrity.Digest {
	t.Helper()
	digest, err := integrity.SHA256.CalculateDigest(bytesReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return digest
}

func TestDiskRoundTrip(t *testing.T) {
	ctx := context.Background()
	disk, err := cas.NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	style := []byte("body { color: red }")
	script := []byte("console.log(1)")
	styleDigest, scriptDigest := digestOf(t, style), digestOf(t, script)

	missing, err := disk.FindMissingBlobs(ctx, []integrity.Digest{styleDigest, scriptDigest}, integrity.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing blobs, got %d", len(missing))
	}

	_, err = disk.BatchUpdateBlobs(ctx, cas.DigestsAndData{{Digest: styleDigest, Data: style}}, integrity.SHA256)
	if err != nil {
		t.Fatal(err)
	}

	responses, err := disk.BatchReadBlobs(ctx, []integrity.Digest{styleDigest, scriptDigest}, integrity.SHA256)
	var batchErr *cas.BatchError
	if !errors.As(err, &batchErr) || !batchErr.OnlyNotFound() || len(batchErr.Failed) != 1 {
		t.Fatalf("expected one missing blob, got %v", err)
	}
	if !errors.Is(err, cas.ErrBatchResponseHasNonZeroStatus) {
		t.Fatal("batch error should match ErrBatchResponseHasNonZeroStatus")
	}
	if !bytes.Equal(responses[0].Data, style) || !responses[0].Status.OK() {
		t.Fatalf("unexpected first response %+v", responses[0])
	}
	if responses[1].Status.Code != status.Status_NOT_FOUND {
		t.Fatalf("expected NOT_FOUND, got %s", responses[1].Status)
	}

	reader, err := disk.ReadStream(ctx, styleDigest, integrity.SHA256, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	got, _ := io.ReadAll(reader)
	if string(got) != "{" {
		t.Fatalf("ranged read returned %q", got)
	}

	if _, err := disk.ReadStream(ctx, scriptDigest, integrity.SHA256, 0, 0); !errors.Is(err, cas.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDiskRejectsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	disk, err := cas.NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	digest := digestOf(t, []byte("expected"))
	responses, err := disk.BatchUpdateBlobs(ctx, cas.DigestsAndData{{Digest: digest, Data: []byte("tampered")}}, integrity.SHA256)
	if err == nil {
		t.Fatal("expected error for content not matching digest")
	}
	if responses[0].Status.Code != status.Status_INVALID_ARGUMENT {
		t.Fatalf("expected INVALID_ARGUMENT, got %s", responses[0].Status)
	}
	missing, err := disk.FindMissingBlobs(ctx, []integrity.Digest{digest}, integrity.SHA256)
	if err != nil || len(missing) != 1 {
		t.Fatalf("corrupt blob must not be stored: %v %v", missing, err)
	}
}

func TestRemote(t *testing.T) {
	ctx := context.Background()
	fake, remote := startFakeRemote(t)
	present := fake.put([]byte("served from the remote cache"))
	absent := digestOf(t, []byte("nobody uploaded this"))

	missing, err := remote.FindMissingBlobs(ctx, []integrity.Digest{present, absent}, integrity.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || !missing[0].Equals(absent, integrity.SHA256) {
		t.Fatalf("unexpected missing blobs %v", missing)
	}

	responses, err := remote.BatchReadBlobs(ctx, []integrity.Digest{present, absent}, integrity.SHA256)
	var batchErr *cas.BatchError
	if !errors.As(err, &batchErr) || !batchErr.OnlyNotFound() {
		t.Fatalf("expected not found batch error, got %v", err)
	}
	if string(responses[0].Data) != "served from the remote cache" {
		t.Fatalf("responses not in request order: %+v", responses)
	}

	reader, err := remote.ReadStream(ctx, present, integrity.SHA256, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// small reads exercise buffering across messages
	var out strings.Builder
	buf := make([]byte, 2)
	for {
		n, err := reader.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
	}
	reader.Close()
	if out.String() != "served from the remote cache" {
		t.Fatalf("stream returned %q", out.String())
	}

	reader, err = remote.ReadStream(ctx, absent, integrity.SHA256, 0, 0)
	if err == nil {
		_, err = io.ReadAll(reader)
		reader.Close()
	}
	if !errors.Is(err, cas.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	upload := []byte("pushed")
	uploadDigest := digestOf(t, upload)
	if _, err := remote.BatchUpdateBlobs(ctx, cas.DigestsAndData{{Digest: uploadDigest, Data: upload}}, integrity.SHA256); err != nil {
		t.Fatal(err)
	}
	if missing, _ := remote.FindMissingBlobs(ctx, []integrity.Digest{uploadDigest}, integrity.SHA256); len(missing) != 0 {
		t.Fatal("uploaded blob is missing")
	}
}

func TestRemoteLargeUploads(t *testing.T) {
	ctx := context.Background()
	fake, remote := startFakeRemote(t)

	var blobs cas.DigestsAndData
	for _, fill := range []string{"a", "b", "c"} {
		data := bytes.Repeat([]byte(fill), 3<<19)
		blobs = append(blobs, cas.DigestAndData{Digest: digestOf(t, data), Data: data})
	}
	huge := bytes.Repeat([]byte("z"), 5<<20)
	blobs = append(blobs, cas.DigestAndData{Digest: digestOf(t, huge), Data: huge})

	responses, err := remote.BatchUpdateBlobs(ctx, blobs, integrity.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != len(blobs) {
		t.Fatalf("got %d responses for %d blobs", len(responses), len(blobs))
	}
	updates, writes := fake.uploadCounts()
	if updates != 2 || writes != 1 {
		t.Errorf("got %d batch requests and %d stream writes, want 2 and 1", updates, writes)
	}

	digests := make([]integrity.Digest, len(blobs))
	for i, blob := range blobs {
		digests[i] = blob.Digest
	}
	if missing, err := remote.FindMissingBlobs(ctx, digests, integrity.SHA256); err != nil || len(missing) != 0 {
		t.Fatalf("missing after upload: %v %v", missing, err)
	}
}

func TestCombinedWritesBack(t *testing.T) {
	ctx := context.Background()
	fake, remote := startFakeRemote(t)
	disk, err := cas.NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	combined := cas.NewCombined(disk, remote)

	data := []byte("fetched once")
	digest := fake.put(data)

	for i := 0; i < 2; i++ {
		responses, err := combined.BatchReadBlobs(ctx, []integrity.Digest{digest}, integrity.SHA256)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(responses[0].Data, data) {
			t.Fatalf("read %d returned %q", i, responses[0].Data)
		}
	}
	if reads := fake.readCount(); reads != 1 {
		t.Fatalf("expected a single remote read, got %d", reads)
	}
	if missing, _ := disk.FindMissingBlobs(ctx, []integrity.Digest{digest}, integrity.SHA256); len(missing) != 0 {
		t.Fatal("blob was not written back to disk")
	}
}

func TestCombinedDetectsCorruptRemote(t *testing.T) {
	ctx := context.Background()
	fake, remote := startFakeRemote(t)
	disk, err := cas.NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	combined := cas.NewCombined(disk, remote)

	digest := digestOf(t, []byte("original"))
	fake.putRaw(digest, []byte("poisoned"))

	responses, err := combined.BatchReadBlobs(ctx, []integrity.Digest{digest}, integrity.SHA256)
	if err == nil {
		t.Fatal("expected an error for corrupt remote data")
	}
	if responses[0].Data != nil || responses[0].Status.Code != status.Status_INVALID_ARGUMENT {
		t.Fatalf("corrupt data must not be returned: %+v", responses[0])
	}
}

func TestCombinedReadStreamFallsBack(t *testing.T) {
	ctx := context.Background()
	fake, remote := startFakeRemote(t)
	disk, err := cas.NewDisk(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	digest := fake.put([]byte("streamed"))
	reader, err := cas.NewCombined(disk, remote).ReadStream(ctx, digest, integrity.SHA256, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ream" {
		t.Fatalf("got %q", got)
	}
}
