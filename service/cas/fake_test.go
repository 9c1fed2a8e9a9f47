package cas_test

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	remoteexecution_proto "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/service/cas"
	"github.com/tweag/asset-hashserve/service/internal/protohelper"
	bytestream_proto "google.golang.org/genproto/googleapis/bytestream"
	gstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeRemote is an in-memory REAPI CAS keyed by hex hash.
type fakeRemote struct {
	remoteexecution_proto.UnimplementedContentAddressableStorageServer
	bytestream_proto.UnimplementedByteStreamServer

	mux   sync.Mutex
	blobs map[string][]byte
	// chunkSize splits ByteStream reads into small messages
	chunkSize int
	reads     int
	updates   int
	writes    int
}

func (f *fakeRemote) put(data []byte) integrity.Digest {
	digest, _ := integrity.SHA256.CalculateDigest(bytesReader(data))
	f.mux.Lock()
	defer f.mux.Unlock()
	f.blobs[digest.Hex(integrity.SHA256)] = data
	return digest
}

// putRaw stores data under a digest without checking that they match.
func (f *fakeRemote) putRaw(digest integrity.Digest, data []byte) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.blobs[digest.Hex(integrity.SHA256)] = data
}

func (f *fakeRemote) readCount() int {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.reads
}

func (f *fakeRemote) uploadCounts() (updates, writes int) {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.updates, f.writes
}

func (f *fakeRemote) FindMissingBlobs(ctx context.Context, req *remoteexecution_proto.FindMissingBlobsRequest) (*remoteexecution_proto.FindMissingBlobsResponse, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	resp := &remoteexecution_proto.FindMissingBlobsResponse{}
	for _, d := range req.BlobDigests {
		if _, ok := f.blobs[d.Hash]; !ok {
			resp.MissingBlobDigests = append(resp.MissingBlobDigests, d)
		}
	}
	return resp, nil
}

func (f *fakeRemote) BatchReadBlobs(ctx context.Context, req *remoteexecution_proto.BatchReadBlobsRequest) (*remoteexecution_proto.BatchReadBlobsResponse, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.reads++
	resp := &remoteexecution_proto.BatchReadBlobsResponse{}
	// answer in reverse order to check that clients do not rely on ordering
	for i := len(req.Digests) - 1; i >= 0; i-- {
		d := req.Digests[i]
		data, ok := f.blobs[d.Hash]
		r := &remoteexecution_proto.BatchReadBlobsResponse_Response{Digest: d, Status: &gstatus.Status{}}
		if ok {
			r.Data = data
		} else {
			r.Status.Code = int32(codes.NotFound)
		}
		resp.Responses = append(resp.Responses, r)
	}
	return resp, nil
}

func (f *fakeRemote) BatchUpdateBlobs(ctx context.Context, req *remoteexecution_proto.BatchUpdateBlobsRequest) (*remoteexecution_proto.BatchUpdateBlobsResponse, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.updates++
	resp := &remoteexecution_proto.BatchUpdateBlobsResponse{}
	for _, r := range req.Requests {
		f.blobs[r.Digest.Hash] = r.Data
		resp.Responses = append(resp.Responses, &remoteexecution_proto.BatchUpdateBlobsResponse_Response{Digest: r.Digest, Status: &gstatus.Status{}})
	}
	return resp, nil
}

func (f *fakeRemote) Read(req *bytestream_proto.ReadRequest, stream bytestream_proto.ByteStream_ReadServer) error {
	digest, digestFunction, err := protohelper.ParseResourceName(req.ResourceName)
	if err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	f.mux.Lock()
	data, ok := f.blobs[digest.Hex(digestFunction)]
	f.mux.Unlock()
	if !ok {
		return grpcstatus.Error(codes.NotFound, "blob not found")
	}
	data = data[req.ReadOffset:]
	if req.ReadLimit > 0 && int64(len(data)) > req.ReadLimit {
		data = data[:req.ReadLimit]
	}
	for len(data) > 0 {
		n := min(f.chunkSize, len(data))
		if err := stream.Send(&bytestream_proto.ReadResponse{Data: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (f *fakeRemote) Write(stream bytestream_proto.ByteStream_WriteServer) error {
	var resourceName string
	var data []byte
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return grpcstatus.Error(codes.InvalidArgument, "stream closed before finish_write")
		} else if err != nil {
			return err
		}
		if req.ResourceName != "" {
			resourceName = req.ResourceName
		}
		if req.WriteOffset != int64(len(data)) {
			return grpcstatus.Errorf(codes.InvalidArgument, "write offset %d, expected %d", req.WriteOffset, len(data))
		}
		data = append(data, req.Data...)
		if req.FinishWrite {
			break
		}
	}
	if !strings.Contains(resourceName, "uploads/") {
		return grpcstatus.Errorf(codes.InvalidArgument, "not an upload resource name: %s", resourceName)
	}
	digest, digestFunction, err := protohelper.ParseResourceName(resourceName)
	if err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if digest.SizeBytes != int64(len(data)) {
		return grpcstatus.Errorf(codes.InvalidArgument, "received %d bytes, expected %d", len(data), digest.SizeBytes)
	}
	f.mux.Lock()
	f.blobs[digest.Hex(digestFunction)] = data
	f.writes++
	f.mux.Unlock()
	return stream.SendAndClose(&bytestream_proto.WriteResponse{CommittedSize: int64(len(data))})
}

func startFakeRemote(t *testing.T) (*fakeRemote, *cas.Remote) {
	t.Helper()
	fake := &fakeRemote{blobs: map[string][]byte{}, chunkSize: 3}
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	remoteexecution_proto.RegisterContentAddressableStorageServer(server, fake)
	bytestream_proto.RegisterByteStreamServer(server, fake)
	go server.Serve(listener)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return fake, cas.NewRemote(conn, "")
}
