package cas

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	remoteexecution_proto "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/service/internal/protohelper"
	"github.com/tweag/asset-hashserve/service/status"
	bytestream_proto "google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

const (
	// maxRequestBytes keeps batch requests below the default gRPC message limit of 4 MiB.
	maxRequestBytes = 4<<20 - 64<<10
	writeChunkBytes = 1 << 20
)

// Remote uses the remote execution API's ContentAddressableStorage service to store and retrieve blobs.
// Large blobs are read through the ByteStream service.
// See also: https://github.com/bazelbuild/remote-apis/blob/main/build/bazel/remote/execution/v2/remote_execution.proto
type Remote struct {
	casClient        remoteexecution_proto.ContentAddressableStorageClient
	byteStreamClient bytestream_proto.ByteStreamClient
	instanceName     string
}

// NewRemote uses an existing connection, such as one to an in-process server.
func NewRemote(conn grpc.ClientConnInterface, instanceName string) *Remote {
	return &Remote{
		casClient:        remoteexecution_proto.NewContentAddressableStorageClient(conn),
		byteStreamClient: bytestream_proto.NewByteStreamClient(conn),
		instanceName:     instanceName,
	}
}

// Dial connects to a "grpc://" or "grpcs://" endpoint.
// The caller closes the returned connection.
func Dial(endpoint string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	scheme, target, ok := strings.Cut(endpoint, "://")
	if !ok {
		return nil, fmt.Errorf("remote endpoint %q lacks a scheme", endpoint)
	}
	switch scheme {
	case "grpcs":
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	case "grpc":
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	default:
		return nil, fmt.Errorf("unsupported remote scheme %q", scheme)
	}
	if !strings.Contains(target, ":") {
		if scheme == "grpcs" {
			target += ":443"
		} else {
			target += ":80"
		}
	}
	return grpc.NewClient(target, opts...)
}

func (r *Remote) FindMissingBlobs(ctx context.Context, blobDigests []integrity.Digest, digestFunction integrity.Algorithm) ([]integrity.Digest, error) {
	req := &remoteexecution_proto.FindMissingBlobsRequest{
		InstanceName:   r.instanceName,
		BlobDigests:    make([]*remoteexecution_proto.Digest, len(blobDigests)),
		DigestFunction: protohelper.ProtoDigestFunction(digestFunction),
	}
	for i, blobDigest := range blobDigests {
		req.BlobDigests[i] = protohelper.ProtoDigest(blobDigest, digestFunction)
	}
	resp, err := r.casClient.FindMissingBlobs(ctx, req)
	if err != nil {
		return nil, err
	}
	missingDigests := make([]integrity.Digest, len(resp.MissingBlobDigests))
	for i, protoDigest := range resp.MissingBlobDigests {
		var decodeErr error
		missingDigests[i], decodeErr = protohelper.FromProtoDigest(protoDigest, digestFunction)
		if decodeErr != nil {
			return nil, fmt.Errorf("decoding missing digest %d: %w", i, decodeErr)
		}
	}
	return missingDigests, nil
}

func (r *Remote) BatchReadBlobs(ctx context.Context, blobDigests []integrity.Digest, digestFunction integrity.Algorithm) (BatchReadBlobsResponse, error) {
	req := &remoteexecution_proto.BatchReadBlobsRequest{
		InstanceName:   r.instanceName,
		DigestFunction: protohelper.ProtoDigestFunction(digestFunction),
	}
	for _, blobDigest := range blobDigests {
		req.Digests = append(req.Digests, protohelper.ProtoDigest(blobDigest, digestFunction))
	}
	resp, err := r.casClient.BatchReadBlobs(ctx, req)
	if err != nil {
		return nil, err
	}

	// the server may answer in any order
	byHex := make(map[string]*remoteexecution_proto.BatchReadBlobsResponse_Response, len(resp.Responses))
	for _, protoResponse := range resp.Responses {
		if protoResponse.Digest != nil {
			byHex[protoResponse.Digest.Hash] = protoResponse
		}
	}
	readResponses := make(BatchReadBlobsResponse, len(blobDigests))
	for i, blobDigest := range blobDigests {
		readResponses[i].Digest = blobDigest
		protoResponse, ok := byHex[blobDigest.Hex(digestFunction)]
		if !ok {
			readResponses[i].Status.Code = status.Status_NOT_FOUND
			readResponses[i].Status.Message = "missing from batch response"
			continue
		}
		readResponses[i].Status = protohelper.FromProtoStatus(protoResponse.Status)
		if readResponses[i].Status.OK() {
			// copy to avoid holding on to the whole response message
			readResponses[i].Data = bytes.Clone(protoResponse.Data)
			if readResponses[i].Data == nil {
				readResponses[i].Data = []byte{}
			}
		}
	}
	return readResponses, readBatchError(readResponses)
}

// BatchUpdateBlobs splits the upload into requests below the gRPC message limit.
// Blobs that do not fit into a request on their own are written through the ByteStream service.
func (r *Remote) BatchUpdateBlobs(ctx context.Context, blobData DigestsAndData, digestFunction integrity.Algorithm) (BatchUpdateBlobsResponse, error) {
	updateResponses := make(BatchUpdateBlobsResponse, 0, len(blobData))
	req := r.newUpdateRequest(digestFunction)
	baseSize := proto.Size(req)
	requestSize := baseSize
	send := func() error {
		if len(req.Requests) == 0 {
			return nil
		}
		resp, err := r.casClient.BatchUpdateBlobs(ctx, req)
		if err != nil {
			return err
		}
		for i, protoResponse := range resp.Responses {
			digest, err := protohelper.FromProtoDigest(protoResponse.Digest, digestFunction)
			if err != nil {
				return fmt.Errorf("decoding digest %d of update response: %w", i, err)
			}
			updateResponses = append(updateResponses, UpdateBlobsResponse{Digest: digest, Status: protohelper.FromProtoStatus(protoResponse.Status)})
		}
		req = r.newUpdateRequest(digestFunction)
		requestSize = baseSize
		return nil
	}

	for _, item := range blobData {
		protoRequest := &remoteexecution_proto.BatchUpdateBlobsRequest_Request{
			Digest: protohelper.ProtoDigest(item.Digest, digestFunction),
			Data:   item.Data,
		}
		// tag and length prefix of the repeated field
		messageSize := proto.Size(protoRequest)
		itemSize := messageSize + protowire.SizeTag(1) + protowire.SizeVarint(uint64(messageSize))
		if baseSize+itemSize > maxRequestBytes {
			updateResponses = append(updateResponses, r.writeStream(ctx, item, digestFunction))
			continue
		}
		if requestSize+itemSize > maxRequestBytes {
			if err := send(); err != nil {
				return nil, err
			}
		}
		req.Requests = append(req.Requests, protoRequest)
		requestSize += itemSize
	}
	if err := send(); err != nil {
		return nil, err
	}
	return updateResponses, updateBatchError(updateResponses)
}

func (r *Remote) newUpdateRequest(digestFunction integrity.Algorithm) *remoteexecution_proto.BatchUpdateBlobsRequest {
	return &remoteexecution_proto.BatchUpdateBlobsRequest{
		InstanceName:   r.instanceName,
		DigestFunction: protohelper.ProtoDigestFunction(digestFunction),
	}
}

// writeStream uploads a single blob in chunks. Failures are reported in the returned status.
func (r *Remote) writeStream(ctx context.Context, item DigestAndData, digestFunction integrity.Algorithm) UpdateBlobsResponse {
	response := UpdateBlobsResponse{Digest: item.Digest}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.byteStreamClient.Write(ctx)
	if err != nil {
		response.Status = statusFromError(err)
		return response
	}
	resourceName := protohelper.UploadResourceName(uuid.NewString(), item.Digest, digestFunction)
	if r.instanceName != "" {
		resourceName = r.instanceName + "/" + resourceName
	}

	data := item.Data
	var offset int64
	for {
		n := min(writeChunkBytes, len(data))
		req := &bytestream_proto.WriteRequest{
			WriteOffset: offset,
			FinishWrite: n == len(data),
			Data:        data[:n],
		}
		if offset == 0 {
			req.ResourceName = resourceName
		}
		// on io.EOF the server has ended the stream, CloseAndRecv returns its status
		if err := stream.Send(req); err != nil {
			break
		}
		offset += int64(n)
		data = data[n:]
		if req.FinishWrite {
			break
		}
	}
	resp, err := stream.CloseAndRecv()
	if err != nil {
		response.Status = statusFromError(err)
		return response
	}
	// a committed size of -1 means the blob was already present
	if resp.CommittedSize != item.Digest.SizeBytes && resp.CommittedSize != -1 {
		response.Status = status.Status{
			Code:    status.Status_DATA_LOSS,
			Message: fmt.Sprintf("committed %d of %d bytes", resp.CommittedSize, item.Digest.SizeBytes),
		}
		return response
	}
	response.Status = status.Status{Code: status.Status_OK}
	return response
}

func statusFromError(err error) status.Status {
	s := grpcstatus.Convert(err)
	return status.Status{Code: status.StatusCode(s.Code()), Message: s.Message()}
}

func (r *Remote) ReadStream(ctx context.Context, blobDigest integrity.Digest, digestFunction integrity.Algorithm, offset, limit int64) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	resourceName := protohelper.ResourceName(blobDigest, digestFunction)
	if r.instanceName != "" {
		resourceName = r.instanceName + "/" + resourceName
	}
	stream, err := r.byteStreamClient.Read(ctx, &bytestream_proto.ReadRequest{
		ResourceName: resourceName,
		ReadOffset:   offset,
		ReadLimit:    limit,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &byteStreamReadCloser{
		stream: stream,
		cancel: cancel,
	}, nil
}

type byteStreamReadCloser struct {
	stream bytestream_proto.ByteStream_ReadClient
	buf    bytes.Buffer
	eof    bool
	cancel context.CancelFunc
}

func (b *byteStreamReadCloser) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// serve data left over from the previous message first
	if b.buf.Len() > 0 {
		n, _ := b.buf.Read(p)
		return n, nil
	}
	if b.eof {
		return 0, io.EOF
	}

	for {
		resp, err := b.stream.Recv()
		if err == io.EOF {
			b.eof = true
			return 0, io.EOF
		} else if grpcstatus.Code(err) == codes.NotFound {
			return 0, fmt.Errorf("%w: %v", ErrNotFound, err)
		} else if err != nil {
			return 0, err
		}
		if len(resp.Data) == 0 {
			// empty messages are allowed, try the next one
			continue
		}
		n := copy(p, resp.Data)
		if n < len(resp.Data) {
			// keep the rest for the next call
			b.buf.Write(resp.Data[n:])
		}
		return n, nil
	}
}

func (b *byteStreamReadCloser) Close() error {
	// stop the stream from our side
	b.cancel()
	return nil
}

var _ CAS = (*Remote)(nil)
