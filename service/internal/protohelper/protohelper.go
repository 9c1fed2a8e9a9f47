package protohelper

import (
	"fmt"
	"strconv"
	"strings"

	remoteexecution_proto "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/tweag/asset-hashserve/integrity"
	"github.com/tweag/asset-hashserve/service/status"
	gstatus "google.golang.org/genproto/googleapis/rpc/status"
)

func ProtoDigestFunction(digestFunction integrity.Algorithm) remoteexecution_proto.DigestFunction_Value {
	switch digestFunction {
	case integrity.SHA256:
		return remoteexecution_proto.DigestFunction_SHA256
	case integrity.SHA384:
		return remoteexecution_proto.DigestFunction_SHA384
	case integrity.SHA512:
		return remoteexecution_proto.DigestFunction_SHA512
	case integrity.Blake3:
		return remoteexecution_proto.DigestFunction_BLAKE3
	}
	return remoteexecution_proto.DigestFunction_UNKNOWN
}

// FromProtoDigestFunction maps a requested digest function back to an algorithm.
// UNKNOWN means the server should infer it from the hash length, so we do the same.
func FromProtoDigestFunction(digestFunction remoteexecution_proto.DigestFunction_Value, hashSizeBytes int) (integrity.Algorithm, bool) {
	switch digestFunction {
	case remoteexecution_proto.DigestFunction_SHA256:
		return integrity.SHA256, true
	case remoteexecution_proto.DigestFunction_SHA384:
		return integrity.SHA384, true
	case remoteexecution_proto.DigestFunction_SHA512:
		return integrity.SHA512, true
	case remoteexecution_proto.DigestFunction_BLAKE3:
		return integrity.Blake3, true
	case remoteexecution_proto.DigestFunction_UNKNOWN:
		switch hashSizeBytes {
		case 32:
			return integrity.SHA256, true
		case 48:
			return integrity.SHA384, true
		case 64:
			return integrity.SHA512, true
		}
	}
	return integrity.Algorithm{}, false
}

func ProtoDigest(digest integrity.Digest, digestFunction integrity.Algorithm) *remoteexecution_proto.Digest {
	return &remoteexecution_proto.Digest{
		Hash:      digest.Hex(digestFunction),
		SizeBytes: digest.SizeBytes,
	}
}

func FromProtoDigest(protoDigest *remoteexecution_proto.Digest, digestFunction integrity.Algorithm) (integrity.Digest, error) {
	if protoDigest == nil {
		return integrity.Digest{}, fmt.Errorf("missing digest")
	}
	return integrity.DigestFromHex(protoDigest.Hash, protoDigest.SizeBytes, digestFunction)
}

func FromProtoStatus(googleStatus *gstatus.Status) status.Status {
	if googleStatus == nil {
		return status.Status{Code: status.Status_OK}
	}
	return status.Status{
		Code:    status.StatusCode(googleStatus.Code),
		Message: googleStatus.Message,
	}
}

func ProtoStatus(s status.Status) *gstatus.Status {
	return &gstatus.Status{
		Code:    int32(s.Code),
		Message: s.Message,
	}
}

// ResourceName is the ByteStream resource name of a blob for reading.
// Digest functions that can be told apart by hash length are not spelled out.
func ResourceName(digest integrity.Digest, digestFunction integrity.Algorithm) string {
	if digestFunction == integrity.Blake3 {
		return fmt.Sprintf("blobs/%s/%s/%d", digestFunction, digest.Hex(digestFunction), digest.SizeBytes)
	}
	return fmt.Sprintf("blobs/%s/%d", digest.Hex(digestFunction), digest.SizeBytes)
}

// UploadResourceName is the ByteStream resource name of a blob for writing.
// uploadID must be unique per upload.
func UploadResourceName(uploadID string, digest integrity.Digest, digestFunction integrity.Algorithm) string {
	return "uploads/" + uploadID + "/" + ResourceName(digest, digestFunction)
}

// ParseResourceName is the inverse of ResourceName, ignoring any instance name prefix.
func ParseResourceName(name string) (integrity.Digest, integrity.Algorithm, error) {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		if part != "blobs" {
			continue
		}
		rest := parts[i+1:]
		digestFunction := integrity.SHA256
		if len(rest) == 3 {
			alg, ok := integrity.AlgorithmFromString(rest[0])
			if !ok {
				return integrity.Digest{}, integrity.Algorithm{}, fmt.Errorf("unknown digest function in resource name %q", name)
			}
			digestFunction = alg
			rest = rest[1:]
		}
		if len(rest) != 2 {
			break
		}
		if digestFunction == integrity.SHA256 {
			// infer from the hash length
			if alg, ok := FromProtoDigestFunction(remoteexecution_proto.DigestFunction_UNKNOWN, len(rest[0])/2); ok {
				digestFunction = alg
			}
		}
		size, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return integrity.Digest{}, integrity.Algorithm{}, fmt.Errorf("invalid size in resource name %q: %w", name, err)
		}
		digest, err := integrity.DigestFromHex(rest[0], size, digestFunction)
		if err != nil {
			return integrity.Digest{}, integrity.Algorithm{}, err
		}
		return digest, digestFunction, nil
	}
	return integrity.Digest{}, integrity.Algorithm{}, fmt.Errorf("malformed resource name %q", name)
}
