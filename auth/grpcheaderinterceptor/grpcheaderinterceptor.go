// Package grpcheaderinterceptor attaches configured headers to every outgoing gRPC call.
package grpcheaderinterceptor

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/tweag/asset-hashserve/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type headerInterceptor struct {
	headers metadata.MD
}

// unaryAddHeaders injects headers into a unary gRPC call.
func (i *headerInterceptor) unaryAddHeaders(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return invoker(i.withHeaders(ctx, method), method, req, reply, cc, opts...)
}

// streamAddHeaders injects headers into a stream gRPC call.
func (i *headerInterceptor) streamAddHeaders(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(i.withHeaders(ctx, method), desc, cc, method, opts...)
}

func (i *headerInterceptor) withHeaders(ctx context.Context, method string) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	} else {
		md = md.Copy()
	}
	for k, vs := range i.headers {
		// headers set by the caller win
		if len(md.Get(k)) > 0 {
			continue
		}
		md.Append(k, vs...)
	}
	logging.Debugf("adding %d configured headers to gRPC call %s", len(i.headers), method)
	return metadata.NewOutgoingContext(ctx, md)
}

// Metadata converts configured headers to gRPC metadata. Names are lowercased.
func Metadata(headers map[string]string) metadata.MD {
	md := metadata.MD{}
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		md.Append(strings.ToLower(name), headers[name])
	}
	return md
}

// DialOptions returns interceptors that add headers to every call.
// It returns nil if there are no headers.
func DialOptions(headers map[string]string) []grpc.DialOption {
	if len(headers) == 0 {
		return nil
	}
	interceptor := &headerInterceptor{headers: Metadata(headers)}
	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(interceptor.unaryAddHeaders),
		grpc.WithChainStreamInterceptor(interceptor.streamAddHeaders),
	}
}
