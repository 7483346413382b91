package oauth2client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientInterceptor returns a gRPC unary client interceptor that adds
// "authorization: Bearer <token>" to the outgoing metadata. If the token
// cannot be obtained the call is aborted.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "gateway:8086",
//	    grpc.WithUnaryInterceptor(oauth2client.UnaryClientInterceptor(tm)),
//	)
func UnaryClientInterceptor(src TokenSource) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx, err := withBearer(ctx, src)
		if err != nil {
			return err
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the stream counterpart of
// UnaryClientInterceptor. The token is attached once, when the stream opens.
func StreamClientInterceptor(src TokenSource) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		ctx, err := withBearer(ctx, src)
		if err != nil {
			return nil, err
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// UnaryClientInterceptor returns UnaryClientInterceptor(tm).
func (tm *TokenManager) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return UnaryClientInterceptor(tm)
}

// StreamClientInterceptor returns StreamClientInterceptor(tm).
func (tm *TokenManager) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return StreamClientInterceptor(tm)
}

func withBearer(ctx context.Context, src TokenSource) (context.Context, error) {
	token, err := src.Token(ctx)
	if err != nil {
		return ctx, fmt.Errorf("oauth2: failed to get token: %w", err)
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token), nil
}
