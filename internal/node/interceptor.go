package node

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"sessiontoken/internal/session"
	"sessiontoken/internal/token"
)

type skipSessionKey struct{}

// WithPartition targets the outgoing call at a partition key range. An empty
// pk leaves routing to the server.
func WithPartition(ctx context.Context, pk string) context.Context {
	if pk == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, PartitionHeader, pk)
}

// WithoutSessionToken marks the call so that no session token is sent. The
// response token is still merged into the container.
func WithoutSessionToken(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipSessionKey{}, true)
}

// SessionInterceptor attaches the stored session token of the call's
// partition to every request and merges the token the server returns back
// into the container. A call without a partition is routed by the server and
// its token is stored under the partition the server reports. A malformed
// response token is ignored; a consistency fault fails the call.
func SessionInterceptor(c *session.Container) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		pk := outgoingPartition(ctx)
		if skip, _ := ctx.Value(skipSessionKey{}).(bool); pk != "" && !skip {
			if hdr := c.Header(pk); hdr != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, SessionTokenHeader, hdr)
			}
		}

		var header, trailer metadata.MD
		opts = append(opts[:len(opts):len(opts)], grpc.Header(&header), grpc.Trailer(&trailer))
		err := invoker(ctx, method, req, reply, cc, opts...)

		if pk == "" {
			pk = responsePartition(header, trailer)
		}
		if pk == "" {
			return err
		}
		if mergeErr := mergeResponseToken(c, pk, header, trailer); mergeErr != nil && err == nil {
			return mergeErr
		}
		return err
	}
}

// responsePartition returns the partition the server resolved the call to.
func responsePartition(header, trailer metadata.MD) string {
	for _, md := range []metadata.MD{header, trailer} {
		if vals := md.Get(PartitionHeader); len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// ResponseToken returns the session token carried by response metadata.
func ResponseToken(header, trailer metadata.MD) (*token.Token, bool) {
	for _, md := range []metadata.MD{header, trailer} {
		if vals := md.Get(SessionTokenHeader); len(vals) > 0 {
			t, err := token.Parse(vals[0])
			if err != nil {
				return nil, false
			}
			return t, true
		}
	}
	return nil, false
}

func mergeResponseToken(c *session.Container, pk string, header, trailer metadata.MD) error {
	t, ok := ResponseToken(header, trailer)
	if !ok {
		return nil
	}
	if _, err := c.Merge(pk, t); err != nil {
		return fmt.Errorf("session token from partition %s: %w", pk, err)
	}
	return nil
}

func outgoingPartition(ctx context.Context) string {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(PartitionHeader); len(vals) > 0 {
		return vals[len(vals)-1]
	}
	return ""
}
