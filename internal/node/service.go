package node

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// SessionTokenHeader carries session tokens on requests and responses.
	SessionTokenHeader = "x-session-token"
	// PartitionHeader names the partition key range a call targets.
	PartitionHeader = "x-partition-key-range-id"
	// ItemKeyHeader names the item a Write targets.
	ItemKeyHeader = "x-item-key"

	serviceName = "sessiontoken.v1.Partition"

	WriteMethod    = "/" + serviceName + "/Write"
	ReadMethod     = "/" + serviceName + "/Read"
	DeleteMethod   = "/" + serviceName + "/Delete"
	SyncMethod     = "/" + serviceName + "/Sync"
	ProgressMethod = "/" + serviceName + "/Progress"
)

// PartitionServer is the server API of the Partition service.
// Every method takes the partition from PartitionHeader and reports the
// partition's token in the SessionTokenHeader response header.
type PartitionServer interface {
	// Write stores the request value under the key in ItemKeyHeader.
	Write(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	// Read returns the value of a key once the replica satisfies the
	// session token sent with the request.
	Read(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	// Delete stores a tombstone for a key.
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	// Sync merges a token learned from another replica into the partition.
	Sync(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	// Progress returns the partition token.
	Progress(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// RegisterPartitionServer registers srv with s.
func RegisterPartitionServer(s grpc.ServiceRegistrar, srv PartitionServer) {
	s.RegisterService(&partitionServiceDesc, srv)
}

var partitionServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PartitionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Write", Handler: writeHandler},
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "Delete", Handler: deleteHandler},
		{MethodName: "Sync", Handler: syncHandler},
		{MethodName: "Progress", Handler: progressHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessiontoken/v1/partition.proto",
}

func writeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PartitionServer).Write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WriteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PartitionServer).Write(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func readHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PartitionServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReadMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PartitionServer).Read(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PartitionServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DeleteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PartitionServer).Delete(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func syncHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PartitionServer).Sync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SyncMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PartitionServer).Sync(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func progressHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PartitionServer).Progress(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProgressMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PartitionServer).Progress(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
