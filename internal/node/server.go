package node

import (
	"context"
	"errors"
	"log"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sessiontoken/internal/ring"
	"sessiontoken/internal/session"
	"sessiontoken/internal/storage"
	"sessiontoken/internal/token"
)

// Server implements the Partition gRPC service on top of a replica store.
// Item requests without a PartitionHeader are routed by key when a ring is
// configured.
type Server struct {
	store  storage.Store
	ranges *ring.Ring
	nodeID string
}

// NewServer creates a new gRPC server instance. ranges may be nil.
func NewServer(store storage.Store, ranges *ring.Ring, nodeID string) *Server {
	return &Server{
		store:  store,
		ranges: ranges,
		nodeID: nodeID,
	}
}

// Write handles Write requests.
func (s *Server) Write(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	key := firstIncoming(ctx, ItemKeyHeader)
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}
	pk, err := s.partitionFor(ctx, key)
	if err != nil {
		return nil, err
	}

	progress := s.store.Put(pk, key, req.GetValue())
	log.Printf("[%s] Write: partition=%s key=%s token=%s", s.nodeID, pk, key, progress)

	if err := sendToken(ctx, pk, progress); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// Read handles Read requests. A request carrying a session token is served
// only if this replica's progress satisfies it.
func (s *Server) Read(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}
	pk, err := s.partitionFor(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}

	progress := s.store.Progress(pk)
	if err := sendToken(ctx, pk, progress); err != nil {
		return nil, err
	}

	if required := s.requiredToken(ctx, pk); required != nil {
		ok, err := token.IsValid(required, progress)
		if err != nil {
			log.Printf("[%s] Read: partition=%s inconsistent session token: %v", s.nodeID, pk, err)
			return nil, statusFromTokenError(err)
		}
		if !ok {
			log.Printf("[%s] Read: partition=%s session %s not available at %s", s.nodeID, pk, required, progress)
			return nil, status.Errorf(codes.FailedPrecondition, "read session not available: required %s, replica at %s", required, progress)
		}
	}

	vv := s.store.Get(pk, req.GetValue())
	if vv == nil || vv.IsTombstone() {
		return nil, status.Errorf(codes.NotFound, "key %s not found", req.GetValue())
	}
	return wrapperspb.Bytes(vv.Value), nil
}

// Delete handles Delete requests.
func (s *Server) Delete(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}
	pk, err := s.partitionFor(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}

	// Check if key exists before deleting
	if existing := s.store.Get(pk, req.GetValue()); existing == nil || existing.IsTombstone() {
		return nil, status.Errorf(codes.NotFound, "key %s not found", req.GetValue())
	}

	progress := s.store.Delete(pk, req.GetValue())
	log.Printf("[%s] Delete: partition=%s key=%s token=%s", s.nodeID, pk, req.GetValue(), progress)

	if err := sendToken(ctx, pk, progress); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// Sync handles progress pushed by peers or read repair.
func (s *Server) Sync(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	pk, err := partitionFromIncoming(ctx)
	if err != nil {
		return nil, err
	}

	incoming, err := token.Parse(req.GetValue())
	if err != nil {
		return nil, statusFromTokenError(err)
	}

	merged, err := s.store.Apply(pk, incoming)
	if err != nil {
		log.Printf("[%s] Sync: partition=%s rejected %s: %v", s.nodeID, pk, incoming, err)
		return nil, statusFromTokenError(err)
	}

	if err := sendToken(ctx, pk, merged); err != nil {
		return nil, err
	}
	return wrapperspb.String(merged.String()), nil
}

// Progress returns the partition token.
func (s *Server) Progress(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	pk, err := partitionFromIncoming(ctx)
	if err != nil {
		return nil, err
	}

	progress := s.store.Progress(pk)
	if err := sendToken(ctx, pk, progress); err != nil {
		return nil, err
	}
	return wrapperspb.String(progress.String()), nil
}

// requiredToken extracts the session token the client requires for pk. The
// header is either a bare token or a composite "pk:token,..." list. A token
// that does not parse is treated as absent.
func (s *Server) requiredToken(ctx context.Context, pk string) *token.Token {
	raw := firstIncoming(ctx, SessionTokenHeader)
	if raw == "" {
		return nil
	}

	if !strings.Contains(raw, ":") {
		t, err := token.Parse(raw)
		if err != nil {
			log.Printf("[%s] Ignoring session token: %v", s.nodeID, err)
			return nil
		}
		return t
	}

	tokens, err := session.ParseHeader(raw)
	if err != nil {
		log.Printf("[%s] Ignoring session token: %v", s.nodeID, err)
		return nil
	}
	return tokens[pk]
}

// partitionFor returns the partition named in the request, or the one the
// ring routes key to.
func (s *Server) partitionFor(ctx context.Context, key string) (string, error) {
	if pk := firstIncoming(ctx, PartitionHeader); pk != "" {
		return pk, nil
	}
	if s.ranges != nil {
		if pk, ok := s.ranges.RangeFor(key); ok {
			return pk, nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "partition key range id cannot be empty")
}

func partitionFromIncoming(ctx context.Context) (string, error) {
	pk := firstIncoming(ctx, PartitionHeader)
	if pk == "" {
		return "", status.Error(codes.InvalidArgument, "partition key range id cannot be empty")
	}
	return pk, nil
}

func firstIncoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// sendToken reports t and its partition in both the response header and
// trailer, so that clients see them on error responses too.
func sendToken(ctx context.Context, pk string, t *token.Token) error {
	md := metadata.Pairs(SessionTokenHeader, t.String(), PartitionHeader, pk)
	if err := grpc.SetHeader(ctx, md); err != nil {
		return status.Errorf(codes.Internal, "failed to set header: %v", err)
	}
	if err := grpc.SetTrailer(ctx, md); err != nil {
		return status.Errorf(codes.Internal, "failed to set trailer: %v", err)
	}
	return nil
}

func statusFromTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrInconsistentRegions):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, token.ErrInvalidToken):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
