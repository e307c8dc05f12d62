package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sessiontoken/internal/session"
	"sessiontoken/internal/token"
)

var (
	// ErrReadSessionNotAvailable is returned when a replica has not yet
	// caught up with the session token sent with a read.
	ErrReadSessionNotAvailable = errors.New("read session not available")

	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")
)

// ClientManager manages gRPC clients to replica nodes. All clients share one
// session container, so progress observed on any replica is sent to all.
type ClientManager struct {
	mu       sync.RWMutex
	conns    map[string]*grpc.ClientConn
	clients  map[string]*PartitionClient
	sessions *session.Container
	dialOpts []grpc.DialOption
}

// NewClientManager creates a new client manager. Extra dial options are
// appended to the defaults.
func NewClientManager(sessions *session.Container, opts ...grpc.DialOption) *ClientManager {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(SessionInterceptor(sessions)),
	}
	return &ClientManager{
		conns:    make(map[string]*grpc.ClientConn),
		clients:  make(map[string]*PartitionClient),
		sessions: sessions,
		dialOpts: append(dialOpts, opts...),
	}
}

// Sessions returns the shared session container.
func (cm *ClientManager) Sessions() *session.Container {
	return cm.sessions
}

// GetClient returns a client for the given node address.
// Creates a new connection if one doesn't exist.
func (cm *ClientManager) GetClient(addr string) (*PartitionClient, error) {
	cm.mu.RLock()
	client, exists := cm.clients[addr]
	cm.mu.RUnlock()

	if exists {
		return client, nil
	}

	// Create new connection
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := cm.clients[addr]; exists {
		return client, nil
	}

	conn, err := grpc.NewClient(addr, cm.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	client = &PartitionClient{conn: conn}
	cm.conns[addr] = conn
	cm.clients[addr] = client
	return client, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	cm.clients = make(map[string]*PartitionClient)
	return errors.Join(errs...)
}

// PartitionClient calls the Partition service of one replica.
type PartitionClient struct {
	conn *grpc.ClientConn
}

// Write stores value under key and returns the replica's token after the write.
func (c *PartitionClient) Write(ctx context.Context, pk, key string, value []byte) (*token.Token, error) {
	ctx = metadata.AppendToOutgoingContext(WithPartition(ctx, pk), ItemKeyHeader, key)

	var header, trailer metadata.MD
	err := c.conn.Invoke(ctx, WriteMethod, wrapperspb.Bytes(value), new(emptypb.Empty), grpc.Header(&header), grpc.Trailer(&trailer))
	if err != nil {
		return nil, fromStatus(err)
	}
	t, _ := ResponseToken(header, trailer)
	return t, nil
}

// Read returns the value of key. The replica's token is returned even when
// the read fails, if the replica reported one.
func (c *PartitionClient) Read(ctx context.Context, pk, key string) ([]byte, *token.Token, error) {
	var header, trailer metadata.MD
	resp := new(wrapperspb.BytesValue)
	err := c.conn.Invoke(WithPartition(ctx, pk), ReadMethod, wrapperspb.String(key), resp, grpc.Header(&header), grpc.Trailer(&trailer))
	t, _ := ResponseToken(header, trailer)
	if err != nil {
		return nil, t, fromStatus(err)
	}
	return resp.GetValue(), t, nil
}

// Delete removes key and returns the replica's token after the delete.
func (c *PartitionClient) Delete(ctx context.Context, pk, key string) (*token.Token, error) {
	var header, trailer metadata.MD
	err := c.conn.Invoke(WithPartition(ctx, pk), DeleteMethod, wrapperspb.String(key), new(emptypb.Empty), grpc.Header(&header), grpc.Trailer(&trailer))
	if err != nil {
		return nil, fromStatus(err)
	}
	t, _ := ResponseToken(header, trailer)
	return t, nil
}

// Sync pushes t to the replica and returns its merged progress.
func (c *PartitionClient) Sync(ctx context.Context, pk string, t *token.Token) (*token.Token, error) {
	resp := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(WithPartition(ctx, pk), SyncMethod, wrapperspb.String(t.String()), resp); err != nil {
		return nil, fromStatus(err)
	}
	return token.Parse(resp.GetValue())
}

// Progress returns the replica's token for pk.
func (c *PartitionClient) Progress(ctx context.Context, pk string) (*token.Token, error) {
	resp := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(WithPartition(ctx, pk), ProgressMethod, new(emptypb.Empty), resp); err != nil {
		return nil, fromStatus(err)
	}
	return token.Parse(resp.GetValue())
}

// fromStatus maps well-known status codes to package errors. The status of a
// consistency fault stays reachable through the wrapped error.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrReadSessionNotAvailable, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.Internal:
		// Replicas report consistency faults as Internal
		return fmt.Errorf("%w: %w", token.ErrInconsistentRegions, err)
	default:
		return err
	}
}
