package node

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"sessiontoken/internal/session"
	"sessiontoken/internal/token"
)

// fakeInvoker records the outgoing session header and answers with the given
// response token, and optionally a resolved partition, in the response header.
type fakeInvoker struct {
	called    bool
	sent      []string
	response  string
	partition string
	err       error
}

func (f *fakeInvoker) invoke(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, opts ...grpc.CallOption) error {
	f.called = true
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		f.sent = md.Get(SessionTokenHeader)
	}
	if f.response != "" {
		for _, o := range opts {
			if h, ok := o.(grpc.HeaderCallOption); ok {
				*h.HeaderAddr = metadata.Pairs(SessionTokenHeader, f.response)
				if f.partition != "" {
					h.HeaderAddr.Set(PartitionHeader, f.partition)
				}
			}
		}
	}
	return f.err
}

func TestSessionInterceptor(t *testing.T) {
	mustParse := func(s string) *token.Token {
		tok, err := token.Parse(s)
		require.NoError(t, err)
		return tok
	}

	t.Run("no partition passes through", func(t *testing.T) {
		c := session.NewContainer()
		inv := &fakeInvoker{response: "1#0#1=0"}
		err := SessionInterceptor(c)(context.Background(), ReadMethod, nil, nil, nil, inv.invoke)
		require.NoError(t, err)
		assert.True(t, inv.called)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("routed call merges under the reported partition", func(t *testing.T) {
		c := session.NewContainer()
		inv := &fakeInvoker{response: "1#0#1=0", partition: "p7"}
		err := SessionInterceptor(c)(context.Background(), WriteMethod, nil, nil, nil, inv.invoke)
		require.NoError(t, err)
		assert.Empty(t, inv.sent)
		assert.Equal(t, "p7:1#0#1=0", c.Header())
	})

	t.Run("sends stored token and merges response", func(t *testing.T) {
		c := session.NewContainer()
		_, err := c.Merge("p0", mustParse("1#0#1=0#2=-1"))
		require.NoError(t, err)

		inv := &fakeInvoker{response: "1#0#1=-1#2=0"}
		err = SessionInterceptor(c)(WithPartition(context.Background(), "p0"), ReadMethod, nil, nil, nil, inv.invoke)
		require.NoError(t, err)
		assert.Equal(t, []string{"p0:1#0#1=0#2=-1"}, inv.sent)

		got, ok := c.Get("p0")
		require.True(t, ok)
		assert.Equal(t, "1#0#1=0#2=0", got.String())
	})

	t.Run("without session token still merges response", func(t *testing.T) {
		c := session.NewContainer()
		_, err := c.Merge("p0", mustParse("1#0#1=0"))
		require.NoError(t, err)

		inv := &fakeInvoker{response: "1#4#1=4"}
		ctx := WithoutSessionToken(WithPartition(context.Background(), "p0"))
		require.NoError(t, SessionInterceptor(c)(ctx, ReadMethod, nil, nil, nil, inv.invoke))
		assert.Empty(t, inv.sent)

		got, _ := c.Get("p0")
		assert.Equal(t, "1#4#1=4", got.String())
	})

	t.Run("inconsistent response fails the call", func(t *testing.T) {
		c := session.NewContainer()
		_, err := c.Merge("p0", mustParse("1#0#1=0#2=0"))
		require.NoError(t, err)

		inv := &fakeInvoker{response: "1#5#1=5#3=5"}
		err = SessionInterceptor(c)(WithPartition(context.Background(), "p0"), ReadMethod, nil, nil, nil, inv.invoke)
		require.ErrorIs(t, err, token.ErrInconsistentRegions)

		got, _ := c.Get("p0")
		assert.Equal(t, "1#0#1=0#2=0", got.String(), "a fault must leave the session unchanged")
	})

	t.Run("call error wins and response is still merged", func(t *testing.T) {
		c := session.NewContainer()
		callErr := errors.New("unavailable")
		inv := &fakeInvoker{response: "2#1#1=1", err: callErr}
		err := SessionInterceptor(c)(WithPartition(context.Background(), "p0"), ReadMethod, nil, nil, nil, inv.invoke)
		assert.ErrorIs(t, err, callErr)

		got, ok := c.Get("p0")
		require.True(t, ok)
		assert.Equal(t, "2#1#1=1", got.String())
	})

	t.Run("caller options are not overwritten", func(t *testing.T) {
		c := session.NewContainer()
		var callerHeader metadata.MD
		callerOpts := make([]grpc.CallOption, 1, 4)
		callerOpts[0] = grpc.Header(&callerHeader)
		spare := callerOpts[:cap(callerOpts)]
		sentinel := grpc.WaitForReady(true)
		for i := len(callerOpts); i < len(spare); i++ {
			spare[i] = sentinel
		}

		inv := &fakeInvoker{response: "1#0#1=0"}
		err := SessionInterceptor(c)(WithPartition(context.Background(), "p0"), ReadMethod, nil, nil, nil, inv.invoke, callerOpts...)
		require.NoError(t, err)

		for i := len(callerOpts); i < len(spare); i++ {
			assert.Equal(t, sentinel, spare[i], "spare capacity at %d was written", i)
		}
		got, ok := c.Get("p0")
		require.True(t, ok)
		assert.Equal(t, "1#0#1=0", got.String())
	})

	t.Run("malformed response is ignored", func(t *testing.T) {
		c := session.NewContainer()
		inv := &fakeInvoker{response: "not-a-token"}
		err := SessionInterceptor(c)(WithPartition(context.Background(), "p0"), ReadMethod, nil, nil, nil, inv.invoke)
		require.NoError(t, err)
		assert.Equal(t, 0, c.Len())
	})
}

func TestResponseToken(t *testing.T) {
	tests := []struct {
		name    string
		header  metadata.MD
		trailer metadata.MD
		want    string
		ok      bool
	}{
		{"header", metadata.Pairs(SessionTokenHeader, "1#2#1=2"), nil, "1#2#1=2", true},
		{"trailer only", nil, metadata.Pairs(SessionTokenHeader, "1#3#1=3"), "1#3#1=3", true},
		{"header wins", metadata.Pairs(SessionTokenHeader, "1#2#1=2"), metadata.Pairs(SessionTokenHeader, "1#3#1=3"), "1#2#1=2", true},
		{"absent", metadata.Pairs("other", "x"), nil, "", false},
		{"malformed", metadata.Pairs(SessionTokenHeader, "1#"), nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResponseToken(tt.header, tt.trailer)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.String())
			} else {
				assert.Nil(t, got)
			}
		})
	}
}
