package testutil

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// BufconnTarget is the dial target to use with BufconnDialer.
const BufconnTarget = "passthrough:///bufnet"

// NewBufListener returns an in-memory listener for gRPC tests.
func NewBufListener() *bufconn.Listener {
	return bufconn.Listen(1 << 20)
}

// BufconnDialer routes every dial to lis.
func BufconnDialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

// DialBufconn opens an insecure client connection to lis, closed at test end.
func DialBufconn(t testing.TB, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(BufconnTarget,
		BufconnDialer(lis),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("testutil: dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ServeBufconn serves srv on a fresh bufconn listener until the test ends
// and returns a client connection to it.
func ServeBufconn(t testing.TB, srv *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := NewBufListener()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return DialBufconn(t, lis)
}
