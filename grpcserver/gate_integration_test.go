package grpcserver_test

import (
	"context"
	"crypto/rsa"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/AmmannChristian/go-audiofork/audiofork"
	"github.com/AmmannChristian/go-audiofork/grpcserver"
	"github.com/AmmannChristian/go-audiofork/internal/testutil"
	"github.com/AmmannChristian/go-audiofork/objectstore/memory"
)

const (
	gatewayIssuer = "https://idbroker.example.com/idb"
	gatewayBucket = "media-bucket"
)

type gateway struct {
	key   *rsa.PrivateKey
	host  *testutil.JWKSHost
	store *memory.Store
	conn  *grpc.ClientConn
}

func startGateway(t *testing.T, opts ...grpcserver.InterceptorOption) *gateway {
	t.Helper()

	key := testutil.GenerateRSAKey(t)
	host := testutil.NewJWKSHost()
	host.Serve(gatewayIssuer+"/oauth2/v2/keys/verificationjwk/",
		testutil.JWKSBody(t, testutil.PublicJWK(testutil.DefaultKeyID, &key.PublicKey)))

	verifier, err := grpcserver.NewVerifierBuilder().
		WithHTTPClient(host.Client()).
		Build()
	if err != nil {
		t.Fatalf("failed to build verifier: %v", err)
	}

	gate := grpcserver.NewGate(verifier, opts...)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcserver.UnaryRecoveryInterceptor(nil), gate.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcserver.StreamRecoveryInterceptor(nil), gate.StreamServerInterceptor()),
	)

	store := memory.New()
	audiofork.RegisterConversationAudioServer(srv, audiofork.NewService(store, gatewayBucket))
	healthpb.RegisterHealthServer(srv, health.NewServer())

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &gateway{key: key, host: host, store: store, conn: conn}
}

func (g *gateway) fork(ctx context.Context, conversationID string, roles ...string) error {
	stream, err := audiofork.NewConversationAudioClient(g.conn).StreamConversationAudio(ctx)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if err := stream.Send(&audiofork.ForkRequest{
			ConversationID: conversationID,
			Audio:          &audiofork.Audio{RoleID: role, AudioData: []byte(role)},
		}); err != nil {
			// The server has ended the stream; its status comes from Recv.
			_, err = stream.Recv()
			return err
		}
		if _, err := stream.Recv(); err != nil {
			return err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func TestGate_HealthIsReachableWithoutCredentials(t *testing.T) {
	g := startGateway(t, grpcserver.WithStrictSchemeCheck(true))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(g.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("expected health check to bypass the gate, got %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", resp.GetStatus())
	}
	if g.host.TotalRequests() != 0 {
		t.Error("expected no key set fetch for an exempt call")
	}
}

func TestGate_ForkWithValidToken(t *testing.T) {
	g := startGateway(t, grpcserver.WithStrictSchemeCheck(true))
	token := testutil.NewToken(gatewayIssuer).Sign(t, g.key)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)

	if err := g.fork(ctx, "c1", "agent", "customer"); err != nil {
		t.Fatalf("expected fork to succeed, got %v", err)
	}

	obj, ok := g.store.Object(gatewayBucket, "audio/c1-agent.raw")
	if !ok || string(obj.Data) != "agent" {
		t.Errorf("unexpected agent object: %+v", obj)
	}
}

func TestGate_ForkRejected(t *testing.T) {
	g := startGateway(t, grpcserver.WithStrictSchemeCheck(true))
	stranger := testutil.GenerateRSAKey(t)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{name: "no header", wantMsg: "missing authorization header"},
		{name: "wrong scheme", header: "Token abc", wantMsg: "invalid authorization header format"},
		{name: "foreign signer", header: "Bearer " + testutil.NewToken(gatewayIssuer).Sign(t, stranger), wantMsg: "invalid or missing bearer token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if tt.header != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "authorization", tt.header)
			}

			err := g.fork(ctx, "c1", "agent")
			st := status.Convert(err)
			if st.Code() != codes.Unauthenticated {
				t.Fatalf("expected Unauthenticated, got %v", err)
			}
			if st.Message() != tt.wantMsg {
				t.Errorf("expected %q, got %q", tt.wantMsg, st.Message())
			}
		})
	}

	if objs := g.store.Objects(gatewayBucket); len(objs) != 0 {
		t.Errorf("expected no objects written by rejected streams, got %v", objs)
	}
}
