package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/AmmannChristian/go-audiofork/audiofork"
	"github.com/AmmannChristian/go-audiofork/objectstore/memory"
)

const testBucket = "media-bucket"

type fakeGateway struct {
	store  *memory.Store
	health *health.Server
	lis    *bufconn.Listener
	tokens chan string
	// content types seen on fork streams
	contentTypes chan string
}

func startFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	gw := &fakeGateway{
		store:  memory.New(),
		health: health.NewServer(),
		lis:    bufconn.Listen(1 << 20),
		tokens: make(chan string, 16),

		contentTypes: make(chan string, 16),
	}

	srv := grpc.NewServer(grpc.StreamInterceptor(
		func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			md, _ := metadata.FromIncomingContext(ss.Context())
			if v := md.Get("authorization"); len(v) > 0 {
				gw.tokens <- v[0]
			}
			if v := md.Get("content-type"); len(v) > 0 && info.FullMethod == audiofork.StreamConversationAudioFullMethod {
				gw.contentTypes <- v[0]
			}
			return handler(srv, ss)
		},
	))
	audiofork.RegisterConversationAudioServer(srv, audiofork.NewService(gw.store, testBucket))
	healthpb.RegisterHealthServer(srv, gw.health)
	go func() { _ = srv.Serve(gw.lis) }()
	t.Cleanup(srv.Stop)

	return gw
}

// command builds the root command pointed at the fake gateway.
func (gw *fakeGateway) command(out *bytes.Buffer, args ...string) *cobra.Command {
	root := newRootCmd(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return gw.lis.DialContext(ctx)
	}))
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append([]string{"--addr", "passthrough:///bufnet", "--plaintext"}, args...))
	return root
}

func writeAudio(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestParseRoles(t *testing.T) {
	specs, err := parseRoles([]string{"agent=a.raw", " customer = c.raw "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 || specs[1].role != "customer" || specs[1].path != "c.raw" {
		t.Errorf("unexpected specs: %+v", specs)
	}

	for _, bad := range [][]string{nil, {"agent"}, {"=a.raw"}, {"agent="}, {"agent=a", "agent=b"}} {
		if _, err := parseRoles(bad); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
}

func TestStreamCommand(t *testing.T) {
	gw := startFakeGateway(t)
	dir := t.TempDir()
	agent := writeAudio(t, dir, "agent.raw", []byte("AAAAAAAAAA"))
	customer := writeAudio(t, dir, "customer.raw", []byte("CCCC"))

	out := &bytes.Buffer{}
	cmd := gw.command(out, "--token", "static-token", "stream",
		"--conversation", "c1",
		"--role", "agent="+agent,
		"--role", "customer="+customer,
		"--chunk-size", "4",
		"--compress",
	)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("stream failed: %v\n%s", err, out.String())
	}

	if !strings.Contains(out.String(), "conversation c1: 4 chunks acknowledged") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "agent: Processed chunk for conversationId: c1") {
		t.Errorf("expected acks in output:\n%s", out.String())
	}

	a, _ := gw.store.Object(testBucket, "audio/c1-agent.raw")
	c, _ := gw.store.Object(testBucket, "audio/c1-customer.raw")
	if string(a.Data) != "AAAAAAAAAA" || string(c.Data) != "CCCC" {
		t.Errorf("unexpected objects: agent=%q customer=%q", a.Data, c.Data)
	}
	if got := <-gw.tokens; got != "Bearer static-token" {
		t.Errorf("expected bearer token, got %q", got)
	}
}

func TestStreamCommand_ContentSubtype(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "protobuf by default", want: "application/grpc"},
		{name: "cbor", args: []string{"--cbor"}, want: "application/grpc+cbor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := startFakeGateway(t)
			agent := writeAudio(t, t.TempDir(), "agent.raw", []byte("AAAA"))

			out := &bytes.Buffer{}
			args := append([]string{"stream", "--conversation", "c2", "--role", "agent=" + agent}, tt.args...)
			if err := gw.command(out, args...).Execute(); err != nil {
				t.Fatalf("stream failed: %v\n%s", err, out.String())
			}

			if got := <-gw.contentTypes; got != tt.want {
				t.Errorf("expected content type %q, got %q", tt.want, got)
			}
			a, _ := gw.store.Object(testBucket, "audio/c2-agent.raw")
			if string(a.Data) != "AAAA" {
				t.Errorf("unexpected object %q", a.Data)
			}
		})
	}
}

func TestStreamCommand_ServerError(t *testing.T) {
	gw := startFakeGateway(t)
	gw.store.FailOpen = status.Error(codes.Unavailable, "bucket offline")
	agent := writeAudio(t, t.TempDir(), "agent.raw", []byte("AAAA"))

	out := &bytes.Buffer{}
	err := gw.command(out, "stream", "--conversation", "c1", "--role", "agent="+agent).Execute()
	if status.Code(err) != codes.Internal {
		t.Errorf("expected Internal from the gateway, got %v", err)
	}
}

func TestStreamCommand_MissingFile(t *testing.T) {
	gw := startFakeGateway(t)

	out := &bytes.Buffer{}
	err := gw.command(out, "stream", "--role", "agent=/nonexistent/agent.raw").Execute()
	if err == nil || !strings.Contains(err.Error(), "open agent audio") {
		t.Errorf("expected open error, got %v", err)
	}
}

func TestHealthCommand(t *testing.T) {
	gw := startFakeGateway(t)

	out := &bytes.Buffer{}
	if err := gw.command(out, "health").Execute(); err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "SERVING" {
		t.Errorf("unexpected output %q", out.String())
	}

	gw.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	out.Reset()
	if err := gw.command(out, "health").Execute(); err == nil {
		t.Error("expected error when not serving")
	}
}
