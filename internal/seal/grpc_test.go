package seal

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"sealgate/internal/errs"
)

func TestGRPCKeyServerRoundTrip(t *testing.T) {
	locals := make([]*LocalKeyServer, 0, 3)
	for i, approver := range []Approver{allowAll(), allowAll(), denyAll()} {
		kp, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		info := ServerInfo{ID: []string{"0xa", "0xb", "0xc"}[i], Name: []string{"ks-a", "ks-b", "ks-c"}[i]}
		locals = append(locals, NewLocalKeyServer(info, kp, testPackage, approver, nil))
	}
	served := map[string]KeyServer{}
	for _, ks := range locals {
		served[ks.Info().ID] = ks
	}

	cc := serveKeyServers(t, served)

	infos := make([]ServerInfo, 0, len(locals))
	for _, ks := range locals {
		infos = append(infos, ks.Info())
	}
	remote := RemoteServers(cc, infos, 2*time.Second)
	g := testGateway(t, remote)
	ctx := context.Background()

	ct, err := g.Encrypt(ctx, testPolicy, []byte("over the wire"), 2)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := g.Decrypt(ctx, ct, testPolicy, Proof{Viewer: viewer})
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != "over the wire" {
		t.Fatalf("unexpected plaintext %q", got)
	}

	// The third server denies; its error must survive the transport.
	_, err = remote[2].Client.FetchShare(ctx, ShareRequest{
		PackageID:   testPackage,
		PolicyID:    testPolicy,
		SealedShare: mustEnvelope(t, ct).Shares[2].Data,
		Proof:       Proof{Viewer: viewer},
	})
	if !errs.Is(err, errs.AccessDenied) {
		t.Fatalf("expected access denied over grpc, got %v", err)
	}
}

type stalledKeyServer struct{}

func (stalledKeyServer) FetchShare(ctx context.Context, _ ShareRequest) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRemoteKeyServerTimeout(t *testing.T) {
	cc := serveKeyServers(t, map[string]KeyServer{"0xstall": stalledKeyServer{}})
	remote := RemoteServers(cc, []ServerInfo{{ID: "0xstall", Name: "stalled"}}, 50*time.Millisecond)

	start := time.Now()
	_, err := remote[0].Client.FetchShare(context.Background(), ShareRequest{
		PackageID:   testPackage,
		PolicyID:    testPolicy,
		SealedShare: []byte("share"),
		Proof:       Proof{Viewer: viewer},
	})
	if !errs.Is(err, errs.ServiceUnavailable) {
		t.Fatalf("expected service unavailable from a stalled key server, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("share request took %v despite the timeout", elapsed)
	}
}

// serveKeyServers serves ks over an in-memory gRPC listener.
func serveKeyServers(t *testing.T, ks map[string]KeyServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterKeyServerServer(srv, NewGRPCServer(ks))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.DialContext(ctx) }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { cc.Close() })
	return cc
}

func mustEnvelope(t *testing.T, ct []byte) Envelope {
	t.Helper()
	env, err := ParseEnvelope(ct)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	return env
}
