package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"time"

	"google.golang.org/grpc"

	"sealgate/internal/access"
	"sealgate/internal/api"
	"sealgate/internal/blobstore"
	"sealgate/internal/config"
	"sealgate/internal/policy"
	"sealgate/internal/publish"
	"sealgate/internal/seal"
)

const (
	serverStartTimeout = 3 * time.Second
	serverPollInterval = 100 * time.Millisecond
)

func withClient(cfg *config.Config, fn func(*api.Client) error) error {
	cleanup, err := ensureServer(cfg)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	client := api.NewClient(cfg.APIURL)
	return fn(client)
}

func ensureServer(cfg *config.Config) (func(), error) {
	client := api.NewClient(cfg.APIURL)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := client.Ping(ctx); err == nil {
		return nil, nil
	}

	cmd, err := startServerProcess(cfg)
	if err != nil {
		return nil, err
	}

	if err := waitForServer(client, serverStartTimeout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	cleanup := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}

	return cleanup, nil
}

func startServerProcess(cfg *config.Config) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exe, "srv")
	cmd.Env = append(os.Environ(),
		"SEALGATE_DB="+cfg.DBPath,
		"SEALGATE_API_URL="+cfg.APIURL,
		"SEALGATE_KEYSERVER_ADDR="+cfg.KeyServers.Addr,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func waitForServer(client *api.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		err := client.Ping(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if !isConnRefused(err) {
			// If port is in use but API is not ours, surface the error.
			return err
		}
		time.Sleep(serverPollInterval)
	}
	return errors.New("server did not start in time")
}

func isConnRefused(err error) bool {
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

// stack wires the client-side components over one API connection.
type stack struct {
	cfg      *config.Config
	client   *api.Client
	policies *policy.Client
	resolver *policy.Resolver
	blobs    *blobstore.HTTPTransport
	logger   *slog.Logger

	conn    *grpc.ClientConn
	gateway *seal.Gateway
}

func newStack(cfg *config.Config, client *api.Client) *stack {
	logger := slog.Default()
	policies := policy.NewClient(client, cfg.PackageID, logger)
	blobs := blobstore.NewHTTPTransport(cfg.APIURL, cfg.APIURL, client.HTTPClient())
	blobs.SetAuthToken(client.AuthToken())
	return &stack{
		cfg:      cfg,
		client:   client,
		policies: policies,
		resolver: policy.NewResolver(policies, logger),
		blobs:    blobs,
		logger:   logger,
	}
}

// withStack runs fn with a connected stack and releases it afterwards.
func withStack(cfg *config.Config, fn func(*stack) error) error {
	return withClient(cfg, func(client *api.Client) error {
		st := newStack(cfg, client)
		defer st.Close()
		return fn(st)
	})
}

// Gateway dials the key server committee registered on the ledger.
func (s *stack) Gateway(ctx context.Context) (*seal.Gateway, error) {
	if s.gateway != nil {
		return s.gateway, nil
	}
	objs, err := s.client.KeyServers(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]seal.ServerInfo, 0, len(objs))
	for _, obj := range objs {
		info, err := seal.InfoFromObject(obj)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("no key servers are registered on %s", s.cfg.Network)
	}

	conn, err := seal.Dial(s.cfg.KeyServers.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial key servers at %s: %w", s.cfg.KeyServers.Addr, err)
	}
	gateway, err := seal.NewGateway(s.cfg.Network, s.cfg.PackageID, seal.RemoteServers(conn, infos, s.client.Timeout()), s.logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.conn = conn
	s.gateway = gateway
	return gateway, nil
}

func (s *stack) Orchestrator(ctx context.Context) (*publish.Orchestrator, error) {
	gateway, err := s.Gateway(ctx)
	if err != nil {
		return nil, err
	}
	cfg := publish.Config{MaxUploadBytes: s.cfg.Publish.MaxUploadBytes, Epochs: s.cfg.Publish.Epochs}
	return publish.New(cfg, gateway, s.blobs, s.policies, s.resolver, s.logger), nil
}

func (s *stack) Evaluator(ctx context.Context) (*access.Evaluator, error) {
	gateway, err := s.Gateway(ctx)
	if err != nil {
		return nil, err
	}
	return access.NewEvaluator(s.policies, gateway, s.blobs, s.logger), nil
}

func (s *stack) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
