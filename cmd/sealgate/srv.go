package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"sealgate/internal/access"
	"sealgate/internal/blobstore"
	"sealgate/internal/config"
	"sealgate/internal/ledger"
	"sealgate/internal/policy"
	"sealgate/internal/seal"
	"sealgate/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the local ledger, blob store and key server committee",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("db path is required")
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runServer(ctx, cfg, slog.Default().With("component", "server"))
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	addr, err := server.ListenAddr(cfg.APIURL)
	if err != nil {
		return err
	}
	epoch, err := cfg.EpochDuration()
	if err != nil {
		return err
	}

	logger.Info("opening database", "path", cfg.DBPath)
	st, err := ledger.Open(cfg.DBPath, cfg.PackageID)
	if err != nil {
		return err
	}
	defer st.Close()

	blobs, err := blobstore.NewLocalStore(cfg.Blobs.Root, cfg.APIURL, epoch)
	if err != nil {
		return err
	}

	policies := policy.NewClient(st, cfg.PackageID, logger)
	approver := access.NewLedgerApprover(policies)
	committee, err := seal.LocalCommittee(ctx, st, cfg.KeyServers.Count, "grpc://"+cfg.KeyServers.Addr, cfg.PackageID, approver, logger)
	if err != nil {
		return err
	}

	grpcServer, grpcListener, err := listenKeyServers(cfg.KeyServers.Addr, committee)
	if err != nil {
		return err
	}
	httpListener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = grpcListener.Close()
		return err
	}

	srv := server.New(addr, st, blobs, logger)
	srv.Configure(server.Options{
		Network:        cfg.Network,
		DBPath:         cfg.DBPath,
		MaxUploadBytes: uploadLimit(cfg),
	})

	errCh := make(chan error, 2)
	go func() {
		logger.Info("serving key servers", "addr", cfg.KeyServers.Addr, "count", len(committee))
		errCh <- grpcServer.Serve(grpcListener)
	}()
	go func() {
		if err := srv.Serve(httpListener); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error("server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown", "error", shutdownErr)
	}
	grpcServer.GracefulStop()
	return err
}

// uploadLimit is the largest blob srv accepts: the envelope around a
// plaintext of the configured publish limit.
func uploadLimit(cfg *config.Config) int64 {
	return seal.MaxEnvelopeSize(cfg.Publish.MaxUploadBytes, cfg.KeyServers.Count)
}

func listenKeyServers(addr string, committee []*seal.LocalKeyServer) (*grpc.Server, net.Listener, error) {
	byID := make(map[string]seal.KeyServer, len(committee))
	for _, ks := range committee {
		byID[ks.Info().ID] = ks
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen for key servers on %s: %w", addr, err)
	}
	s := grpc.NewServer()
	seal.RegisterKeyServerServer(s, seal.NewGRPCServer(byID))
	return s, l, nil
}
