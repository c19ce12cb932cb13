package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/cartridge/geese/internal/config"
	"github.com/cartridge/geese/internal/inference"
	"github.com/cartridge/geese/internal/metrics"
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Serve the policy/value network over gRPC",
	RunE:  runInfer,
}

func init() {
	d := config.Default()
	inferCmd.Flags().String("grpc-addr", d.GRPCAddr, "gRPC listen address")
	inferCmd.Flags().Duration("shutdown-timeout", d.ShutdownTimeout, "Graceful shutdown timeout")
}

func runInfer(cmd *cobra.Command, args []string) error {
	if cfg.ModelBackend == config.BackendRemote {
		return fmt.Errorf("the inference server needs a local model backend")
	}
	m, err := openModel(cfg)
	if err != nil {
		return fmt.Errorf("failed to open model: %w", err)
	}
	defer closeModel(m)

	server := grpc.NewServer(
		grpc.UnaryInterceptor(inference.LoggingInterceptor(logger)),
	)
	inference.Register(server, inference.NewServer(m, metrics.NewCollector(logger)))

	// Enable reflection for development
	reflection.Register(server)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", lis.Addr().String()).Str("model_backend", cfg.ModelBackend).Msg("Inference service listening")
		serveErr <- server.Serve(lis)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to serve: %w", err)
	case <-sig:
	}

	logger.Info().Msg("Shutting down gracefully...")

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Msg("Shutdown timeout exceeded, forcing stop")
		server.Stop()
	case <-stopped:
		logger.Info().Msg("Server stopped gracefully")
	}
	return nil
}
