package main

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/metacog/go-controller/internal/producer"
)

var serveAddr string

var serveProducerCmd = &cobra.Command{
	Use:   "serve-producer",
	Short: "Expose the configured text producer over gRPC",
	Long: `Serves /metacog.TextService/Produce backed by the configured producer,
so that other controllers can use it with provider "grpc".`,
	RunE: runServeProducer,
}

func init() {
	serveProducerCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to producer.addr)")
}

func runServeProducer(cmd *cobra.Command, args []string) error {
	if cfg.Producer.Provider == producer.ProviderGRPC {
		return fmt.Errorf("serve-producer needs a local provider, not %q", cfg.Producer.Provider)
	}
	addr := serveAddr
	if addr == "" {
		addr = cfg.Producer.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, closeProducer, err := producer.New(ctx, cfg.Producer, logger)
	if err != nil {
		return err
	}
	defer closeProducer()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	producer.RegisterTextService(srv, p)

	logger.Info("text service listening", zap.String("addr", lis.Addr().String()), zap.String("provider", cfg.Producer.Provider))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(lis) })
	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		return nil
	})
	return g.Wait()
}
