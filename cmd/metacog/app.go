package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/metacog/go-controller/internal/audit"
	"github.com/danielpatrickdp/metacog/go-controller/internal/config"
	"github.com/danielpatrickdp/metacog/go-controller/internal/logging"
	"github.com/danielpatrickdp/metacog/go-controller/internal/producer"
	"github.com/danielpatrickdp/metacog/go-controller/internal/session"
	"github.com/danielpatrickdp/metacog/go-controller/internal/telemetry"
)

// app holds the wired components shared by the session commands.
type app struct {
	store     session.KVStore
	registry  *session.Registry
	telemetry *telemetry.Collector

	closeProducer func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	p, closeProducer, err := producer.New(ctx, cfg.Producer, logger)
	if err != nil {
		return nil, err
	}
	store, err := session.OpenStore(ctx, cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN)
	if err != nil {
		_ = closeProducer()
		return nil, err
	}
	collector := telemetry.New()

	opts := []session.Option{
		session.WithStore(store),
		session.WithLoopConfig(cfg.Loop),
		session.WithStrict(cfg.Strict),
		session.WithPolicy(cfg.Policy),
		session.WithObserver(collector),
		session.WithLogger(logger),
	}
	// Only the SQLite store carries the audit_log table.
	if sq, ok := store.(*session.SQLiteStore); ok {
		opts = append(opts, session.WithAuditSink(func(id string) audit.Sink {
			return logging.Sink(sq.DB(), id, logger)
		}))
	}

	logger.Info("metacog ready",
		zap.String("producer", cfg.Producer.Provider),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("strict", cfg.Strict),
	)
	return &app{
		store:         store,
		registry:      session.NewRegistry(p, opts...),
		telemetry:     collector,
		closeProducer: closeProducer,
	}, nil
}

// Close flushes every live session and releases the store and producer.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.registry.SaveAll(ctx), a.release())
}

// release closes the store and producer without saving.
func (a *app) release() error {
	return errors.Join(a.registry.Close(), a.closeProducer())
}
