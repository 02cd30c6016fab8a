// Package app assembles the sync service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mana-sync-service/internal/api"
	"mana-sync-service/internal/config"
	"mana-sync-service/internal/database"
	"mana-sync-service/internal/logger"
	"mana-sync-service/internal/metrics"
	"mana-sync-service/internal/notify"
	"mana-sync-service/internal/scryfall"
	"mana-sync-service/internal/store"
	"mana-sync-service/internal/sync"
)

type App struct {
	Config   *config.Config
	Store    store.Store
	Manager  *sync.Manager
	Registry *prometheus.Registry

	closers []func() error
}

// New opens the state storage and builds one orchestrator per configured
// collection. The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	notifier, err := a.newNotifier(cfg.Notify)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	syncMetrics := metrics.NewSyncMetrics(a.Registry)
	client := scryfall.NewClient(cfg.Source)

	orchestrators := make([]*sync.Orchestrator, 0, len(cfg.Sync.Collections))
	for _, coll := range cfg.Sync.Collections {
		source, err := newSource(client, coll)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		o, err := sync.NewOrchestrator(sync.Options{
			Collection:     coll.Name,
			Source:         source,
			Store:          st,
			FetchTimeout:   cfg.Sync.FetchTimeout,
			MaxDeleteRatio: coll.MaxDeleteRatio,
			Notifier:       notifier,
			Metrics:        syncMetrics,
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		orchestrators = append(orchestrators, o)
		logger.Log.Info("Configured collection",
			zap.String("collection", coll.Name),
			zap.String("source", source.Name()),
		)
	}

	a.Manager, err = sync.NewManager(orchestrators...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Handler returns the HTTP API including /metrics.
func (a *App) Handler() http.Handler {
	metricsHandler := promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
	return api.NewHandler(a.Manager, a.Store, metricsHandler).Routes()
}

// Scheduler returns the cron scheduler driving periodic runs.
func (a *App) Scheduler() *sync.Scheduler {
	return sync.NewScheduler(a.Config.Scheduler, a.Manager)
}

// Close waits for background cycles, then releases resources in reverse
// order of acquisition.
func (a *App) Close() error {
	var errs []error
	if a.Manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.Manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain sync cycles: %w", err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newNotifier(cfg config.NotifyConfig) (sync.Notifier, error) {
	notifiers := notify.Multi{notify.LogNotifier{}}
	if cfg.NATSURL == "" {
		return notifiers, nil
	}
	n, err := notify.NewNATSNotifier(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, n.Close)
	logger.Log.Info("Publishing sync outcomes to NATS", zap.String("subject", cfg.Subject))
	return append(notifiers, n), nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StateStorage.Type {
	case "mysql":
		db, err := database.NewDatabase(ctx, cfg.StateStorage)
		if err != nil {
			return nil, err
		}
		return store.NewMySQLStore(db, cfg.Sync.BatchInsertSize), nil
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.StateStorage)
		if err != nil {
			return nil, err
		}
		return store.NewPostgresStore(pool), nil
	case "memory":
		logger.Log.Warn("Using in-memory state storage, the comparison table will not survive restarts")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported state storage type %q", cfg.StateStorage.Type)
	}
}

func newSource(client *scryfall.Client, coll config.CollectionConfig) (sync.Source, error) {
	switch coll.Kind {
	case "symbols":
		return scryfall.NewSymbolSource(client), nil
	case "cards":
		return scryfall.NewCardSource(client, coll.Query), nil
	default:
		return nil, fmt.Errorf("%w: collection %s has unknown kind %q", sync.ErrInvalidConfig, coll.Name, coll.Kind)
	}
}
