// Package app wires the settlement service together from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iliamunaev/card-settlement/internal/config"
	"github.com/iliamunaev/card-settlement/internal/events"
	"github.com/iliamunaev/card-settlement/internal/metrics"
	"github.com/iliamunaev/card-settlement/internal/middleware"
	"github.com/iliamunaev/card-settlement/internal/payments"
	"github.com/iliamunaev/card-settlement/internal/service/gateway"
	"github.com/iliamunaev/card-settlement/internal/service/pool"
	"github.com/iliamunaev/card-settlement/internal/settlement"
	"github.com/iliamunaev/card-settlement/internal/store"
	httptransport "github.com/iliamunaev/card-settlement/internal/transport/http"
)

// App holds the long-lived components of the service.
type App struct {
	Config       *config.Config
	Store        store.Store
	Publisher    events.Publisher
	Metrics      *metrics.Collector
	Gateway      *gateway.Simulator
	Orchestrator *settlement.Orchestrator
	Payments     *payments.Service

	logger  *slog.Logger
	limiter *middleware.RateLimiter
	handler http.Handler
}

// New builds every component described by cfg. Connections to Redis and
// Kafka are established here, so New fails fast on unreachable backends.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app.New: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := cfg.Gateway.Policy()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	pub, err := openPublisher(cfg.Events)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New(metrics.DefaultNamespace)
	slots := pool.New(cfg.Gateway.Concurrency)
	gw := gateway.New(policy, gateway.NewRand(cfg.Gateway.Seed), slots)

	orch := settlement.New(settlement.Deps{
		Store:        st,
		Gateway:      gw,
		Publisher:    pub,
		Metrics:      m,
		Logger:       logger.With("component", "settlement"),
		WriteTimeout: cfg.Settlement.WriteTimeout,
	})
	svc := payments.New(st, pub, logger.With("component", "payments"))

	m.Gauge("payments_in_flight", "Payment requests being processed.", func() float64 {
		return float64(orch.Tracker().Running())
	})
	m.Gauge("gateway_slots_in_use", "Gateway authorizations in flight.", func() float64 {
		return float64(slots.InUse())
	})

	a := &App{
		Config:       cfg,
		Store:        st,
		Publisher:    pub,
		Metrics:      m,
		Gateway:      gw,
		Orchestrator: orch,
		Payments:     svc,
		logger:       logger,
	}
	if cfg.HTTP.RateLimitPerMinute > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitPerMinute, cfg.HTTP.RateLimitBurst)
	}
	a.handler = a.router(httptransport.New(orch, svc, cfg.HTTP.RequestTimeout))

	logger.Info("application ready",
		"store", cfg.Store.Backend,
		"events", cfg.Events.Backend,
		"gateway_concurrency", slots.Size(),
	)
	return a, nil
}

func (a *App) router(h *httptransport.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(a.logger.With("component", "http"), a.Metrics))
	r.Handle("/metrics", a.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.Handler)
		}
		h.Routes(r)
	})
	return r
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler { return a.handler }

// Close releases the publisher, the store and the rate limiter.
func (a *App) Close() error {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	return errors.Join(a.Publisher.Close(), a.Store.Close())
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreRedis:
		return store.OpenRedis(ctx, store.RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Backend {
	case config.EventsNone:
		return events.Nop{}, nil
	case config.EventsKafka:
		return events.DialKafka(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Timeout: cfg.Kafka.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
