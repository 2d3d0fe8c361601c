package polyvec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// InstrumentOption configures Instrument.
type InstrumentOption interface {
	apply(*instrumentConfig)
}

type instrumentOptionFunc func(*instrumentConfig)

func (f instrumentOptionFunc) apply(c *instrumentConfig) { f(c) }

type instrumentConfig struct {
	logger  *zap.Logger
	backend string
	reg     prometheus.Registerer
}

// WithLogger enables structured operation logging. Pass nil to disable
// (default).
func WithLogger(l *zap.Logger) InstrumentOption {
	return instrumentOptionFunc(func(c *instrumentConfig) { c.logger = l })
}

// WithRegisterer registers operation count and duration metrics on the
// given registerer. Pass nil to disable (default).
func WithRegisterer(reg prometheus.Registerer) InstrumentOption {
	return instrumentOptionFunc(func(c *instrumentConfig) { c.reg = reg })
}

// WithBackendLabel overrides the backend label on metrics and log fields.
// Defaults to the adapter name derived from Capabilities.
func WithBackendLabel(name string) InstrumentOption {
	return instrumentOptionFunc(func(c *instrumentConfig) { c.backend = name })
}

// storeMetrics holds prometheus metrics registered for instrumented stores.
type storeMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newStoreMetrics(reg prometheus.Registerer) (*storeMetrics, error) {
	m := &storeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polyvec",
			Name:      "operations_total",
			Help:      "Total store operations by backend, operation and status.",
		}, []string{"backend", "operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "polyvec",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector or reuses an existing one.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			existing, ok := are.ExistingCollector.(T)
			if !ok {
				return fmt.Errorf("polyvec: metric already registered with incompatible type: %T", are.ExistingCollector)
			}
			*c = existing
			return nil
		}
		return fmt.Errorf("polyvec: register metric: %w", err)
	}
	return nil
}

// Instrument wraps a Store so every operation is logged and measured.
// The wrapped store forwards Capabilities, Ping and Close untouched.
func Instrument(s Store, backend string, opts ...InstrumentOption) (Store, error) {
	cfg := &instrumentConfig{backend: backend}
	for _, o := range opts {
		o.apply(cfg)
	}
	var m *storeMetrics
	if cfg.reg != nil {
		var err error
		m, err = newStoreMetrics(cfg.reg)
		if err != nil {
			return nil, err
		}
	}
	return &instrumentedStore{
		inner:   s,
		backend: cfg.backend,
		logger:  cfg.logger,
		metrics: m,
	}, nil
}

type instrumentedStore struct {
	inner   Store
	backend string
	logger  *zap.Logger
	metrics *storeMetrics
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	dur := time.Since(start)

	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.operations.WithLabelValues(s.backend, op, status).Inc()
		s.metrics.duration.WithLabelValues(s.backend, op).Observe(dur.Seconds())
	}

	if s.logger != nil {
		if err != nil {
			s.logger.Warn("store operation failed",
				zap.String("backend", s.backend),
				zap.String("op", op),
				zap.Duration("duration", dur),
				zap.Error(err),
			)
		} else {
			s.logger.Debug("store operation completed",
				zap.String("backend", s.backend),
				zap.String("op", op),
				zap.Duration("duration", dur),
			)
		}
	}
}

func (s *instrumentedStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	start := time.Now()
	err := s.inner.CreateCollection(ctx, spec)
	s.observe("create_collection", start, err)
	return err
}

func (s *instrumentedStore) DropCollection(ctx context.Context, name string) error {
	start := time.Now()
	err := s.inner.DropCollection(ctx, name)
	s.observe("drop_collection", start, err)
	return err
}

func (s *instrumentedStore) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	start := time.Now()
	ids, err := s.inner.Add(ctx, collection, docs)
	s.observe("add", start, err)
	return ids, err
}

func (s *instrumentedStore) Update(ctx context.Context, collection, id string, p Patch) error {
	start := time.Now()
	err := s.inner.Update(ctx, collection, id, p)
	s.observe("update", start, err)
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	start := time.Now()
	n, err := s.inner.Delete(ctx, collection, ids)
	s.observe("delete", start, err)
	return n, err
}

func (s *instrumentedStore) Get(ctx context.Context, collection string, ids []string) ([]*Document, error) {
	start := time.Now()
	docs, err := s.inner.Get(ctx, collection, ids)
	s.observe("get", start, err)
	return docs, err
}

func (s *instrumentedStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.Exists(ctx, collection, id)
	s.observe("exists", start, err)
	return ok, err
}

func (s *instrumentedStore) Count(ctx context.Context, collection string, f Filter) (int, error) {
	start := time.Now()
	n, err := s.inner.Count(ctx, collection, f)
	s.observe("count", start, err)
	return n, err
}

func (s *instrumentedStore) Search(ctx context.Context, collection string, q SimilarityQuery) ([]Match, error) {
	start := time.Now()
	matches, err := s.inner.Search(ctx, collection, q)
	s.observe("search", start, err)
	return matches, err
}

func (s *instrumentedStore) Capabilities() Capabilities { return s.inner.Capabilities() }

func (s *instrumentedStore) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

func (s *instrumentedStore) Close() error { return s.inner.Close() }
