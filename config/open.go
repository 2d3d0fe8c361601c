package config

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/polyvec"
	"github.com/kailas-cloud/polyvec/internal/logger"
	"github.com/kailas-cloud/polyvec/neostore"
	"github.com/kailas-cloud/polyvec/parquetstore"
	"github.com/kailas-cloud/polyvec/redisstore"
)

// Open constructs the configured store, instrumented with metrics and
// structured logging.
func Open(ctx context.Context, cfg Config) (polyvec.Store, error) {
	log, err := logger.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return OpenWithLogger(ctx, cfg, log)
}

// OpenWithLogger is Open with a caller-supplied logger.
func OpenWithLogger(ctx context.Context, cfg Config, log *zap.Logger) (polyvec.Store, error) {
	store, err := openDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	log.Info("store opened",
		zap.String("driver", cfg.Driver),
		zap.Bool("force_exact", cfg.ForceExact))

	instrumented, err := polyvec.Instrument(store, cfg.Driver, polyvec.WithLogger(log))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("instrument store: %w", err)
	}
	return instrumented, nil
}

func openDriver(ctx context.Context, cfg Config) (polyvec.Store, error) {
	switch cfg.Driver {
	case DriverRedis:
		return redisstore.New(redisstore.Config{
			Addrs:           cfg.Redis.Addrs,
			Username:        cfg.Redis.Username,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			KeyPrefix:       cfg.Redis.KeyPrefix,
			HNSWM:           cfg.Redis.HNSWM,
			HNSWEFConstruct: cfg.Redis.HNSWEFConstruct,
			EFRuntime:       cfg.Redis.EFRuntime,
			ForceExact:      cfg.ForceExact,
		})
	case DriverNeo4j:
		// Validated in Config.Validate; empty means driver default.
		acquisition, _ := time.ParseDuration(cfg.Neo4j.ConnAcquisitionTimeout)
		return neostore.New(ctx, neostore.Config{
			URI:                    cfg.Neo4j.URI,
			Username:               cfg.Neo4j.Username,
			Password:               cfg.Neo4j.Password,
			Database:               cfg.Neo4j.Database,
			LabelPrefix:            cfg.Neo4j.LabelPrefix,
			MaxConnPoolSize:        cfg.Neo4j.MaxConnPoolSize,
			ConnAcquisitionTimeout: acquisition,
			ForceExact:             cfg.ForceExact,
		})
	case DriverParquet:
		return parquetstore.New(parquetstore.Config{Dir: cfg.Parquet.Dir})
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
