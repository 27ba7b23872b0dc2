package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-todo/config"
	"prism-todo/events"
	"prism-todo/offline"
	"prism-todo/storage"
	"prism-todo/store"
)

// runtime holds the backends selected by the config.
type runtime struct {
	cfg    config.Config
	logger *log.Logger
	redis  *redis.Client
	kv     storage.KV
	tables *storage.TablesKV
}

func openRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.SetLevel(cfg.Level())
	r := &runtime{cfg: cfg, logger: log.StandardLogger()}

	if cfg.RedisURL != "" {
		opts, err := config.RedisOptions(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		r.redis = redis.NewClient(opts)
	}

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		r.kv = storage.NewRedisKV(r.redis, cfg.Storage.Prefix)
	case config.BackendTables:
		tables, err := storage.NewTablesKV(cfg.Storage.TablesConnection, cfg.Storage.TablesTable, cfg.Storage.TablesPartition)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("tables: %w", err)
		}
		r.tables = tables
		r.kv = tables
	default:
		r.kv = storage.NewMemory()
	}
	return r, nil
}

func (r *runtime) Close() {
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.logger.WithError(err).Warn("close redis")
		}
	}
}

// ensureStorage creates the state table when the tables backend is used.
func (r *runtime) ensureStorage(ctx context.Context) error {
	if r.tables == nil {
		return nil
	}
	return r.tables.EnsureTable(ctx)
}

func (r *runtime) openApp(ctx context.Context) (*store.App, error) {
	if err := r.ensureStorage(ctx); err != nil {
		return nil, fmt.Errorf("ensure table: %w", err)
	}
	return store.NewApp(ctx, r.kv, store.Options{})
}

func (r *runtime) cacheStorage() offline.CacheStorage {
	if r.cfg.Worker.CacheBackend == config.BackendRedis {
		return offline.NewRedisCacheStorage(r.redis, r.cfg.Worker.CachePrefix)
	}
	return offline.NewMemoryCacheStorage()
}

// publisher fans worker events out to bus and, with Redis configured, to
// every other instance. The returned bridge must be run by the caller.
func (r *runtime) publisher(bus *events.Bus[events.WorkerEvent]) (events.Publisher, *events.RedisBridge) {
	if r.redis == nil {
		return events.Local{Bus: bus}, nil
	}
	bridge := events.NewRedisBridge(r.redis, r.cfg.Worker.EventsChannel, bus)
	return bridge, bridge
}

var errNoUpstream = errors.New("worker.upstream_url is not configured")

func (r *runtime) newWorker(cs offline.CacheStorage, pub events.Publisher) (*offline.Worker, error) {
	wc := r.cfg.Worker
	if wc.UpstreamURL == "" {
		return nil, errNoUpstream
	}
	origin, err := url.Parse(wc.UpstreamURL)
	if err != nil {
		return nil, err
	}
	var manifest []string
	if wc.ManifestFile != "" {
		if manifest, err = config.LoadManifest(wc.ManifestFile); err != nil {
			return nil, err
		}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = wc.FetchTimeout
	return offline.NewWorker(offline.Config{
		CacheName:   wc.CacheName,
		Manifest:    manifest,
		Origin:      origin,
		APIPrefixes: wc.APIPrefixes,
		APIKeywords: wc.APIKeywords,
		AppShell:    wc.AppShell,
		Transport:   transport,
		Storage:     cs,
		Events:      pub,
		Revalidate: offline.RevalidateConfig{
			Workers: wc.Revalidators,
			Timeout: wc.FetchTimeout,
		},
		Logger: r.logger,
	})
}
