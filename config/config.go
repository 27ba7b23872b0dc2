package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendTables = "tables"
)

type StorageConfig struct {
	Backend string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"memory"`
	// Prefix namespaces the keys when the backend is redis.
	Prefix           string `yaml:"prefix" env:"STORAGE_PREFIX" env-default:"todo-app"`
	TablesConnection string `yaml:"tables_connection_string" env:"STORAGE_CONNECTION_STRING"`
	TablesTable      string `yaml:"tables_table" env:"STATE_TABLE" env-default:"todoappstate"`
	TablesPartition  string `yaml:"tables_partition" env:"STATE_PARTITION" env-default:"local"`
}

type WorkerConfig struct {
	// UpstreamURL is the origin serving the app shell. Empty disables the worker.
	UpstreamURL   string        `yaml:"upstream_url" env:"UPSTREAM_URL"`
	CacheName     string        `yaml:"cache_name" env:"CACHE_NAME" env-default:"todo-app-v2"`
	CacheBackend  string        `yaml:"cache_backend" env:"CACHE_BACKEND" env-default:"memory"`
	CachePrefix   string        `yaml:"cache_prefix" env:"CACHE_PREFIX" env-default:"offline"`
	APIPrefixes   []string      `yaml:"api_prefixes" env:"API_PREFIXES" env-default:"/api/"`
	APIKeywords   []string      `yaml:"api_keywords" env:"API_KEYWORDS" env-default:"notification"`
	AppShell      string        `yaml:"app_shell" env:"APP_SHELL" env-default:"/index.html"`
	ManifestFile  string        `yaml:"manifest_file" env:"MANIFEST_FILE"`
	EventsChannel string        `yaml:"events_channel" env:"EVENTS_CHANNEL" env-default:"todo-app:worker-events"`
	Revalidators  int           `yaml:"revalidators" env:"REVALIDATORS" env-default:"4"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" env-default:"30s"`
}

type Config struct {
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Debug      bool   `yaml:"debug" env:"DEBUG" env-default:"false"`
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080"`
	// RedisURL is a redis:// URL or "host:port,password=...,ssl=true".
	RedisURL       string        `yaml:"redis_url" env:"REDIS_CONNECTION_STRING"`
	SearchDebounce time.Duration `yaml:"search_debounce" env:"SEARCH_DEBOUNCE" env-default:"0s"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"DEDUPER_TTL" env-default:"24h"`
	Storage        StorageConfig `yaml:"storage"`
	Worker         WorkerConfig  `yaml:"worker"`
}

// Load reads the YAML file at path, then applies env overrides. A missing
// file or an empty path reads the environment only.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		err := cleanenv.ReadConfig(path, &cfg)
		if err == nil {
			return cfg, cfg.Validate()
		}
		var pe *os.PathError
		if !errors.As(err, &pe) {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		log.WithField("path", path).Debug("config file not found, using env")
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("storage backend redis requires redis_url")
		}
	case BackendTables:
		if c.Storage.TablesConnection == "" {
			return errors.New("storage backend tables requires tables_connection_string")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Worker.CacheBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("cache backend redis requires redis_url")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Worker.CacheBackend)
	}
	if c.Worker.UpstreamURL != "" {
		u, err := url.Parse(c.Worker.UpstreamURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid upstream_url %q", c.Worker.UpstreamURL)
		}
	}
	return nil
}

// Level returns the logrus level to run at. Debug wins over log_level.
func (c Config) Level() log.Level {
	if c.Debug {
		return log.DebugLevel
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// RedisOptions parses a redis:// URL, falling back to the
// "host:port,password=secret,ssl=true" connection string form.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

type manifestFile struct {
	Assets []string `yaml:"assets"`
}

// LoadManifest reads the precache list from a YAML file holding either a
// plain list of URLs or an "assets" key.
func LoadManifest(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := yaml.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var mf manifestFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse manifest %q: %w", path, err)
	}
	return mf.Assets, nil
}
