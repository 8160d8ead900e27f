package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries"`

	ServerHost string `koanf:"server_host"`
	ServerPort int    `koanf:"server_port"`

	ObjectStoreDir  string        `koanf:"object_store_dir"`
	SignedURLSecret string        `koanf:"signed_url_secret"`
	SignedURLTTL    time.Duration `koanf:"signed_url_ttl"`

	// Device-local storage. NativeShell and StoragePermission describe the
	// runtime the capture client is embedded in; they drive the one-time
	// storage adapter selection at startup.
	CacheDir           string        `koanf:"cache_dir"`
	MaxCachedTours     int           `koanf:"max_cached_tours"`
	CacheTTL           time.Duration `koanf:"cache_ttl"`
	CacheSweepInterval time.Duration `koanf:"cache_sweep_interval"`
	NativeShell        bool          `koanf:"native_shell"`
	StoragePermission  bool          `koanf:"storage_permission"`

	// Backup pipeline.
	ItemsPerPart       int           `koanf:"items_per_part"`
	MaxQueueJobs       int           `koanf:"max_queue_jobs"`
	MaxAttempts        int           `koanf:"max_attempts"`
	StuckJobTimeout    time.Duration `koanf:"stuck_job_timeout"`
	WorkerPollInterval time.Duration `koanf:"worker_poll_interval"`

	Hostname string `koanf:"-"`
}

const configFileENV = "CONFIG_FILE"

// New loads configuration with the precedence env > config file > defaults.
func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        3,

		ServerHost: "0.0.0.0",
		ServerPort: 4780,

		ObjectStoreDir: "./tmp/objects",
		SignedURLTTL:   7 * 24 * time.Hour,

		CacheDir:           "./tmp/cache",
		MaxCachedTours:     3,
		CacheTTL:           7 * 24 * time.Hour,
		CacheSweepInterval: 30 * time.Minute,

		ItemsPerPart:       10,
		MaxQueueJobs:       5,
		MaxAttempts:        3,
		StuckJobTimeout:    30 * time.Minute,
		WorkerPollInterval: 5 * time.Second,

		Hostname: hostname,
	}

	k := koanf.New(".")

	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = "./config.yaml"
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	// Env vars use the koanf key upcased, e.g. DATABASE_FILE_PATH.
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	if cfg.DatabaseFilePath == "" {
		return nil, errors.New("missing required config: set DATABASE_FILE_PATH or database_file_path")
	}
	if cfg.SignedURLSecret == "" {
		return nil, errors.New("missing required config: set SIGNED_URL_SECRET or signed_url_secret")
	}

	return cfg, nil
}
