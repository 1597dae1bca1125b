package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the YAML config file location.
const PathEnvVar = "COURSESYNC_CONFIG"

var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/course-sync/config.yaml",
}

type Config struct {
	Canvas  CanvasConfig  `koanf:"canvas"`
	Catalog CatalogConfig `koanf:"catalog"`
	Sync    SyncConfig    `koanf:"sync"`
	Storage StorageConfig `koanf:"storage"`
	Notify  NotifyConfig  `koanf:"notify"`
	Media   MediaConfig   `koanf:"media"`
	SFTP    SFTPConfig    `koanf:"sftp"`
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
}

// CanvasConfig points at the remote catalog API. Domain and Token may be
// empty at load time; the client reports missing credentials when used.
type CanvasConfig struct {
	Domain   string        `koanf:"domain"`
	Token    string        `koanf:"token"`
	PageSize int           `koanf:"page_size" validate:"min=1,max=100"`
	MaxPages int           `koanf:"max_pages" validate:"min=1,max=500"`
	Timeout  time.Duration `koanf:"timeout" validate:"min=0"`
	// PageInterval paces successive page requests.
	PageInterval time.Duration `koanf:"page_interval" validate:"min=0"`
}

type CatalogConfig struct {
	URL      string        `koanf:"url" validate:"omitempty,url"`
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"min=0"`
	Timeout  time.Duration `koanf:"timeout" validate:"min=0"`

	// Fuzzy matching tunables.
	SimilarityThreshold float64 `koanf:"similarity_threshold" validate:"min=0,max=100"`
	LengthRatio         float64 `koanf:"length_ratio" validate:"min=0,max=1"`
	LongTitleMin        int     `koanf:"long_title_min" validate:"min=0"`
}

type SyncConfig struct {
	AutoSyncEnabled  bool          `koanf:"auto_sync_enabled"`
	Schedule         string        `koanf:"schedule" validate:"required"`
	ManualBatchLimit int           `koanf:"manual_batch_limit" validate:"min=1"`
	CleanupBatch     int           `koanf:"cleanup_batch" validate:"min=1"`
	StatusTTL        time.Duration `koanf:"status_ttl" validate:"min=0"`
	RunTimeout       time.Duration `koanf:"run_timeout" validate:"min=0"`
	Workers          int           `koanf:"workers" validate:"min=1,max=32"`
}

type StorageConfig struct {
	DBPath string `koanf:"db_path" validate:"required"`
	KVDir  string `koanf:"kv_dir"`
}

type NotifyConfig struct {
	Email        string `koanf:"email" validate:"omitempty,email"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port" validate:"min=0,max=65535"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPFrom     string `koanf:"smtp_from" validate:"omitempty,email"`
	UseTLS       bool   `koanf:"use_tls"`
	SiteURL      string `koanf:"site_url" validate:"omitempty,url"`
}

type MediaConfig struct {
	// Backend is "sftp", "dir" or "none" (keep the remote image URL).
	Backend       string `koanf:"backend" validate:"oneof=sftp dir none"`
	LocalDir      string `koanf:"local_dir"`
	PublicBaseURL string `koanf:"public_base_url"`
}

type SFTPConfig struct {
	Host                  string `koanf:"host"`
	Port                  int    `koanf:"port" validate:"min=0,max=65535"`
	User                  string `koanf:"user"`
	Pass                  string `koanf:"pass"`
	Dir                   string `koanf:"dir"`
	KnownHosts            string `koanf:"known_hosts"`
	InsecureIgnoreHostKey bool   `koanf:"insecure_ignore_host_key"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// Default returns the built-in configuration, before file and env overrides.
func Default() Config {
	return Config{
		Canvas: CanvasConfig{
			PageSize:     100,
			MaxPages:     50,
			Timeout:      60 * time.Second,
			PageInterval: 200 * time.Millisecond,
		},
		Catalog: CatalogConfig{
			CacheTTL:            time.Hour,
			Timeout:             30 * time.Second,
			SimilarityThreshold: 90,
			LengthRatio:         0.8,
			LongTitleMin:        15,
		},
		Sync: SyncConfig{
			Schedule:         "@weekly",
			ManualBatchLimit: 20,
			CleanupBatch:     100,
			StatusTTL:        10 * time.Minute,
			RunTimeout:       30 * time.Minute,
			Workers:          4,
		},
		Storage: StorageConfig{
			DBPath: "data/course-sync.db",
			KVDir:  "data/kv",
		},
		Notify: NotifyConfig{SMTPPort: 587, UseTLS: true},
		Media:  MediaConfig{Backend: "none"},
		SFTP:   SFTPConfig{Port: 22, Dir: "/"},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load layers defaults, an optional YAML file and environment variables
// (highest priority), then validates the result.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// HasCanvasCredentials reports whether the remote API can be called.
func (c Config) HasCanvasCredentials() bool {
	return strings.TrimSpace(c.Canvas.Domain) != "" && strings.TrimSpace(c.Canvas.Token) != ""
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKeys maps environment variable names to config keys. Variables not
// listed here are ignored so unrelated environment does not leak in.
var envKeys = map[string]string{
	"CANVAS_DOMAIN":        "canvas.domain",
	"CANVAS_API_TOKEN":     "canvas.token",
	"CANVAS_PAGE_SIZE":     "canvas.page_size",
	"CANVAS_MAX_PAGES":     "canvas.max_pages",
	"CANVAS_TIMEOUT":       "canvas.timeout",
	"CANVAS_PAGE_INTERVAL": "canvas.page_interval",

	"CATALOG_URL":                  "catalog.url",
	"CATALOG_CACHE_TTL":            "catalog.cache_ttl",
	"CATALOG_TIMEOUT":              "catalog.timeout",
	"CATALOG_SIMILARITY_THRESHOLD": "catalog.similarity_threshold",
	"CATALOG_LENGTH_RATIO":         "catalog.length_ratio",
	"CATALOG_LONG_TITLE_MIN":       "catalog.long_title_min",

	"AUTO_SYNC_ENABLED":  "sync.auto_sync_enabled",
	"SYNC_SCHEDULE":      "sync.schedule",
	"MANUAL_BATCH_LIMIT": "sync.manual_batch_limit",
	"CLEANUP_BATCH":      "sync.cleanup_batch",
	"SYNC_STATUS_TTL":    "sync.status_ttl",
	"SYNC_RUN_TIMEOUT":   "sync.run_timeout",
	"SYNC_WORKERS":       "sync.workers",

	"DB_PATH": "storage.db_path",
	"KV_DIR":  "storage.kv_dir",

	"NOTIFY_EMAIL":  "notify.email",
	"SMTP_HOST":     "notify.smtp_host",
	"SMTP_PORT":     "notify.smtp_port",
	"SMTP_USER":     "notify.smtp_user",
	"SMTP_PASSWORD": "notify.smtp_password",
	"SMTP_FROM":     "notify.smtp_from",
	"SMTP_USE_TLS":  "notify.use_tls",
	"SITE_URL":      "notify.site_url",

	"MEDIA_BACKEND":         "media.backend",
	"MEDIA_LOCAL_DIR":       "media.local_dir",
	"MEDIA_PUBLIC_BASE_URL": "media.public_base_url",

	"SFTP_HOST":                     "sftp.host",
	"SFTP_PORT":                     "sftp.port",
	"SFTP_USER":                     "sftp.user",
	"SFTP_PASS":                     "sftp.pass",
	"SFTP_DIR":                      "sftp.dir",
	"SFTP_KNOWN_HOSTS":              "sftp.known_hosts",
	"SFTP_INSECURE_IGNORE_HOST_KEY": "sftp.insecure_ignore_host_key",

	"HTTP_ADDR":  "server.addr",
	"LOG_LEVEL":  "log.level",
	"LOG_FORMAT": "log.format",
}

// envKey returns "" for variables koanf should skip.
func envKey(name string) string {
	return envKeys[strings.ToUpper(name)]
}
