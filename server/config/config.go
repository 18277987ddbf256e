// Package config loads the startup configuration surface. The router,
// OpenAPI surface, and health/metrics endpoints that
// would consume most of this are external collaborators; this
// package only owns parsing and validating the values they'd need.
package config

import (
	"os"

	"github.com/gear6io/icecatalog/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrConfigRead     = errors.MustNewCode("config.read_failed")
	ErrConfigParse    = errors.MustNewCode("config.parse_failed")
	ErrConfigValidate = errors.MustNewCode("config.validation_failed")
)

type Config struct {
	BaseURI              string   `yaml:"base_uri"`
	ListenAddress         string   `yaml:"listen_address"`
	ListenPort            int      `yaml:"listen_port"`
	MetricsPort           int      `yaml:"metrics_port"`
	EnableDefaultProject  bool     `yaml:"enable_default_project"`
	ReservedNamespaces    []string `yaml:"reserved_namespaces"`

	Postgres PostgresConfig `yaml:"postgres"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	AuthZ    AuthZConfig    `yaml:"authz"`
	OpenID   OpenIDConfig   `yaml:"openid"`
	Events   EventsConfig   `yaml:"events"`
	Queue    QueueConfig    `yaml:"queue"`
	Stats    StatsConfig    `yaml:"stats"`
	Debug    DebugConfig    `yaml:"debug"`
	Log      LogConfig      `yaml:"log"`
}

type PostgresConfig struct {
	URLRead       string `yaml:"url_read"`
	URLWrite      string `yaml:"url_write"`
	EncryptionKey string `yaml:"encryption_key"`
	PoolMaxConns  int    `yaml:"pool_max_conns"`
	SSLMode       string `yaml:"ssl_mode"`
	SSLRootCert   string `yaml:"ssl_root_cert"`
}

type SecretsConfig struct {
	Backend string `yaml:"backend"` // postgres | kv2
	URL     string `yaml:"url"`
	User    string `yaml:"user"`
	Password string `yaml:"password"`
	Mount   string `yaml:"mount"`
}

type AuthZConfig struct {
	Backend string `yaml:"backend"` // allowall | relation | policy
	PolicyDir string `yaml:"policy_dir"`
}

type OpenIDConfig struct {
	ProviderURI          string   `yaml:"provider_uri"`
	Audience             string   `yaml:"audience"`
	AdditionalIssuers    []string `yaml:"additional_issuers"`
	EnableKubernetesAuth bool     `yaml:"enable_kubernetes_authentication"`
}

type EventsConfig struct {
	Sink          string `yaml:"sink"` // none | nats | kafka | cloudevents-log
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic"`

	// ContractWebhookURL, when set, routes every proposed commit
	// through an external verifier before it is finalized.
	ContractWebhookURL string `yaml:"contract_webhook_url"`
}

type QueueConfig struct {
	MaxRetries   int `yaml:"max_retries"`
	MaxAgeSeconds int `yaml:"max_age_seconds"`
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

type StatsConfig struct {
	MaxEntries      int `yaml:"max_entries"`
	MaxAgeDays      int `yaml:"max_age_days"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
}

type DebugConfig struct {
	ExtendedLogs        bool `yaml:"extended_logs"`
	AuditTracingEnabled bool `yaml:"audit_tracing_enabled"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // json | console
	Console bool   `yaml:"console"`
}

func Default() *Config {
	return &Config{
		ListenAddress:        "0.0.0.0",
		ListenPort:           8181,
		MetricsPort:          9000,
		EnableDefaultProject: true,
		AuthZ:                AuthZConfig{Backend: "allowall"},
		Events:               EventsConfig{Sink: "none"},
		Queue:                QueueConfig{MaxRetries: 3, MaxAgeSeconds: 300, PollIntervalMs: 500},
		Stats:                StatsConfig{MaxEntries: 100_000, MaxAgeDays: 90, CleanupIntervalMinutes: 60},
		Log:                  LogConfig{Level: "info", Format: "console", Console: true},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrConfigRead, err, "failed to read config file").AddContext("path", path)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(ErrConfigParse, err, "failed to parse config file").AddContext("path", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Postgres.URLWrite == "" {
		return errors.New(ErrConfigValidate, "postgres.url_write is required")
	}
	if c.Postgres.URLRead == "" {
		c.Postgres.URLRead = c.Postgres.URLWrite
	}
	switch c.AuthZ.Backend {
	case "allowall", "relation", "policy":
	default:
		return errors.Newf(ErrConfigValidate, "unknown authz backend %q", c.AuthZ.Backend)
	}
	switch c.Events.Sink {
	case "none", "nats", "kafka", "cloudevents-log":
	default:
		return errors.Newf(ErrConfigValidate, "unknown event sink %q", c.Events.Sink)
	}
	switch c.Secrets.Backend {
	case "", "postgres", "kv2":
	default:
		return errors.Newf(ErrConfigValidate, "unknown secrets backend %q", c.Secrets.Backend)
	}
	return nil
}
