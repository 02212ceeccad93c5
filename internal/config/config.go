package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Crawler    CrawlerConfig    `yaml:"crawler" mapstructure:"crawler"`
	Robots     RobotsConfig     `yaml:"robots" mapstructure:"robots"`
	Kafka      KafkaConfig      `yaml:"kafka" mapstructure:"kafka"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Minio      MinioConfig      `yaml:"minio" mapstructure:"minio"`
	OpenSearch OpenSearchConfig `yaml:"opensearch" mapstructure:"opensearch"`
	Neo4j      Neo4jConfig      `yaml:"neo4j" mapstructure:"neo4j"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run/signal persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CrawlerConfig configures fetch behavior and per-domain politeness.
type CrawlerConfig struct {
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	DelaySeconds float64 `yaml:"delay_seconds" mapstructure:"delay_seconds"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTextChars int     `yaml:"max_text_chars" mapstructure:"max_text_chars"`
	MaxLinks     int     `yaml:"max_links" mapstructure:"max_links"`
	MaxJobs      int     `yaml:"max_jobs" mapstructure:"max_jobs"`
}

// Delay returns the per-domain minimum inter-request interval.
func (c CrawlerConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect      bool `yaml:"respect" mapstructure:"respect"`
	TimeoutSecs  int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLMins int  `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
}

// CacheTTL returns the robots cache lifetime. Zero means entries never
// expire inside a process lifetime.
func (c RobotsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMins) * time.Minute
}

// KafkaConfig configures the message stream.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	GroupID string   `yaml:"group_id" mapstructure:"group_id"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// MinioConfig holds object store settings for proposal documents.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Secure    bool   `yaml:"secure" mapstructure:"secure"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
}

// OpenSearchConfig holds search index settings.
type OpenSearchConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// Neo4jConfig holds graph store settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
}

// ScoringConfig configures dispatcher thresholds.
type ScoringConfig struct {
	HighValueThreshold float64 `yaml:"high_value_threshold" mapstructure:"high_value_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SIGNALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "signals.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("crawler.user_agent", "LeadQualificationBot/1.0 (polite crawler; +https://sellsgroup.com/bot)")
	v.SetDefault("crawler.delay_seconds", 1.0)
	v.SetDefault("crawler.timeout_secs", 30)
	v.SetDefault("crawler.max_text_chars", 10000)
	v.SetDefault("crawler.max_links", 50)
	v.SetDefault("crawler.max_jobs", 50)
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.timeout_secs", 10)
	v.SetDefault("robots.cache_ttl_mins", 0)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "lead-qualification-workers")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("minio.bucket", "proposals")
	v.SetDefault("scoring.high_value_threshold", 80)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
