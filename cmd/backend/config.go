package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/hairizuan-noorazman/testflow/resilience"
	"github.com/hairizuan-noorazman/testflow/router"
	"github.com/hairizuan-noorazman/testflow/testcase"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Log        LogConfig
	Versioning VersioningConfig
	Router     RouterConfig
	Resilience ResilienceConfig
	Classifier ClassifierConfig
	Backends   BackendsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver       string // "mysql" or "sqlite"
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
}

// StorageConfig holds blob storage configuration for evidence.
type StorageConfig struct {
	Type            string        // "local" or "s3"
	BaseDir         string        // For local: "./evidence"
	S3Bucket        string        // For S3: bucket name
	S3Region        string        // For S3: AWS region
	S3Prefix        string        // For S3: key prefix
	S3PresignExpiry time.Duration // Presigned URL expiration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// VersioningConfig tunes the version manager.
type VersioningConfig struct {
	SimilarityThreshold    float64
	NearDuplicateThreshold float64
	SimilarityMaxRunes     int
	CommitRetries          int
}

// RouterConfig tunes the execution router.
type RouterConfig struct {
	Workers           int
	ContinueOnFailure bool
	DispatchRate      float64
	DispatchBurst     int
	Keywords          map[testcase.Type][]string
}

// ResilienceConfig is the retry policy applied to every step.
type ResilienceConfig struct {
	MaxAttempts    int
	Backoff        string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// ClassifierConfig configures the Bedrock step classifier.
type ClassifierConfig struct {
	Enabled   bool
	Region    string
	Model     string
	MaxTokens int
}

// BackendsConfig configures the bundled executors. An executor is
// registered only when its section is configured.
type BackendsConfig struct {
	APIBaseURL      string
	APITimeout      time.Duration
	BrowserEnabled  bool
	BrowserControl  string
	BrowserHeadless bool
	DatabaseDriver  string
	DatabaseDSN     string
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "testflow")
	v.SetDefault("database.sqlite_path", "testflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_dir", "./evidence")
	v.SetDefault("storage.s3_bucket", "")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_prefix", "evidence")
	v.SetDefault("storage.s3_presign_expiry", "15m")

	v.SetDefault("log.level", "info")

	v.SetDefault("versioning.similarity_threshold", 0.8)
	v.SetDefault("versioning.near_duplicate_threshold", 0.9)
	v.SetDefault("versioning.similarity_max_runes", 20000)
	v.SetDefault("versioning.commit_retries", 5)

	v.SetDefault("router.workers", 4)
	v.SetDefault("router.continue_on_failure", false)
	v.SetDefault("router.dispatch_rate", 0)
	v.SetDefault("router.dispatch_burst", 1)
	for t, words := range router.DefaultRules() {
		v.SetDefault("router.keywords."+string(t), words)
	}

	policy := resilience.DefaultPolicy()
	v.SetDefault("resilience.max_attempts", policy.MaxAttempts)
	v.SetDefault("resilience.backoff", string(policy.Backoff))
	v.SetDefault("resilience.initial_backoff", policy.InitialBackoff.String())
	v.SetDefault("resilience.max_backoff", policy.MaxBackoff.String())
	v.SetDefault("resilience.multiplier", policy.Multiplier)
	v.SetDefault("resilience.attempt_timeout", policy.AttemptTimeout.String())

	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.region", "us-east-1")
	v.SetDefault("classifier.model", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("classifier.max_tokens", 16)

	v.SetDefault("backends.api.base_url", "")
	v.SetDefault("backends.api.timeout", "30s")
	v.SetDefault("backends.browser.enabled", false)
	v.SetDefault("backends.browser.control_url", "")
	v.SetDefault("backends.browser.headless", true)
	v.SetDefault("backends.database.driver", "mysql")
	v.SetDefault("backends.database.dsn", "")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults
	}

	// Parse configuration
	var config Config

	config.Server.Host = v.GetString("server.host")
	config.Server.Port = v.GetInt("server.port")
	config.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	config.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	config.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")

	config.Database.Driver = v.GetString("database.driver")
	config.Database.Host = v.GetString("database.host")
	config.Database.Port = v.GetInt("database.port")
	config.Database.User = v.GetString("database.user")
	config.Database.Password = v.GetString("database.password")
	config.Database.Database = v.GetString("database.database")
	config.Database.SQLitePath = v.GetString("database.sqlite_path")
	config.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	config.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")

	config.Storage.Type = v.GetString("storage.type")
	config.Storage.BaseDir = v.GetString("storage.base_dir")
	config.Storage.S3Bucket = v.GetString("storage.s3_bucket")
	config.Storage.S3Region = v.GetString("storage.s3_region")
	config.Storage.S3Prefix = v.GetString("storage.s3_prefix")
	config.Storage.S3PresignExpiry = v.GetDuration("storage.s3_presign_expiry")

	config.Log.Level = v.GetString("log.level")

	config.Versioning.SimilarityThreshold = v.GetFloat64("versioning.similarity_threshold")
	config.Versioning.NearDuplicateThreshold = v.GetFloat64("versioning.near_duplicate_threshold")
	config.Versioning.SimilarityMaxRunes = v.GetInt("versioning.similarity_max_runes")
	config.Versioning.CommitRetries = v.GetInt("versioning.commit_retries")

	config.Router.Workers = v.GetInt("router.workers")
	config.Router.ContinueOnFailure = v.GetBool("router.continue_on_failure")
	config.Router.DispatchRate = v.GetFloat64("router.dispatch_rate")
	config.Router.DispatchBurst = v.GetInt("router.dispatch_burst")
	config.Router.Keywords = make(map[testcase.Type][]string)
	for _, t := range testcase.Types {
		config.Router.Keywords[t] = v.GetStringSlice("router.keywords." + string(t))
	}

	config.Resilience.MaxAttempts = v.GetInt("resilience.max_attempts")
	config.Resilience.Backoff = v.GetString("resilience.backoff")
	config.Resilience.InitialBackoff = v.GetDuration("resilience.initial_backoff")
	config.Resilience.MaxBackoff = v.GetDuration("resilience.max_backoff")
	config.Resilience.Multiplier = v.GetFloat64("resilience.multiplier")
	config.Resilience.AttemptTimeout = v.GetDuration("resilience.attempt_timeout")

	config.Classifier.Enabled = v.GetBool("classifier.enabled")
	config.Classifier.Region = v.GetString("classifier.region")
	config.Classifier.Model = v.GetString("classifier.model")
	config.Classifier.MaxTokens = v.GetInt("classifier.max_tokens")

	config.Backends.APIBaseURL = v.GetString("backends.api.base_url")
	config.Backends.APITimeout = v.GetDuration("backends.api.timeout")
	config.Backends.BrowserEnabled = v.GetBool("backends.browser.enabled")
	config.Backends.BrowserControl = v.GetString("backends.browser.control_url")
	config.Backends.BrowserHeadless = v.GetBool("backends.browser.headless")
	config.Backends.DatabaseDriver = v.GetString("backends.database.driver")
	config.Backends.DatabaseDSN = v.GetString("backends.database.dsn")

	return &config, nil
}

// Policy converts the resilience section into a retry policy.
func (c ResilienceConfig) Policy() (resilience.Policy, error) {
	kind, err := resilience.ParseBackoffKind(c.Backoff)
	if err != nil {
		return resilience.Policy{}, err
	}
	return resilience.Policy{
		MaxAttempts:    c.MaxAttempts,
		Backoff:        kind,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		Multiplier:     c.Multiplier,
		AttemptTimeout: c.AttemptTimeout,
	}, nil
}

// Config converts the router section. Types with no configured
// keywords keep the built-in ones.
func (c RouterConfig) Config() router.Config {
	rules := router.DefaultRules()
	for t, words := range c.Keywords {
		if len(words) > 0 {
			rules[t] = words
		}
	}
	return router.Config{
		Workers:           c.Workers,
		ContinueOnFailure: c.ContinueOnFailure,
		Rules:             rules,
		DispatchRate:      c.DispatchRate,
		DispatchBurst:     c.DispatchBurst,
	}
}
