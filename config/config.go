package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Environment       string `mapstructure:"SB_ENVIRONMENT"`
	ServerName        string `mapstructure:"SB_SERVER_NAME"`
	ServerAddress     string `mapstructure:"SB_SERVER_BIND_ADDR"`
	ServerReadTimeout int16  `mapstructure:"SB_SERVER_READ_TIMEOUT"`
	LogFormat         string `mapstructure:"SB_LOG_FORMAT"` // text or json
	LogLevel          string `mapstructure:"SB_LOG_LEVEL"`  // debug, info, warn, error
	RateLimitMax      int    `mapstructure:"SB_RATE_LIMIT_MAX"`
	RateLimitWindow   int    `mapstructure:"SB_RATE_LIMIT_WINDOW"`

	DbHost           string `mapstructure:"SB_DB_HOST"`
	DbPort           int16  `mapstructure:"SB_DB_PORT"`
	DbSSLMode        string `mapstructure:"SB_DB_SSL"`
	DbUser           string `mapstructure:"SB_DB_USER"`
	DbPassword       string `mapstructure:"SB_DB_PASSWORD"`
	DbDatabaseName   string `mapstructure:"SB_DB_DATABASE"`
	DbMaxConnections int    `mapstructure:"SB_DB_MAX_CONNECTIONS"`

	OtlpEndpoint   string `mapstructure:"SB_OTLP_ENDPOINT"`
	JaegerEndpoint string `mapstructure:"SB_JAEGER_ENDPOINT"`

	// OpenAI Configuration
	OpenAIAPIKey          string  `mapstructure:"SB_OPENAI_API_KEY"`
	OpenAIModel           string  `mapstructure:"SB_OPENAI_MODEL"`
	OpenAIBaseURL         string  `mapstructure:"SB_OPENAI_BASE_URL"`
	OpenAIMaxTokens       int     `mapstructure:"SB_OPENAI_MAX_TOKENS"`
	OpenAITemperature     float64 `mapstructure:"SB_OPENAI_TEMPERATURE"`
	OpenAIUseResponsesAPI bool    `mapstructure:"SB_OPENAI_USE_RESPONSES_API"`
	OpenAIStore           bool    `mapstructure:"SB_OPENAI_STORE"`
	OpenAIReasoningEffort string  `mapstructure:"SB_OPENAI_REASONING_EFFORT"`

	// Mail Source Configuration
	MailHost         string `mapstructure:"SB_MAIL_IMAP_HOST"`
	MailPort         int16  `mapstructure:"SB_MAIL_IMAP_PORT"`
	MailUser         string `mapstructure:"SB_MAIL_USER"`
	MailPassword     string `mapstructure:"SB_MAIL_PASSWORD"`
	MailFolder       string `mapstructure:"SB_MAIL_FOLDER"`
	MailLookbackDays int    `mapstructure:"SB_MAIL_LOOKBACK_DAYS"`

	// Collector Configuration
	PromptsDir        string `mapstructure:"SB_PROMPTS_DIR"`
	ParserHint        string `mapstructure:"SB_PARSER_HINT"` // "auto" or a registered parser name
	ClassifyBatchSize int    `mapstructure:"SB_CLASSIFY_BATCH_SIZE"`
	AICallTimeout     int    `mapstructure:"SB_AI_CALL_TIMEOUT"` // seconds, applied per call
}

// DefaultConfig generates a config with sane defaults.
// See: The example .env file in the package docs for default values.
func DefaultConfig() Config {
	return Config{
		Environment:       "local",
		ServerAddress:     "0.0.0.0:3001",
		ServerReadTimeout: 60,
		LogFormat:         "text",
		LogLevel:          "info",
		RateLimitMax:      100,
		RateLimitWindow:   30,

		DbHost:           "localhost",
		DbPort:           5432,
		DbSSLMode:        "disable",
		DbUser:           "postgres",
		DbPassword:       "postgres",
		DbDatabaseName:   "smart-basket",
		DbMaxConnections: 100,

		OtlpEndpoint:   "localhost:4317",
		JaegerEndpoint: "http://localhost:14268/api/traces",

		// OpenAI defaults
		OpenAIAPIKey:          "",
		OpenAIModel:           "gpt-5-nano",
		OpenAIBaseURL:         "https://api.openai.com/v1",
		OpenAIMaxTokens:       1500,
		OpenAITemperature:     0.1,
		OpenAIUseResponsesAPI: true,
		OpenAIStore:           true,
		OpenAIReasoningEffort: "medium",

		// Mail source defaults
		MailHost:         "",
		MailPort:         993,
		MailUser:         "",
		MailPassword:     "",
		MailFolder:       "INBOX",
		MailLookbackDays: 30,

		// Collector defaults
		PromptsDir:        "prompts",
		ParserHint:        "auto",
		ClassifyBatchSize: 5,
		AICallTimeout:     45,
	}
}

// LoadConfig will attempt to load a configuration from the default file location and fallback to environment variables.
func LoadConfig() (Config, error) {
	envFile := os.Getenv("SB_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	var cfg Config
	var err error

	if _, err = os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
		cfg, err = ConfigFromEnvironment()
	} else {
		// Load configuration
		cfg, err = ConfigFromFile(envFile)
	}

	return cfg, err
}

// ConfigFromEnvironment will look for the specified configuration from environment variables
// See package docs for a list of available environment variables.
func ConfigFromEnvironment() (config Config, err error) {
	// Set defaults
	config = DefaultConfig()
	viper.SetDefault("SB_ENVIRONMENT", config.Environment)
	viper.SetDefault("SB_SERVER_BIND_ADDR", config.ServerAddress)
	viper.SetDefault("SB_SERVER_READ_TIMEOUT", config.ServerReadTimeout)
	viper.SetDefault("SB_LOG_LEVEL", config.LogLevel)
	viper.SetDefault("SB_LOG_FORMAT", config.LogFormat)
	viper.SetDefault("SB_RATE_LIMIT_MAX", config.RateLimitMax)
	viper.SetDefault("SB_RATE_LIMIT_WINDOW", config.RateLimitWindow)
	viper.SetDefault("SB_DB_HOST", config.DbHost)
	viper.SetDefault("SB_DB_PORT", config.DbPort)
	viper.SetDefault("SB_DB_SSL", config.DbSSLMode)
	viper.SetDefault("SB_DB_USER", config.DbUser)
	viper.SetDefault("SB_DB_PASSWORD", config.DbPassword)
	viper.SetDefault("SB_DB_DATABASE", config.DbDatabaseName)
	viper.SetDefault("SB_DB_MAX_CONNECTIONS", config.DbMaxConnections)
	viper.SetDefault("SB_OTLP_ENDPOINT", config.OtlpEndpoint)
	viper.SetDefault("SB_JAEGER_ENDPOINT", config.JaegerEndpoint)
	viper.SetDefault("SB_OPENAI_API_KEY", config.OpenAIAPIKey)
	viper.SetDefault("SB_OPENAI_MODEL", config.OpenAIModel)
	viper.SetDefault("SB_OPENAI_BASE_URL", config.OpenAIBaseURL)
	viper.SetDefault("SB_OPENAI_MAX_TOKENS", config.OpenAIMaxTokens)
	viper.SetDefault("SB_OPENAI_TEMPERATURE", config.OpenAITemperature)
	viper.SetDefault("SB_OPENAI_USE_RESPONSES_API", config.OpenAIUseResponsesAPI)
	viper.SetDefault("SB_OPENAI_STORE", config.OpenAIStore)
	viper.SetDefault("SB_OPENAI_REASONING_EFFORT", config.OpenAIReasoningEffort)
	viper.SetDefault("SB_MAIL_IMAP_HOST", config.MailHost)
	viper.SetDefault("SB_MAIL_IMAP_PORT", config.MailPort)
	viper.SetDefault("SB_MAIL_USER", config.MailUser)
	viper.SetDefault("SB_MAIL_PASSWORD", config.MailPassword)
	viper.SetDefault("SB_MAIL_FOLDER", config.MailFolder)
	viper.SetDefault("SB_MAIL_LOOKBACK_DAYS", config.MailLookbackDays)
	viper.SetDefault("SB_PROMPTS_DIR", config.PromptsDir)
	viper.SetDefault("SB_PARSER_HINT", config.ParserHint)
	viper.SetDefault("SB_CLASSIFY_BATCH_SIZE", config.ClassifyBatchSize)
	viper.SetDefault("SB_AI_CALL_TIMEOUT", config.AICallTimeout)

	// Override config values with environment variables
	viper.AutomaticEnv()
	err = viper.Unmarshal(&config)
	return
}

// ConfigFromFile will look for the specified configuration file in the current directory and initialize
// a Config from it. Values provided by environment variables will override ones found in
// the file. See package docs for a list of available environment variables.
func ConfigFromFile(f string) (config Config, err error) {
	if config, err = ConfigFromEnvironment(); err != nil {
		return
	}

	viper.AddConfigPath(".")
	viper.SetConfigFile(f)
	viper.SetConfigType("env")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)

	return
}

// Fiber initializes and returns a Fiber config based on server config values.
// See https://docs.gofiber.io/api/fiber#config
func (c Config) Fiber() fiber.Config {
	return fiber.Config{
		ReadTimeout: time.Second * time.Duration(c.ServerReadTimeout),
	}
}

// DbConnectionString generates a connection string for the database based on config values.
func (c Config) DbConnectionString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s", c.DbUser, url.QueryEscape(c.DbPassword), c.DbHost, c.DbPort, c.DbDatabaseName, c.DbSSLMode)
}

// GetSlogLevel converts the string log level to slog.Level.
func (c Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo // default fallback
	}
}

// GetOpenAIConfig converts config values to OpenAI configuration struct.
func (c Config) GetOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		APIKey:          c.OpenAIAPIKey,
		Model:           c.OpenAIModel,
		BaseURL:         c.OpenAIBaseURL,
		MaxTokens:       c.OpenAIMaxTokens,
		Temperature:     c.OpenAITemperature,
		UseResponsesAPI: c.OpenAIUseResponsesAPI,
		Store:           c.OpenAIStore,
		ReasoningEffort: c.OpenAIReasoningEffort,
		CallTimeout:     time.Duration(c.AICallTimeout) * time.Second,
	}
}

// OpenAIConfig holds OpenAI client configuration
type OpenAIConfig struct {
	APIKey          string
	Model           string // e.g., "gpt-5", "gpt-5-nano"
	BaseURL         string // for switching to local models later
	MaxTokens       int
	Temperature     float64
	UseResponsesAPI bool   // Use new Responses API instead of Chat Completions
	Store           bool   // Enable stateful context reuse across a collection run
	ReasoningEffort string // "low", "medium", "high" for GPT-5 reasoning
	CallTimeout     time.Duration
}

// GetMailConfig converts config values to mail source configuration struct.
func (c Config) GetMailConfig() MailConfig {
	return MailConfig{
		Host:         c.MailHost,
		Port:         c.MailPort,
		User:         c.MailUser,
		Password:     c.MailPassword,
		Folder:       c.MailFolder,
		LookbackDays: c.MailLookbackDays,
	}
}

// MailConfig holds IMAP mail source configuration
type MailConfig struct {
	Host         string
	Port         int16
	User         string
	Password     string
	Folder       string
	LookbackDays int
}

// GetCollectorConfig converts config values to collector configuration struct.
func (c Config) GetCollectorConfig() CollectorConfig {
	return CollectorConfig{
		PromptsDir:        c.PromptsDir,
		ParserHint:        c.ParserHint,
		ClassifyBatchSize: c.ClassifyBatchSize,
	}
}

// CollectorConfig holds collection run configuration
type CollectorConfig struct {
	PromptsDir        string
	ParserHint        string
	ClassifyBatchSize int
}
