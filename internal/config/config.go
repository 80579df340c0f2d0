// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Planner     PlannerConfig     `yaml:"planner"`
	Trading     TradingConfig     `yaml:"trading"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Server      ServerConfig      `yaml:"server"`
	Alert       AlertConfig       `yaml:"alert"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	LogLevel     string `yaml:"log_level"`
	DatabasePath string `yaml:"database_path"`
}

// ExchangeConfig contains Coinbase Advanced Trade API settings
type ExchangeConfig struct {
	APIKey       string  `yaml:"api_key"`
	APISecret    string  `yaml:"api_secret"`
	SigningAlgo  string  `yaml:"signing_algorithm"`
	BaseURL      string  `yaml:"base_url"`
	RateLimit    float64 `yaml:"rate_limit"`
	RateBurst    int     `yaml:"rate_burst"`
	TimeoutSecs  int     `yaml:"timeout_seconds"`
	UseMock      bool    `yaml:"use_mock"`
	MakerFeeRate float64 `yaml:"maker_fee_rate"`
	TakerFeeRate float64 `yaml:"taker_fee_rate"`
}

// PlannerConfig contains LLM planner settings
type PlannerConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_seconds"`
	StubMode    bool    `yaml:"stub_mode"`
	MaxAttempts int     `yaml:"max_attempts"`
}

// TradingConfig contains trading parameters
type TradingConfig struct {
	ProductID        string  `yaml:"product_id"`
	QuoteCurrency    string  `yaml:"quote_currency"`
	BaseCurrency     string  `yaml:"base_currency"`
	MinDistancePct   float64 `yaml:"min_distance_pct"`
	DriftPct         float64 `yaml:"drift_pct"`
	MakerFeeCushion  float64 `yaml:"maker_fee_cushion"`
	TakerFeeCushion  float64 `yaml:"taker_fee_cushion"`
	MaxPlanOrders    int     `yaml:"max_plan_orders"`
	MarketFollowSecs int     `yaml:"market_follow_seconds"`
}

// SchedulerConfig contains cron schedules and retry settings
type SchedulerConfig struct {
	PlanSpec     string `yaml:"plan_spec"`
	OrderSpec    string `yaml:"order_spec"`
	MonitorSpec  string `yaml:"monitor_spec"`
	PnLSpec      string `yaml:"pnl_spec"`
	PlanAttempts int    `yaml:"plan_attempts"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int `yaml:"port"`
	ShutdownTimeout int `yaml:"shutdown_timeout_seconds"`
}

// AlertConfig contains alert channel settings
type AlertConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	FollowUpPoolSize   int `yaml:"follow_up_pool_size"`
	FollowUpPoolBuffer int `yaml:"follow_up_pool_buffer"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTraces  bool `yaml:"enable_traces"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExchangeConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validatePlannerConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTradingConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSchedulerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.App.DatabasePath == "" {
		return ValidationError{
			Field:   "app.database_path",
			Message: "database path is required",
		}
	}
	return nil
}

func (c *Config) validateExchangeConfig() error {
	if c.Exchange.UseMock {
		return nil
	}
	if c.Exchange.APIKey == "" {
		return ValidationError{
			Field:   "exchange.api_key",
			Message: "API key is required",
		}
	}
	if c.Exchange.APISecret == "" {
		return ValidationError{
			Field:   "exchange.api_secret",
			Message: "API secret is required",
		}
	}
	if c.Exchange.MakerFeeRate < 0 || c.Exchange.MakerFeeRate > 1 {
		return ValidationError{
			Field:   "exchange.maker_fee_rate",
			Value:   c.Exchange.MakerFeeRate,
			Message: "must be between 0 and 1",
		}
	}
	if c.Exchange.TakerFeeRate < 0 || c.Exchange.TakerFeeRate > 1 {
		return ValidationError{
			Field:   "exchange.taker_fee_rate",
			Value:   c.Exchange.TakerFeeRate,
			Message: "must be between 0 and 1",
		}
	}
	return nil
}

func (c *Config) validatePlannerConfig() error {
	if c.Planner.StubMode {
		return nil
	}
	if c.Planner.APIKey == "" {
		return ValidationError{
			Field:   "planner.api_key",
			Message: "API key is required when stub mode is disabled",
		}
	}
	if c.Planner.Model == "" {
		return ValidationError{
			Field:   "planner.model",
			Message: "model name is required",
		}
	}
	if c.Planner.MaxAttempts < 1 || c.Planner.MaxAttempts > 10 {
		return ValidationError{
			Field:   "planner.max_attempts",
			Value:   c.Planner.MaxAttempts,
			Message: "must be between 1 and 10",
		}
	}
	return nil
}

func (c *Config) validateTradingConfig() error {
	if c.Trading.ProductID == "" {
		return ValidationError{
			Field:   "trading.product_id",
			Message: "product ID is required",
		}
	}
	if !strings.Contains(c.Trading.ProductID, "-") {
		return ValidationError{
			Field:   "trading.product_id",
			Value:   c.Trading.ProductID,
			Message: "must be in BASE-QUOTE form, e.g. BTC-USDC",
		}
	}
	if c.Trading.MinDistancePct < 0 || c.Trading.MinDistancePct > 1 {
		return ValidationError{
			Field:   "trading.min_distance_pct",
			Value:   c.Trading.MinDistancePct,
			Message: "must be between 0 and 1",
		}
	}
	if c.Trading.MaxPlanOrders < 1 || c.Trading.MaxPlanOrders > 50 {
		return ValidationError{
			Field:   "trading.max_plan_orders",
			Value:   c.Trading.MaxPlanOrders,
			Message: "must be between 1 and 50",
		}
	}
	return nil
}

func (c *Config) validateSchedulerConfig() error {
	if c.Scheduler.PlanAttempts < 1 || c.Scheduler.PlanAttempts > 5 {
		return ValidationError{
			Field:   "scheduler.plan_attempts",
			Value:   c.Scheduler.PlanAttempts,
			Message: "must be between 1 and 5",
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "INFO"
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://api.coinbase.com"
	}
	if c.Exchange.RateLimit == 0 {
		c.Exchange.RateLimit = 10
	}
	if c.Exchange.RateBurst == 0 {
		c.Exchange.RateBurst = 5
	}
	if c.Exchange.TimeoutSecs == 0 {
		c.Exchange.TimeoutSecs = 30
	}
	if c.Exchange.MakerFeeRate == 0 {
		c.Exchange.MakerFeeRate = 0.0025
	}
	if c.Exchange.TakerFeeRate == 0 {
		c.Exchange.TakerFeeRate = 0.0015
	}
	if c.Planner.BaseURL == "" {
		c.Planner.BaseURL = "https://api.openai.com/v1"
	}
	if c.Planner.TimeoutSecs == 0 {
		c.Planner.TimeoutSecs = 120
	}
	if c.Planner.MaxAttempts == 0 {
		c.Planner.MaxAttempts = 2
	}
	if c.Trading.MinDistancePct == 0 {
		c.Trading.MinDistancePct = 0.001
	}
	if c.Trading.DriftPct == 0 {
		c.Trading.DriftPct = 0.005
	}
	if c.Trading.MakerFeeCushion == 0 {
		c.Trading.MakerFeeCushion = 0.0035
	}
	if c.Trading.TakerFeeCushion == 0 {
		c.Trading.TakerFeeCushion = 0.0075
	}
	if c.Trading.MaxPlanOrders == 0 {
		c.Trading.MaxPlanOrders = 10
	}
	if c.Trading.MarketFollowSecs == 0 {
		c.Trading.MarketFollowSecs = 10
	}
	if c.Scheduler.PlanSpec == "" {
		c.Scheduler.PlanSpec = "5 0 * * *"
	}
	if c.Scheduler.OrderSpec == "" {
		c.Scheduler.OrderSpec = "0 */2 * * *"
	}
	if c.Scheduler.MonitorSpec == "" {
		c.Scheduler.MonitorSpec = "*/5 * * * *"
	}
	if c.Scheduler.PnLSpec == "" {
		c.Scheduler.PnLSpec = "30 0 * * *"
	}
	if c.Scheduler.PlanAttempts == 0 {
		c.Scheduler.PlanAttempts = 2
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Concurrency.FollowUpPoolSize == 0 {
		c.Concurrency.FollowUpPoolSize = 4
	}
	if c.Concurrency.FollowUpPoolBuffer == 0 {
		c.Concurrency.FollowUpPoolBuffer = 64
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = c.Server.Port
	}
}

// String returns a printable representation with secrets masked
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchange.APIKey = maskString(c.Exchange.APIKey)
	configCopy.Exchange.APISecret = maskString(c.Exchange.APISecret)
	configCopy.Planner.APIKey = maskString(c.Planner.APIKey)
	configCopy.Alert.SlackWebhookURL = maskString(c.Alert.SlackWebhookURL)
	configCopy.Alert.TelegramBotToken = maskString(c.Alert.TelegramBotToken)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{
			LogLevel:     "INFO",
			DatabasePath: ":memory:",
		},
		Exchange: ExchangeConfig{
			UseMock: true,
		},
		Planner: PlannerConfig{
			StubMode: true,
		},
		Trading: TradingConfig{
			ProductID:     "BTC-USDC",
			BaseCurrency:  "BTC",
			QuoteCurrency: "USDC",
		},
	}
	cfg.applyDefaults()
	return cfg
}
