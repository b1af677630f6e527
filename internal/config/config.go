package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bridge.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Portal    PortalConfig    `yaml:"portal"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Splash    SplashConfig    `yaml:"splash"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	TestMode  bool            `yaml:"test_mode"`
}

// ServerConfig holds webhook HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the lock store connection settings.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// PortalConfig holds the Corrlinks base URL, the browser fingerprint used at
// login, and the element ids of the stateful form pages. The element ids are
// configuration because the Portal renames them between deployments.
type PortalConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
	ProxyURL  string `yaml:"proxy_url"`
	UseProxy  bool   `yaml:"use_proxy"`

	LoginEmailFieldID    string `yaml:"login_email_field_id"`
	LoginPasswordFieldID string `yaml:"login_password_field_id"`
	LoginButtonID        string `yaml:"login_button_id"`
	LoginButtonText      string `yaml:"login_button_text"`

	InviteCodeBoxID      string `yaml:"invite_code_box_id"`
	InviteCodeGoButtonID string `yaml:"invite_code_go_button_id"`
	InviteInfoDivID      string `yaml:"invite_info_div_id"`
	InviteAcceptButtonID string `yaml:"invite_accept_button_id"`
	RecordNotFoundSpanID string `yaml:"record_not_found_span_id"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the portal HTTP timeout as a duration.
func (c PortalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MailboxConfig holds IMAP search settings plus the shared operator mailbox
// used for the unconditional invite-acceptance task.
type MailboxConfig struct {
	SearchDays           int    `yaml:"search_days"`
	SearchSubject        string `yaml:"search_subject"`
	BroaderSearchSubject string `yaml:"broader_search_subject"`

	OperatorHost     string `yaml:"operator_host"`
	OperatorUsername string `yaml:"operator_username"`
	OperatorPassword string `yaml:"operator_password"`
}

// SplashConfig holds the headless renderer endpoint.
type SplashConfig struct {
	ExecuteURL     string `yaml:"execute_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ScreenshotDir  string `yaml:"screenshot_dir"`
}

// Timeout returns the renderer HTTP timeout as a duration.
func (c SplashConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GatewayConfig holds the SMS gateway endpoints and dispatch policy.
type GatewayConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	ReplyWebhookURL   string `yaml:"reply_webhook_url"`
	SigningKey        string `yaml:"signing_key"`
	QuotaThreshold    int    `yaml:"quota_threshold"`
	MaxRetries        int    `yaml:"max_retries"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	AdminEmail        string `yaml:"admin_email"`
}

// RetryDelay returns the delivery-poll backoff as a duration.
func (c GatewayConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Timeout returns the gateway HTTP timeout as a duration.
func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SchedulerConfig holds the bot pipeline cadence.
type SchedulerConfig struct {
	IntervalMinutes    int `yaml:"interval_minutes"`
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
	MaxInviteRetries   int `yaml:"max_invite_retries"`
	MaxReplyRetries    int `yaml:"max_reply_retries"`
}

// Interval returns the pipeline cadence as a duration.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// LockTimeout returns the per-bot lock TTL as a duration.
func (c SchedulerConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file, then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Portal.BaseURL == "" {
		cfg.Portal.BaseURL = "https://www.corrlinks.com"
	}
	if cfg.Portal.UserAgent == "" {
		cfg.Portal.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	}
	if cfg.Portal.LoginButtonText == "" {
		cfg.Portal.LoginButtonText = "Login >>"
	}
	if cfg.Portal.TimeoutSeconds == 0 {
		cfg.Portal.TimeoutSeconds = 60
	}
	if cfg.Mailbox.SearchDays == 0 {
		cfg.Mailbox.SearchDays = 7
	}
	if cfg.Mailbox.SearchSubject == "" {
		cfg.Mailbox.SearchSubject = "Person in Custody:"
	}
	if cfg.Mailbox.BroaderSearchSubject == "" {
		cfg.Mailbox.BroaderSearchSubject = "Custody"
	}
	if cfg.Splash.ExecuteURL == "" {
		cfg.Splash.ExecuteURL = "http://localhost:8050/execute"
	}
	if cfg.Splash.TimeoutSeconds == 0 {
		cfg.Splash.TimeoutSeconds = 90
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://textbelt.com"
	}
	if cfg.Gateway.MaxRetries == 0 {
		cfg.Gateway.MaxRetries = 3
	}
	if cfg.Gateway.RetryDelaySeconds == 0 {
		cfg.Gateway.RetryDelaySeconds = 120
	}
	if cfg.Gateway.TimeoutSeconds == 0 {
		cfg.Gateway.TimeoutSeconds = 30
	}
	if cfg.Scheduler.IntervalMinutes == 0 {
		cfg.Scheduler.IntervalMinutes = 10
	}
	if cfg.Scheduler.LockTimeoutSeconds == 0 {
		cfg.Scheduler.LockTimeoutSeconds = 300
	}
	if cfg.Scheduler.MaxInviteRetries == 0 {
		cfg.Scheduler.MaxInviteRetries = 3
	}
	if cfg.Scheduler.MaxReplyRetries == 0 {
		cfg.Scheduler.MaxReplyRetries = 3
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file first (if present) so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PORTAL_BASE_URL"); v != "" {
		cfg.Portal.BaseURL = v
	}
	if v := os.Getenv("PORTAL_PROXY_URL"); v != "" {
		cfg.Portal.ProxyURL = v
		cfg.Portal.UseProxy = true
	}
	if v := os.Getenv("SPLASH_URL"); v != "" {
		cfg.Splash.ExecuteURL = v
	}
	if v := os.Getenv("SMS_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("SMS_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("SMS_SIGNING_KEY"); v != "" {
		cfg.Gateway.SigningKey = v
	}
	if v := os.Getenv("SMS_REPLY_WEBHOOK_URL"); v != "" {
		cfg.Gateway.ReplyWebhookURL = v
	}
	if v := os.Getenv("OPERATOR_IMAP_PASSWORD"); v != "" {
		cfg.Mailbox.OperatorPassword = v
	}
	if v := os.Getenv("TEST_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TestMode = b
		}
	}

	return cfg, nil
}
