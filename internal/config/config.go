// Package config provides YAML-based configuration loading for atendente.
// Secrets are never read from the YAML file; they come from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level atendente configuration, loaded from atendente.yaml.
type Config struct {
	Store     string          `yaml:"store"` // "redis" or "sql"
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Assistant AssistantConfig `yaml:"assistant"`
	Attendant AttendantConfig `yaml:"attendant"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Nuvemshop NuvemshopConfig `yaml:"nuvemshop"`
	Notify    NotifyConfig    `yaml:"notify"`
	Summary   SummaryConfig   `yaml:"summary"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	AdminToken   string `yaml:"-"` // bearer token for /admin; admin routes are disabled when empty
	WebhookToken string `yaml:"-"` // shared secret the gateway sends in X-Webhook-Token
}

// RedisConfig holds the connection URL for the Redis key-value store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig holds SQL connection settings. Driver is "mysql" or "sqlite".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite file
}

// AssistantConfig configures the conversational-AI backend.
type AssistantConfig struct {
	APIKey            string `yaml:"-"`
	AssistantID       string `yaml:"assistant_id"`
	BaseURL           string `yaml:"base_url"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// AttendantConfig tunes the run orchestrator.
type AttendantConfig struct {
	PollIntervalMs  int    `yaml:"poll_interval_ms"`
	MaxPolls        int    `yaml:"max_polls"`
	RunTimeoutSec   int    `yaml:"run_timeout_sec"`
	LockTTLSec      int    `yaml:"lock_ttl_sec"`
	LockStaleSec    int    `yaml:"lock_stale_sec"`
	DebounceMs      int    `yaml:"debounce_ms"` // negative disables debouncing
	ThreadTTLDays   int    `yaml:"thread_ttl_days"`
	ToolConcurrency int    `yaml:"tool_concurrency"`
	ResetCommand    string `yaml:"reset_command"`
	WaitMessage     string `yaml:"wait_message"`
	ApologyMessage  string `yaml:"apology_message"`
	ResetMessage    string `yaml:"reset_message"`
}

// WhatsAppConfig configures the W-API messaging gateway.
type WhatsAppConfig struct {
	APIURL         string `yaml:"api_url"`
	Token          string `yaml:"-"`
	ConnectionKey  string `yaml:"-"`
	MessageDelayMs int    `yaml:"message_delay_ms"`
	FinanceNumber  string `yaml:"finance_number"`
}

// TrackingConfig configures the 17TRACK provider and the sanitizer.
type TrackingConfig struct {
	APIURL          string   `yaml:"api_url"`
	APIKey          string   `yaml:"-"`
	CacheTTLMin     int      `yaml:"cache_ttl_min"`
	NoticeTTLHours  int      `yaml:"notice_ttl_hours"`
	Keywords        []string `yaml:"keywords"`
	CustomsStatuses []string `yaml:"customs_statuses"`
	Replacement     string   `yaml:"replacement"`
}

// NuvemshopConfig configures the store order API.
type NuvemshopConfig struct {
	APIURL      string `yaml:"api_url"`
	StoreID     string `yaml:"store_id"`
	AccessToken string `yaml:"-"`
	UserAgent   string `yaml:"user_agent"`
	CacheTTLMin int    `yaml:"cache_ttl_min"`
}

// NotifyConfig selects the finance notification channels.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack notifier settings.
type SlackConfig struct {
	BotToken string `yaml:"-"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig holds Discord notifier settings.
type DiscordConfig struct {
	BotToken string `yaml:"-"`
	Channel  string `yaml:"channel"`
}

// SummaryConfig schedules the daily customs summary.
type SummaryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

// Default customs vocabulary, matched case-insensitively.
var (
	DefaultKeywords = []string{
		"customs", "tax", "clearance", "alfândega", "alfandega", "taxa",
		"imposto", "tributação", "tributacao", "desembaraço", "desembaraco",
		"aduaneir", "aduana", "declaração", "fiscalização",
		"autoridade competente",
	}
	DefaultCustomsStatuses = []string{
		"InTransit_CustomsProcessing", "Exception_Security",
		"DeliveryFailure_Security", "CustomsHold",
	}
)

// Load reads a YAML config file from path, applies environment secrets and
// returns a validated Config. A .env file in the working directory is loaded
// first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv copies secrets and a few deploy-time overrides from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&c.Assistant.APIKey, "OPENAI_API_KEY")
	setStr(&c.Assistant.AssistantID, "OPENAI_ASSISTANT_ID")
	setStr(&c.WhatsApp.Token, "WAPI_TOKEN")
	setStr(&c.WhatsApp.ConnectionKey, "WAPI_CONNECTION_KEY")
	setStr(&c.WhatsApp.FinanceNumber, "FINANCE_WHATSAPP_NUMBER")
	setStr(&c.Tracking.APIKey, "TRACK17_API_KEY")
	setStr(&c.Nuvemshop.AccessToken, "NUVEMSHOP_ACCESS_TOKEN")
	setStr(&c.Nuvemshop.StoreID, "NUVEMSHOP_STORE_ID")
	setStr(&c.Redis.URL, "REDIS_URL")
	setStr(&c.Database.Password, "DATABASE_PASSWORD")
	setStr(&c.Notify.Slack.BotToken, "SLACK_BOT_TOKEN")
	setStr(&c.Notify.Discord.BotToken, "DISCORD_BOT_TOKEN")
	setStr(&c.Server.AdminToken, "ADMIN_TOKEN")
	setStr(&c.Server.WebhookToken, "WEBHOOK_TOKEN")
	if v := getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store == "" {
		if c.Redis.URL != "" {
			c.Store = "redis"
		} else {
			c.Store = "sql"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "atendente.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Database == "" {
			c.Database.Database = "atendente"
		}
	}
	if c.Assistant.RequestTimeoutSec == 0 {
		c.Assistant.RequestTimeoutSec = 30
	}

	a := &c.Attendant
	if a.PollIntervalMs == 0 {
		a.PollIntervalMs = 1000
	}
	if a.MaxPolls == 0 {
		a.MaxPolls = 60
	}
	if a.RunTimeoutSec == 0 {
		a.RunTimeoutSec = 90
	}
	if a.LockTTLSec == 0 {
		a.LockTTLSec = 300
	}
	if a.LockStaleSec == 0 {
		a.LockStaleSec = 120
	}
	if a.DebounceMs == 0 {
		a.DebounceMs = 8000
	}
	if a.ThreadTTLDays == 0 {
		a.ThreadTTLDays = 30
	}
	if a.ToolConcurrency == 0 {
		a.ToolConcurrency = 4
	}
	if a.ResetCommand == "" {
		a.ResetCommand = "#reset"
	}
	if a.WaitMessage == "" {
		a.WaitMessage = "Só um momento, ainda estou verificando sua mensagem anterior. 🙏"
	}
	if a.ApologyMessage == "" {
		a.ApologyMessage = "Desculpe, tive um problema ao processar sua mensagem. Pode tentar novamente em instantes?"
	}
	if a.ResetMessage == "" {
		a.ResetMessage = "Conversa reiniciada. Como posso ajudar?"
	}

	if c.WhatsApp.APIURL == "" {
		c.WhatsApp.APIURL = "https://api.w-api.app/v1"
	}
	if c.WhatsApp.MessageDelayMs == 0 {
		c.WhatsApp.MessageDelayMs = 1000
	}

	t := &c.Tracking
	if t.APIURL == "" {
		t.APIURL = "https://api.17track.net/track/v2.2"
	}
	if t.CacheTTLMin == 0 {
		t.CacheTTLMin = 30
	}
	if t.NoticeTTLHours == 0 {
		t.NoticeTTLHours = 24
	}
	if len(t.Keywords) == 0 {
		t.Keywords = append([]string(nil), DefaultKeywords...)
	}
	if len(t.CustomsStatuses) == 0 {
		t.CustomsStatuses = append([]string(nil), DefaultCustomsStatuses...)
	}
	if t.Replacement == "" {
		t.Replacement = "Em processamento"
	}

	n := &c.Nuvemshop
	if n.APIURL == "" {
		n.APIURL = "https://api.nuvemshop.com.br/v1"
	}
	if n.UserAgent == "" {
		n.UserAgent = "atendente (suporte@lojaortopedic.com.br)"
	}
	if n.CacheTTLMin == 0 {
		n.CacheTTLMin = 10
	}

	if c.Summary.Cron == "" {
		c.Summary.Cron = "0 20 * * *"
	}
	if c.Summary.Timezone == "" {
		c.Summary.Timezone = "America/Sao_Paulo"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Store {
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, "redis.url (or REDIS_URL) is required when store is redis")
		}
	case "sql":
	default:
		errs = append(errs, fmt.Sprintf("store must be redis or sql, got %q", c.Store))
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be mysql or sqlite, got %q", c.Database.Driver))
	}
	if c.Attendant.LockStaleSec > c.Attendant.LockTTLSec {
		errs = append(errs, "attendant.lock_stale_sec must not exceed attendant.lock_ttl_sec")
	}
	if c.Attendant.ToolConcurrency < 0 {
		errs = append(errs, "attendant.tool_concurrency must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RequireServe reports missing secrets needed by "atendente serve". They are
// checked separately so offline commands (db migrate, cases list) work
// without credentials.
func (c *Config) RequireServe() error {
	var missing []string
	if c.Assistant.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Assistant.AssistantID == "" {
		missing = append(missing, "OPENAI_ASSISTANT_ID")
	}
	if c.WhatsApp.Token == "" {
		missing = append(missing, "WAPI_TOKEN")
	}
	if c.Tracking.APIKey == "" {
		missing = append(missing, "TRACK17_API_KEY")
	}
	if c.Nuvemshop.AccessToken == "" || c.Nuvemshop.StoreID == "" {
		missing = append(missing, "NUVEMSHOP_ACCESS_TOKEN/NUVEMSHOP_STORE_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}
