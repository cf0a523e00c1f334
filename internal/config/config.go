package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"salonbot/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Redis      RedisConfig      `yaml:"redis"`
	Journal    JournalConfig    `yaml:"journal"`
	CRM        CRMConfig        `yaml:"crm"`
	NLU        NLUConfig        `yaml:"nlu"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Ops        OpsConfig        `yaml:"ops"`
	Bot        BotConfig        `yaml:"bot"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	WebhookSecret string `yaml:"webhook_secret"`
	VerifyToken   string `yaml:"verify_token"`
	APIBaseURL    string `yaml:"api_base_url"`
	APIVersion    string `yaml:"api_version"`
	ListenPort    int    `yaml:"listen_port"`
	// InsecureSkipSignature disables webhook signature checks. Dev only;
	// ignored outside the "development" environment.
	InsecureSkipSignature bool    `yaml:"insecure_skip_signature"`
	SendRPS               float64 `yaml:"send_rps"`
	SendBurst             int     `yaml:"send_burst"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type CRMConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type NLUConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type OpsConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []OpsClientKey `yaml:"api_keys"`
	RateLimit    OpsRateLimit   `yaml:"rate_limit"`
}

type OpsClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type OpsRateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BotConfig struct {
	SalonID              int64  `yaml:"salon_id"`
	DefaultLanguage      string `yaml:"default_language"`
	SessionTTLMinutes    int    `yaml:"session_ttl_minutes"`
	DedupRetentionHours  int    `yaml:"dedup_retention_hours"`
	SlotQueryLimit       int    `yaml:"slot_query_limit"`
	SearchWindowDays     int    `yaml:"search_window_days"`
	RateLimitMessages    int    `yaml:"rate_limit_messages"`
	RateLimitWindow      int    `yaml:"rate_limit_window"`
	CallTimeoutSeconds   int    `yaml:"call_timeout_seconds"`
	FreshnessMinutes     int    `yaml:"freshness_minutes"`
}

func Load(configPath string) (*Config, error) {
	// .env переопределяет плейсхолдеры в YAML
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.WhatsApp.AccessToken == "" || c.WhatsApp.AccessToken == "YOUR_ACCESS_TOKEN_HERE" {
		return errors.New("whatsapp access token is required")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return errors.New("whatsapp phone_number_id is required")
	}
	if c.WhatsApp.VerifyToken == "" {
		return errors.New("whatsapp verify_token is required")
	}
	if c.WhatsApp.WebhookSecret == "" && !c.WhatsApp.InsecureSkipSignature {
		return errors.New("whatsapp webhook_secret is required unless insecure_skip_signature is set")
	}
	if c.WhatsApp.InsecureSkipSignature && c.App.Environment != "development" {
		return fmt.Errorf("insecure_skip_signature is not allowed in environment %q", c.App.Environment)
	}
	if c.CRM.BaseURL == "" {
		return errors.New("crm base_url is required")
	}
	return nil
}

func ValidateServices(services []models.Service) error {
	seen := make(map[int64]bool)
	for _, svc := range services {
		if svc.ID == 0 {
			return fmt.Errorf("service '%s' has invalid ID 0", svc.Name)
		}
		if seen[svc.ID] {
			return fmt.Errorf("duplicate service ID found: %d", svc.ID)
		}
		seen[svc.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.WhatsApp.APIBaseURL == "" {
		c.WhatsApp.APIBaseURL = "https://graph.facebook.com"
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v23.0"
	}
	if c.WhatsApp.ListenPort == 0 {
		c.WhatsApp.ListenPort = 8080
	}
	if c.WhatsApp.SendRPS == 0 {
		c.WhatsApp.SendRPS = 10
	}
	if c.WhatsApp.SendBurst == 0 {
		c.WhatsApp.SendBurst = 5
	}
	if c.Ops.HeaderAPIKey == "" {
		c.Ops.HeaderAPIKey = "x-api-key"
	}

	// Bot defaults
	if c.Bot.DefaultLanguage == "" {
		c.Bot.DefaultLanguage = models.LanguageEN
	}
	if c.Bot.SessionTTLMinutes == 0 {
		c.Bot.SessionTTLMinutes = models.SessionTTLMinutes
	}
	if c.Bot.DedupRetentionHours == 0 {
		c.Bot.DedupRetentionHours = models.DedupRetentionHours
	}
	if c.Bot.SlotQueryLimit == 0 || c.Bot.SlotQueryLimit > models.MaxCandidateSlots {
		c.Bot.SlotQueryLimit = models.MaxCandidateSlots
	}
	if c.Bot.SearchWindowDays == 0 {
		c.Bot.SearchWindowDays = 7
	}
	if c.Bot.RateLimitMessages == 0 {
		c.Bot.RateLimitMessages = models.RateLimitMessages
	}
	if c.Bot.RateLimitWindow == 0 {
		c.Bot.RateLimitWindow = models.RateLimitWindowSeconds
	}
	if c.Bot.CallTimeoutSeconds == 0 {
		c.Bot.CallTimeoutSeconds = 10
	}
	if c.Bot.FreshnessMinutes == 0 {
		c.Bot.FreshnessMinutes = models.CandidateFreshnessMinutes
	}
	if c.CRM.TimeoutSeconds == 0 {
		c.CRM.TimeoutSeconds = 10
	}
	if c.NLU.TimeoutSeconds == 0 {
		c.NLU.TimeoutSeconds = 5
	}
	if c.NLU.MinConfidence == 0 {
		c.NLU.MinConfidence = 0.7
	}
}

// SessionTTL returns the configured session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Bot.SessionTTLMinutes) * time.Minute
}

// DedupRetention returns the message-id dedup window as a duration.
func (c *Config) DedupRetention() time.Duration {
	return time.Duration(c.Bot.DedupRetentionHours) * time.Hour
}

// CallTimeout bounds outbound collaborator calls.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Bot.CallTimeoutSeconds) * time.Second
}
