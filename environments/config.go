package environments

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"db"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Avito        AvitoConfig        `mapstructure:"avito"`
	Telegram     BridgeConfig       `mapstructure:"telegram"`
	WhatsApp     BridgeConfig       `mapstructure:"whatsapp"`
	YClients     YClientsConfig     `mapstructure:"yclients"`
	Notification NotificationConfig `mapstructure:"notification"`
	Alert        AlertConfig        `mapstructure:"alert"`
	Auth         AuthConfig         `mapstructure:"auth"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AvitoConfig configures the classifieds messenger (default, unprefixed channel).
type AvitoConfig struct {
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	APIURL            string        `mapstructure:"api_url"`
	AuthURL           string        `mapstructure:"auth_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	TokenSafetyMargin time.Duration `mapstructure:"token_safety_margin"`
}

// BridgeConfig configures a sidecar bridge for a chat network.
type BridgeConfig struct {
	URL     string        `mapstructure:"url"`
	Prefix  string        `mapstructure:"prefix"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type YClientsConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	PartnerToken string        `mapstructure:"partner_token"`
	UserToken    string        `mapstructure:"user_token"`
	CompanyID    int64         `mapstructure:"company_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type NotificationConfig struct {
	ReviewDelay       time.Duration `mapstructure:"review_delay"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileLookback time.Duration `mapstructure:"reconcile_lookback"`
	ReconcileLimit    int           `mapstructure:"reconcile_limit"`
	ChatLimit         int           `mapstructure:"chat_limit"`
	SweepWorkers      int           `mapstructure:"sweep_workers"`
	SendRatePerSecond float64       `mapstructure:"send_rate_per_second"`
	AutoStart         bool          `mapstructure:"auto_start"`
}

type AlertConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	IterationCount int    `mapstructure:"iteration_count"`
}

type AuthConfig struct {
	InboxAPIKey        string `mapstructure:"inbox_api_key"`
	NotificationAPIKey string `mapstructure:"notification_api_key"`
	SchedulerAPIKey    string `mapstructure:"scheduler_api_key"`
}

var defaults = map[string]any{
	"log_level": "info",

	"server.port": "8080",

	"db.host":            "localhost",
	"db.port":            "3306",
	"db.user":            "inbox",
	"db.password":        "inbox123",
	"db.name":            "unified_inbox",
	"db.connect_timeout": "1m",

	"redis.enabled":  true,
	"redis.host":     "localhost",
	"redis.port":     "6379",
	"redis.password": "",
	"redis.db":       0,

	"avito.client_id":           "",
	"avito.client_secret":       "",
	"avito.api_url":             "https://api.avito.ru",
	"avito.auth_url":            "https://api.avito.ru",
	"avito.timeout":             "15s",
	"avito.token_safety_margin": "5m",

	"telegram.url":     "http://localhost:3002",
	"telegram.prefix":  "tg_",
	"telegram.timeout": "10s",

	"whatsapp.url":     "http://localhost:3001",
	"whatsapp.prefix":  "wa_",
	"whatsapp.timeout": "10s",

	"yclients.api_url":       "https://api.yclients.com/api/v1",
	"yclients.partner_token": "",
	"yclients.user_token":    "",
	"yclients.company_id":    0,
	"yclients.timeout":       "10s",

	"notification.review_delay":         "2h",
	"notification.sweep_interval":       "1m",
	"notification.reconcile_interval":   "5m",
	"notification.reconcile_lookback":   "24h",
	"notification.reconcile_limit":      100,
	"notification.chat_limit":           50,
	"notification.sweep_workers":        4,
	"notification.send_rate_per_second": 5.0,
	"notification.auto_start":           true,

	"alert.webhook_url":     "",
	"alert.iteration_count": 0,

	"auth.inbox_api_key":        "",
	"auth.notification_api_key": "",
	"auth.scheduler_api_key":    "",
}

// Load reads configuration from the environment, e.g. db.host <- DB_HOST.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}

// Configured reports whether booking reconciliation can run.
func (c YClientsConfig) Configured() bool {
	return c.PartnerToken != "" && c.CompanyID > 0
}
