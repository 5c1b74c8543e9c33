package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Environment string            `json:"environment"`
	Database    DatabaseConfig    `json:"database"`
	Chat        ChatConfig        `json:"chat"`
	GDPR        GDPRConfig        `json:"gdpr"`
	Attribution AttributionConfig `json:"attribution"`
	Mediation   MediationConfig   `json:"mediation"`
	GameAdmin   GameAdminConfig   `json:"game_admin"`
	Processing  ProcessingConfig  `json:"processing"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	DBName       string `json:"dbname"`
	SSLMode      string `json:"sslmode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

type ChatConfig struct {
	BaseURL  string `json:"base_url"`
	BotToken string `json:"bot_token"`
}

type GDPRConfig struct {
	BaseURL      string `json:"base_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type AttributionConfig struct {
	BaseURL  string `json:"base_url"`
	AppToken string `json:"app_token"`
	APIKey   string `json:"api_key"`
}

type MediationConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

type GameAdminConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

type ProcessingConfig struct {
	Channel        string `json:"channel"`
	InactivityDays int    `json:"inactivity_days"`
}

func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	config.Environment = env

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %v", err)
			}

			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %v", err)
			}
		}
	}

	config.loadFromEnv()

	config.setDefaults()

	return config, nil
}

func (c *Config) loadFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Database.Port)
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		c.Database.SSLMode = sslmode
	}

	if botToken := os.Getenv("CHAT_BOT_TOKEN"); botToken != "" {
		c.Chat.BotToken = botToken
	}
	if baseURL := os.Getenv("CHAT_BASE_URL"); baseURL != "" {
		c.Chat.BaseURL = baseURL
	}

	if clientID := os.Getenv("GDPR_CLIENT_ID"); clientID != "" {
		c.GDPR.ClientID = clientID
	}
	if clientSecret := os.Getenv("GDPR_CLIENT_SECRET"); clientSecret != "" {
		c.GDPR.ClientSecret = clientSecret
	}
	if baseURL := os.Getenv("GDPR_BASE_URL"); baseURL != "" {
		c.GDPR.BaseURL = baseURL
	}

	if appToken := os.Getenv("ATTRIBUTION_APP_TOKEN"); appToken != "" {
		c.Attribution.AppToken = appToken
	}
	if apiKey := os.Getenv("ATTRIBUTION_API_KEY"); apiKey != "" {
		c.Attribution.APIKey = apiKey
	}
	if baseURL := os.Getenv("ATTRIBUTION_BASE_URL"); baseURL != "" {
		c.Attribution.BaseURL = baseURL
	}

	if apiKey := os.Getenv("MEDIATION_API_KEY"); apiKey != "" {
		c.Mediation.APIKey = apiKey
	}
	if baseURL := os.Getenv("MEDIATION_BASE_URL"); baseURL != "" {
		c.Mediation.BaseURL = baseURL
	}

	if token := os.Getenv("GAME_ADMIN_TOKEN"); token != "" {
		c.GameAdmin.Token = token
	}
	if baseURL := os.Getenv("GAME_ADMIN_BASE_URL"); baseURL != "" {
		c.GameAdmin.BaseURL = baseURL
	}
}

func (c *Config) setDefaults() {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Processing.Channel == "" {
		c.Processing.Channel = "privacy-requests"
	}
	if c.Processing.InactivityDays == 0 {
		c.Processing.InactivityDays = 14
	}
}

func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Chat.BotToken == "" {
		return fmt.Errorf("chat bot token is required")
	}
	if c.GDPR.BaseURL == "" || c.GDPR.ClientID == "" || c.GDPR.ClientSecret == "" {
		return fmt.Errorf("gdpr provider credentials are required")
	}
	if c.Attribution.BaseURL == "" || c.Attribution.AppToken == "" || c.Attribution.APIKey == "" {
		return fmt.Errorf("attribution provider credentials are required")
	}
	if c.Mediation.BaseURL == "" || c.Mediation.APIKey == "" {
		return fmt.Errorf("mediation provider credentials are required")
	}
	if c.GameAdmin.BaseURL == "" || c.GameAdmin.Token == "" {
		return fmt.Errorf("game admin credentials are required")
	}
	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// InactivityWindow is how long a subject must be inactive before processing.
func (c *Config) InactivityWindow() time.Duration {
	return time.Duration(c.Processing.InactivityDays) * 24 * time.Hour
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
