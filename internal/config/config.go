package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

const (
	defaultAPIURL         = "http://localhost:8000"
	defaultReconnectDelay = 3 * time.Second
	defaultHistoryLimit   = 50
	defaultAdminPageSize  = 10
	defaultHTTPTimeout    = 15 * time.Second
)

// Config aggregates every setting the commands read from the environment.
type Config struct {
	Client ClientConfig
	Admin  AdminConfig
	Server ServerConfig
	AI     AIConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	admin, err := loadAdminConfig()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Client: client, Admin: admin, Server: server, AI: ai}, nil
}

// ClientConfig describes how the widget reaches the backend.
type ClientConfig struct {
	APIURL         string
	WSURL          string
	URLChannel     string
	SessionStore   string
	ReconnectDelay time.Duration
	HistoryLimit   int
	HTTPTimeout    time.Duration
	BotName        string
	MetricsAddr    string
	Color          bool
}

// AdminConfig describes the dashboard connection.
type AdminConfig struct {
	AccessToken string
	PageSize    int
}

func loadClientConfig() (ClientConfig, error) {
	apiURL := strings.TrimRight(getEnvOrDefault("CHAT_API_URL", defaultAPIURL), "/")
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return ClientConfig{}, fmt.Errorf("invalid CHAT_API_URL value %q: %w", apiURL, err)
	}

	wsURL := strings.TrimRight(strings.TrimSpace(os.Getenv("CHAT_WS_URL")), "/")
	if wsURL == "" {
		wsURL = DeriveWSURL(apiURL)
	}

	reconnect, err := parseDurationEnv("CHAT_RECONNECT_DELAY", defaultReconnectDelay)
	if err != nil {
		return ClientConfig{}, err
	}
	if reconnect <= 0 {
		return ClientConfig{}, fmt.Errorf("invalid CHAT_RECONNECT_DELAY value %s: must be positive", reconnect)
	}

	timeout, err := parseDurationEnv("CHAT_HTTP_TIMEOUT", defaultHTTPTimeout)
	if err != nil {
		return ClientConfig{}, err
	}

	colored, err := parseBoolEnv("CHAT_COLOR", true)
	if err != nil {
		return ClientConfig{}, err
	}

	limit := defaultHistoryLimit
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ClientConfig{}, err
	} else if override != nil {
		if *override < 1 {
			limit = 1
		} else {
			limit = *override
		}
	}

	return ClientConfig{
		APIURL:         apiURL,
		WSURL:          wsURL,
		URLChannel:     getEnvOrDefault("CHAT_URL_CHANNEL", "cli://widget"),
		SessionStore:   getEnvOrDefault("CHAT_SESSION_STORE", "chatdesk-session.db"),
		ReconnectDelay: reconnect,
		HistoryLimit:   limit,
		HTTPTimeout:    timeout,
		BotName:        getEnvOrDefault("CHAT_BOT_NAME", "Bot"),
		MetricsAddr:    strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		Color:          colored,
	}, nil
}

func loadAdminConfig() (AdminConfig, error) {
	size := defaultAdminPageSize
	if override, err := parseOptionalIntEnv("CHAT_ADMIN_PAGE_SIZE"); err != nil {
		return AdminConfig{}, err
	} else if override != nil && *override > 0 {
		size = *override
	}

	return AdminConfig{
		AccessToken: strings.TrimSpace(os.Getenv("CHAT_ACCESS_TOKEN")),
		PageSize:    size,
	}, nil
}

// DeriveWSURL maps an http(s) API base to the matching ws(s) base.
func DeriveWSURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://")
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://")
	default:
		return apiURL
	}
}

// ServerConfig describes the stand-in backend.
type ServerConfig struct {
	Addr      string
	JWTSecret string
}

// loadServerConfig parses the listen address.
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	secret := strings.TrimSpace(os.Getenv("DEV_JWT_SECRET"))

	if strings.Contains(port, ":") {
		// ":8000" or "127.0.0.1:8000" are taken as-is.
		return ServerConfig{Addr: port, JWTSecret: secret}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, JWTSecret: secret}, nil
}

// AIConfig configures the stand-in backend's bot model.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv accepts Go durations ("3s") or a bare number of seconds.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
