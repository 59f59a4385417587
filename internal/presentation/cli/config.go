package cli

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config представляет конфигурацию CLI
type Config struct {
	APIURL       string
	WSURL        string
	Token        string
	Debug        bool
	JSONLogs     bool
	SettingsPath string
	DBURL        string
	FFmpeg       string

	TelegramToken  string
	TelegramChatID int64
	DashboardURL   string
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt64(k string) int64 {
	v, err := strconv.ParseInt(os.Getenv(k), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// defaultConfig значения по умолчанию с учётом переменных окружения
func defaultConfig() Config {
	return Config{
		APIURL:         getEnv("DEEPFAKE_API_URL", "http://localhost:5000"),
		WSURL:          os.Getenv("DEEPFAKE_WS_URL"),
		Token:          os.Getenv("DEEPFAKE_API_TOKEN"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: getEnvInt64("TELEGRAM_CHAT_ID"),
		DashboardURL:   os.Getenv("DEEPFAKE_DASHBOARD_URL"),
	}
}

// channelURL адрес WebSocket-канала: явный или выведенный из адреса API
func (c Config) channelURL() (string, error) {
	if c.WSURL != "" {
		return c.WSURL, nil
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return "", fmt.Errorf("некорректный адрес API %q: %w", c.APIURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// databaseURL строка подключения к базе истории: флаг или POSTGRES_*.
// Пустая строка означает локальную историю в файле настроек.
func (c Config) databaseURL() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   net.JoinHostPort(host, getEnv("POSTGRES_PORT", "5432")),
		Path:   "/" + os.Getenv("POSTGRES_DB"),
	}
	return u.String()
}
