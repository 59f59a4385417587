package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// actionView кнопка, ведущая на панель, если задан её адрес
const actionView = "View Dashboard"

// TelegramConfig параметры уведомлений в Telegram
type TelegramConfig struct {
	Token        string
	ChatID       int64
	DashboardURL string // Необязательно
	APIEndpoint  string // Пусто = api.telegram.org
	HTTPClient   *http.Client
}

// TelegramNotifier отправляет уведомления в чат Telegram
type TelegramNotifier struct {
	bot       *tgbotapi.BotAPI
	chatID    int64
	dashboard string
}

// NewTelegramNotifier проверяет токен запросом getMe
func NewTelegramNotifier(cfg TelegramConfig) (*TelegramNotifier, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("не заданы токен или чат Telegram")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID, dashboard: cfg.DashboardURL}, nil
}

// Notify отправляет сообщение с кнопками действий
func (n *TelegramNotifier) Notify(ctx context.Context, title, body string, actions []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, "*"+esc(title)+"*\n"+esc(body))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if len(actions) > 0 {
		msg.ReplyMarkup = n.keyboard(actions)
	}
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (n *TelegramNotifier) keyboard(actions []string) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		if a == actionView && n.dashboard != "" {
			row = append(row, tgbotapi.NewInlineKeyboardButtonURL(a, n.dashboard))
			continue
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(a, callbackData(a)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// callbackData "View Dashboard" -> "view_dashboard"
func callbackData(action string) string {
	return strings.ToLower(strings.ReplaceAll(action, " ", "_"))
}

// лёгкое экранирование для Markdown
func esc(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "[", "\\[")
	return s
}
