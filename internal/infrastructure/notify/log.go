// Package notify поверхности уведомлений пользователя: журнал и Telegram.
package notify

import (
	"context"
	"strings"

	"deepfake-detector/client/internal/application"
)

// LogNotifier выводит уведомления в журнал
type LogNotifier struct {
	logger application.Logger
}

// NewLogNotifier создает уведомитель через журнал
func NewLogNotifier(logger application.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify пишет уведомление одной строкой
func (n *LogNotifier) Notify(ctx context.Context, title, body string, actions []string) error {
	n.logger.Warn("%s %s [%s]", title, strings.ReplaceAll(body, "\n", "; "), strings.Join(actions, " | "))
	return nil
}

// Multi рассылает уведомление всем получателям; ошибка одного не мешает остальным
type Multi []application.Notifier

// Notify возвращает первую ошибку
func (m Multi) Notify(ctx context.Context, title, body string, actions []string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, title, body, actions); err != nil && first == nil {
			first = err
		}
	}
	return first
}
