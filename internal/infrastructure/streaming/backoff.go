package streaming

import (
	"context"
	"fmt"
	"time"
)

// ReconnectConfig параметры экспоненциальной задержки переподключения
type ReconnectConfig struct {
	MaxRetries    int           // Сколько попыток подряд (0 = без ограничения)
	RetryDelay    time.Duration // Начальная задержка
	MaxRetryDelay time.Duration // Потолок задержки
}

// DefaultReconnectConfig задержки 1с, 2с, 4с ... до 30с, не более 5 попыток подряд
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    5,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Backoff задержка перед попыткой attempt (с единицы): RetryDelay * 2^(attempt-1), не больше MaxRetryDelay
func (c ReconnectConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return c.MaxRetryDelay
	}
	delay := c.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > c.MaxRetryDelay || delay <= 0 {
		delay = c.MaxRetryDelay
	}
	return delay
}

// retry вызывает connect, пока он не вернёт nil, stop(err) не скажет прекратить
// или не кончатся попытки
func retry(ctx context.Context, cfg ReconnectConfig, connect func(context.Context) error,
	stop func(error) bool, onRetry func(attempt int, delay time.Duration, err error)) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := connect(ctx)
		if err == nil {
			return nil
		}
		if stop != nil && stop(err) {
			return err
		}
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries {
			return fmt.Errorf("превышено число попыток (%d): %w", cfg.MaxRetries, err)
		}

		delay := cfg.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
