package logger

import (
	"fmt"
	"io"
	"log/slog"
)

// SlogLogger логгер на основе log/slog с printf-интерфейсом приложения
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger создает новый логгер. json переключает формат вывода на JSON.
func NewSlogLogger(w io.Writer, debugEnabled, json bool) *SlogLogger {
	level := slog.LevelInfo
	if debugEnabled {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{log: slog.New(h)}
}

// With возвращает логгер с пометкой компонента
func (l *SlogLogger) With(component string) *SlogLogger {
	return &SlogLogger{log: l.log.With("component", component)}
}

// Slog исходный *slog.Logger
func (l *SlogLogger) Slog() *slog.Logger {
	return l.log
}

// Info логирует информационное сообщение
func (l *SlogLogger) Info(msg string, args ...interface{}) {
	l.log.Info(format(msg, args))
}

// Warn логирует предупреждение
func (l *SlogLogger) Warn(msg string, args ...interface{}) {
	l.log.Warn(format(msg, args))
}

// Error логирует сообщение об ошибке
func (l *SlogLogger) Error(msg string, args ...interface{}) {
	l.log.Error(format(msg, args))
}

// Debug логирует отладочное сообщение
func (l *SlogLogger) Debug(msg string, args ...interface{}) {
	l.log.Debug(format(msg, args))
}

func format(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
