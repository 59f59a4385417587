package application

import (
	"context"
	"encoding/json"

	"deepfake-detector/client/internal/domain"
)

// FrameSource последовательность кадров. Next возвращает io.EOF по окончании потока.
type FrameSource interface {
	Next(ctx context.Context) (*domain.Frame, error)
	Close() error
}

// SourceOpener открывает источник кадров определённого типа
type SourceOpener interface {
	// Open возвращает domain.ErrDeviceUnavailable или domain.ErrDecode при неудаче
	Open(ctx context.Context, config domain.SourceConfig) (FrameSource, error)
}

// CameraManager интерфейс для управления камерой
type CameraManager interface {
	SourceOpener

	// ListDevices возвращает список доступных устройств захвата
	ListDevices() ([]domain.VideoDevice, error)
}

// ProgressFunc получает количество отправленных байт и общий размер (-1 если неизвестен)
type ProgressFunc func(sent, total int64)

// DetectionBackend request/response транспорт к сервису обнаружения
type DetectionBackend interface {
	Health(ctx context.Context) error
	DetectImage(ctx context.Context, req domain.DetectionRequest, returnImage bool) (*domain.DetectionResult, error)
	DetectRealtime(ctx context.Context, req domain.DetectionRequest) (*domain.DetectionResult, error)
	DetectVideo(ctx context.Context, path string, progress ProgressFunc) (*domain.VideoResult, error)
	Configure(ctx context.Context, processEveryN int) error
	LogDetection(ctx context.Context, entry domain.DetectionLogEntry) error
}

// ChannelEventKind тип события постоянного канала
type ChannelEventKind int

const (
	EventResult ChannelEventKind = iota
	EventState
	EventError
)

// ChannelEvent событие постоянного канала: результат, смена состояния или ошибка
type ChannelEvent struct {
	Kind   ChannelEventKind
	Result *domain.DetectionResult
	State  domain.ConnectionState
	Err    error
}

// StreamChannel постоянный двунаправленный канал к бэкенду
type StreamChannel interface {
	// Connect устанавливает соединение и запускает фоновое переподключение
	Connect(ctx context.Context) error
	// Send отправляет кадр на анализ
	Send(ctx context.Context, req domain.DetectionRequest) error
	// Events поток событий; закрывается после Close или терминальной ошибки
	Events() <-chan ChannelEvent
	// Close закрывает канал; повторный вызов ничего не делает
	Close() error
}

// SettingsStore локальное хранилище ключ-значение
type SettingsStore interface {
	Get(keys ...string) (map[string]json.RawMessage, error)
	Set(values map[string]any) error
}

// Notifier поверхность уведомлений пользователя
type Notifier interface {
	Notify(ctx context.Context, title, body string, actions []string) error
}

// Messenger отправка сообщений между контекстами приложения
type Messenger interface {
	SendMessage(target string, payload any) error
}

// HistoryStore журнал обнаружений
type HistoryStore interface {
	Record(ctx context.Context, rec domain.DetectionRecord) error
	Recent(ctx context.Context, limit int) ([]domain.DetectionRecord, error)
}

// Logger интерфейс для логирования
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}
