package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deepfake-detector/client/internal/domain"
)

const (
	telemetryTimeout = 5 * time.Second
	// sideEffectTimeout потолок для записи истории и показа уведомления
	sideEffectTimeout = 5 * time.Second
	// alertQueueSize сколько отложенных действий ждёт фонового исполнителя
	alertQueueSize = 64
)

// alertActions кнопки уведомления о deepfake
var alertActions = []string{"View Dashboard", "Dismiss"}

// Alerts реакция на результаты: уведомления, история, телеметрия.
// Запись истории и уведомления выполняет фоновый исполнитель с ограниченной
// очередью; при переполнении действие пропускается, конвейер не ждёт.
type Alerts struct {
	notifier  Notifier
	messenger Messenger
	history   HistoryStore
	backend   DetectionBackend
	stats     *Stats
	logger    Logger
	settings  func() Settings

	mu     sync.Mutex
	queue  chan func(ctx context.Context)
	closed bool
	wg     sync.WaitGroup
}

// NewAlerts создаёт обработчик; notifier, messenger, history и backend могут быть nil
func NewAlerts(notifier Notifier, messenger Messenger, history HistoryStore, backend DetectionBackend,
	stats *Stats, logger Logger, settings func() Settings) *Alerts {
	a := &Alerts{
		notifier:  notifier,
		messenger: messenger,
		history:   history,
		backend:   backend,
		stats:     stats,
		logger:    logger,
		settings:  settings,
		queue:     make(chan func(ctx context.Context), alertQueueSize),
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

// Handle обрабатывает результат. source - метка источника (URL, путь файла, камера).
// Не блокируется на истории, уведомлениях и телеметрии.
func (a *Alerts) Handle(sessionID, source string, r domain.DetectionResult) {
	if a.history != nil {
		rec := domain.DetectionRecord{
			SessionID:        sessionID,
			Source:           source,
			IsDeepfake:       r.IsDeepfake,
			Confidence:       r.Confidence,
			FacesDetected:    r.FacesDetected,
			ProcessingTimeMs: r.ProcessingTimeMs,
			RecordedAt:       time.Now(),
		}
		a.enqueue("история", func(ctx context.Context) {
			if err := a.history.Record(ctx, rec); err != nil {
				a.logger.Warn("Не удалось записать историю: %v", err)
			}
		})
	}

	if !r.IsDeepfake {
		return
	}
	s := a.settings()
	if r.Confidence < s.AlertThreshold {
		a.logger.Debug("Deepfake ниже порога оповещения: %s < %s",
			r.ConfidenceText(), domain.FormatConfidence(s.AlertThreshold))
		return
	}

	now := time.Now()
	if a.stats != nil {
		a.stats.DeepfakeAlerted(now)
	}
	if a.messenger != nil {
		_ = a.messenger.SendMessage(string(TopicDeepfake), r)
	}
	if a.notifier != nil && s.AlertNotifications {
		body := fmt.Sprintf("Confidence: %s\nSource: %s", r.ConfidenceText(), source)
		a.enqueue("уведомление", func(ctx context.Context) {
			if err := a.notifier.Notify(ctx, "Deepfake Detected!", body, alertActions); err != nil {
				a.logger.Warn("Не удалось показать уведомление: %v", err)
			}
		})
	}
	a.logTelemetry(domain.DetectionLogEntry{
		Timestamp:      now,
		URL:            source,
		Title:          sessionID,
		Confidence:     r.Confidence,
		ProcessingTime: r.ProcessingTimeMs,
	})
}

// Close дожидается выполнения очереди и останавливает исполнителя. Повторный вызов ничего не делает.
func (a *Alerts) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Alerts) enqueue(what string, job func(ctx context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- job:
	default:
		a.logger.Warn("Очередь оповещений переполнена, пропущено: %s", what)
	}
}

func (a *Alerts) worker() {
	defer a.wg.Done()
	for job := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		job(ctx)
		cancel()
	}
}

// logTelemetry отправляет запись в фоне; сбой только логируется
func (a *Alerts) logTelemetry(entry domain.DetectionLogEntry) {
	if a.backend == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
		defer cancel()
		if err := a.backend.LogDetection(ctx, entry); err != nil {
			a.logger.Debug("Логирование обнаружения не удалось (офлайн): %v", err)
		}
	}()
}
