package application

import (
	"context"
	"sync"
	"time"

	"deepfake-detector/client/internal/domain"
)

const (
	// DefaultHistorySize длина истории результатов в оверлее
	DefaultHistorySize = 5
	// DefaultErrorHold сколько держится индикатор ошибки до возврата в Idle
	DefaultErrorHold = 3 * time.Second
)

// OverlayState снимок состояния оверлея для отрисовки
type OverlayState struct {
	Phase     domain.OverlayPhase
	Current   *domain.DetectionResult
	History   []domain.DetectionResult // Новые первыми, без Current
	LastError error
	ErrorAt   time.Time
}

// Reconciler сопоставляет асинхронные результаты с состоянием оверлея.
// Единственный, кто меняет OverlayState.
type Reconciler struct {
	mu        sync.Mutex
	state     OverlayState
	capacity  int
	ordered   bool
	errorHold time.Duration
	now       func() time.Time
	bus       *Bus
}

// ReconcilerOption настройка Reconciler
type ReconcilerOption func(*Reconciler)

// WithHistorySize задаёт длину истории
func WithHistorySize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithUnorderedDelivery включает сравнение номеров: устаревшие результаты отбрасываются
func WithUnorderedDelivery() ReconcilerOption {
	return func(r *Reconciler) { r.ordered = false }
}

// WithErrorHold задаёт время жизни индикатора ошибки
func WithErrorHold(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.errorHold = d }
}

// WithClock подменяет источник времени
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler создаёт Reconciler; bus может быть nil
func NewReconciler(bus *Bus, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		capacity:  DefaultHistorySize,
		ordered:   true,
		errorHold: DefaultErrorHold,
		now:       time.Now,
		bus:       bus,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Begin отмечает отправку запроса: Idle/Error -> Awaiting. В Displaying прежний результат остаётся на экране.
func (r *Reconciler) Begin() {
	r.mu.Lock()
	r.expireLocked()
	if r.state.Phase == domain.PhaseIdle || r.state.Phase == domain.PhaseError {
		r.state.Phase = domain.PhaseAwaiting
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.publish(snap)
}

// Apply применяет результат. Возвращает false, если результат устарел и отброшен.
func (r *Reconciler) Apply(result domain.DetectionResult) bool {
	return r.ApplyIfLive(context.Background(), result)
}

// ApplyIfLive как Apply, но отбрасывает результат отменённого запуска.
// Контекст проверяется под блокировкой, поэтому после Reset остановленная сессия ничего не покажет.
func (r *Reconciler) ApplyIfLive(ctx context.Context, result domain.DetectionResult) bool {
	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return false
	}
	if !r.ordered && r.state.Current != nil && result.Seq != 0 && result.Seq <= r.state.Current.Seq {
		r.mu.Unlock()
		return false
	}
	if result.ReceivedAt.IsZero() {
		result.ReceivedAt = r.now()
	}
	if r.state.Current != nil {
		r.state.History = append([]domain.DetectionResult{*r.state.Current}, r.state.History...)
		if len(r.state.History) > r.capacity {
			r.state.History = r.state.History[:r.capacity]
		}
	}
	cur := result
	r.state.Current = &cur
	r.state.Phase = domain.PhaseDisplaying
	r.state.LastError = nil
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.publish(snap)
	return true
}

// Fail отмечает неудачный запрос: Awaiting -> Error
func (r *Reconciler) Fail(err error) {
	r.FailIfLive(context.Background(), err)
}

// FailIfLive как Fail, но игнорирует ошибки отменённого запуска
func (r *Reconciler) FailIfLive(ctx context.Context, err error) {
	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.state.Phase = domain.PhaseError
	r.state.LastError = err
	r.state.ErrorAt = r.now()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.publish(snap)
}

// Reset возвращает оверлей в Idle и очищает результаты
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.state = OverlayState{Phase: domain.PhaseIdle}
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.publish(snap)
}

// Snapshot возвращает копию текущего состояния
func (r *Reconciler) Snapshot() OverlayState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked()
	return r.snapshotLocked()
}

// expireLocked гасит индикатор ошибки по истечении errorHold
func (r *Reconciler) expireLocked() {
	if r.state.Phase == domain.PhaseError && r.now().Sub(r.state.ErrorAt) >= r.errorHold {
		r.state.Phase = domain.PhaseIdle
	}
}

func (r *Reconciler) snapshotLocked() OverlayState {
	s := OverlayState{
		Phase:     r.state.Phase,
		LastError: r.state.LastError,
		ErrorAt:   r.state.ErrorAt,
	}
	if r.state.Current != nil {
		cur := *r.state.Current
		s.Current = &cur
	}
	if len(r.state.History) > 0 {
		s.History = make([]domain.DetectionResult, len(r.state.History))
		copy(s.History, r.state.History)
	}
	return s
}

func (r *Reconciler) publish(s OverlayState) {
	if r.bus != nil {
		r.bus.Publish(TopicOverlay, s)
	}
}
