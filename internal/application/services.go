package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"deepfake-detector/client/internal/domain"
)

// DefaultRequestTimeout потолок ожидания результата по одному кадру
const DefaultRequestTimeout = 15 * time.Second

var (
	errEndOfStream   = errors.New("конец потока")
	errChannelClosed = errors.New("канал закрыт")
)

// SessionEvent событие жизненного цикла сессии
type SessionEvent struct {
	ID     string
	Active bool
	Err    error // Причина завершения, nil при явной остановке или конце потока
}

// Dependencies зависимости DetectionService
type Dependencies struct {
	Sources        map[domain.SourceKind]SourceOpener
	Cameras        CameraManager // Может быть nil
	Backend        DetectionBackend
	ChannelFactory func() StreamChannel // Может быть nil, если стратегия channel не нужна
	Reconciler     *Reconciler
	Bus            *Bus
	Stats          *Stats
	Alerts         *Alerts       // Может быть nil
	Store          SettingsStore // Может быть nil; туда сохраняется статистика
	Logger         Logger
}

// DetectionService сервис захвата кадров и обнаружения deepfake
type DetectionService struct {
	sources    map[domain.SourceKind]SourceOpener
	cameras    CameraManager
	backend    DetectionBackend
	newChannel func() StreamChannel
	reconciler *Reconciler
	bus        *Bus
	stats      *Stats
	alerts     *Alerts
	store      SettingsStore
	logger     Logger

	mutex  sync.Mutex
	active *run
	last   *run
}

// run состояние одного запуска StreamSession
type run struct {
	session  *StreamSession
	cfg      SessionConfig
	cancel   context.CancelFunc
	source   FrameSource
	channel  StreamChannel
	sampler  *Sampler
	slot     *frameSlot
	captured chan struct{} // Закрывается, когда источник исчерпан
	released chan struct{} // Сигнал об освобождении слота в полёте
	done     chan struct{}

	timerMu   sync.Mutex
	timer     *time.Timer
	abandoned atomic.Int64 // Запросы, истёкшие по таймауту; их ответы без seq ещё могут прийти
	closeOnce sync.Once
	err       error
}

// NewDetectionService создает новый сервис обнаружения
func NewDetectionService(deps Dependencies) *DetectionService {
	if deps.Bus == nil {
		deps.Bus = NewBus()
	}
	if deps.Reconciler == nil {
		deps.Reconciler = NewReconciler(deps.Bus)
	}
	if deps.Stats == nil {
		deps.Stats = NewStats(StatsSnapshot{})
	}
	return &DetectionService{
		sources:    deps.Sources,
		cameras:    deps.Cameras,
		backend:    deps.Backend,
		newChannel: deps.ChannelFactory,
		reconciler: deps.Reconciler,
		bus:        deps.Bus,
		stats:      deps.Stats,
		alerts:     deps.Alerts,
		store:      deps.Store,
		logger:     deps.Logger,
	}
}

// ListDevices возвращает список доступных устройств захвата
func (s *DetectionService) ListDevices() ([]domain.VideoDevice, error) {
	if s.cameras == nil {
		return nil, fmt.Errorf("камера не настроена: %w", domain.ErrDeviceUnavailable)
	}
	devices, err := s.cameras.ListDevices()
	if err != nil {
		s.logger.Error("Ошибка получения списка устройств: %v", err)
		return nil, err
	}
	return devices, nil
}

// StartDetection открывает источник и запускает сессию обнаружения.
// Активная сессия предварительно останавливается.
func (s *DetectionService) StartDetection(ctx context.Context, cfg SessionConfig) (*StreamSession, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Если есть активная сессия, останавливаем её
	if s.active != nil {
		s.stopLocked()
	}

	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPoll
	}
	if cfg.Every < 1 {
		cfg.Every = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Label == "" {
		cfg.Label = string(cfg.Source.Kind)
	}

	opener, ok := s.sources[cfg.Source.Kind]
	if !ok {
		return nil, fmt.Errorf("неизвестный тип источника %q", cfg.Source.Kind)
	}
	if cfg.Strategy == StrategyChannel && s.newChannel == nil {
		return nil, errors.New("стратегия channel не настроена")
	}

	s.logger.Info("Открытие источника %s", cfg.Source.Kind)
	source, err := opener.Open(ctx, cfg.Source)
	if err != nil {
		s.logger.Error("Ошибка открытия источника: %v", err)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	session := newStreamSession(cfg)
	r := &run{
		session:  session,
		cfg:      cfg,
		cancel:   cancel,
		source:   source,
		sampler:  NewSampler(cfg.Every, cfg.Interval),
		slot:     newFrameSlot(),
		captured: make(chan struct{}),
		released: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if cfg.Strategy == StrategyChannel {
		r.channel = s.newChannel()
		s.bus.Publish(TopicConnection, domain.StateConnecting)
		if err := r.channel.Connect(runCtx); err != nil {
			s.logger.Error("Ошибка подключения к каналу: %v", err)
			s.bus.Publish(TopicConnection, domain.StateError)
			cancel()
			_ = source.Close()
			return nil, err
		}
	}

	s.active = r
	s.last = r
	s.stats.SessionStarted()
	s.logger.Info("Сессия %s запущена (стратегия %s, каждый %d кадр, интервал %v)",
		session.ID, cfg.Strategy, cfg.Every, cfg.Interval)
	s.bus.Publish(TopicSession, SessionEvent{ID: session.ID, Active: true})

	go s.execute(runCtx, r)

	return session, nil
}

// StopDetection останавливает сессию. Повторный вызов ничего не делает.
func (s *DetectionService) StopDetection() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.active == nil {
		return nil
	}
	s.stopLocked()
	return nil
}

// Wait ожидает завершения последней сессии (конец файла, терминальная ошибка или остановка)
func (s *DetectionService) Wait(ctx context.Context) error {
	s.mutex.Lock()
	r := s.last
	s.mutex.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session возвращает активную сессию или nil
func (s *DetectionService) Session() *StreamSession {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.active == nil {
		return nil
	}
	return s.active.session
}

// Overlay снимок состояния оверлея
func (s *DetectionService) Overlay() OverlayState {
	return s.reconciler.Snapshot()
}

// Stats снимок статистики
func (s *DetectionService) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// SamplerStats счётчики сэмплера активной или последней сессии
func (s *DetectionService) SamplerStats() SamplerStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.last == nil {
		return SamplerStats{}
	}
	return s.last.sampler.Stats()
}

// Subscribe подписка на события сервиса
func (s *DetectionService) Subscribe(topic Topic, h Handler) *Subscription {
	return s.bus.Subscribe(topic, h)
}

// Health проверяет доступность бэкенда и публикует состояние соединения
func (s *DetectionService) Health(ctx context.Context) error {
	if err := s.backend.Health(ctx); err != nil {
		s.bus.Publish(TopicConnection, domain.StateDisconnected)
		return err
	}
	s.bus.Publish(TopicConnection, domain.StateConnected)
	return nil
}

// Configure передаёт бэкенду частоту обработки кадров
func (s *DetectionService) Configure(ctx context.Context, processEveryN int) error {
	if processEveryN < 1 {
		return fmt.Errorf("process_every_n_frames должен быть >= 1, получено %d", processEveryN)
	}
	return s.backend.Configure(ctx, processEveryN)
}

// AnalyzeImage разовый анализ неподвижного изображения
func (s *DetectionService) AnalyzeImage(ctx context.Context, cfg domain.SourceConfig, returnImage bool) (*domain.DetectionResult, error) {
	cfg.Kind = domain.SourceImage
	opener, ok := s.sources[domain.SourceImage]
	if !ok {
		return nil, errors.New("источник изображений не настроен")
	}
	source, err := opener.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	frame, err := source.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("пустое изображение: %w", domain.ErrDecode)
		}
		return nil, err
	}

	s.reconciler.Begin()
	start := time.Now()
	res, err := s.backend.DetectImage(ctx, domain.DetectionRequest{Frame: frame}, returnImage)
	if err != nil {
		s.fail(ctx, 0, err)
		return nil, err
	}
	s.deliver(ctx, "", cfg.Path, *res, time.Since(start))
	return res, nil
}

// AnalyzeVideo отправляет видеофайл целиком. progress вызывается по мере отправки.
func (s *DetectionService) AnalyzeVideo(ctx context.Context, path string, progress ProgressFunc) (*domain.VideoResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("видеофайл %s: %w: %v", path, domain.ErrDecode, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s - директория: %w", path, domain.ErrDecode)
	}

	s.reconciler.Begin()
	start := time.Now()
	res, err := s.backend.DetectVideo(ctx, path, progress)
	if err != nil {
		s.fail(ctx, 0, err)
		return nil, err
	}
	s.deliver(ctx, "", path, res.DetectionResult, time.Since(start))
	return res, nil
}

// execute запускает горутины захвата, отправки и приёма
func (s *DetectionService) execute(ctx context.Context, r *run) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.captureLoop(gctx, r) })
	switch r.cfg.Strategy {
	case StrategyChannel:
		g.Go(func() error { return s.dispatchChannel(gctx, r) })
		g.Go(func() error { return s.receiveChannel(gctx, r) })
	default:
		g.Go(func() error { return s.dispatchPoll(gctx, r) })
	}

	err := g.Wait()
	switch {
	case errors.Is(err, errEndOfStream):
		s.logger.Info("Источник исчерпан, сессия %s завершена", r.session.ID)
		err = nil
	case ctx.Err() != nil:
		// Явная остановка
		err = nil
	default:
		s.logger.Error("Сессия %s прервана: %v", r.session.ID, err)
		s.reconciler.FailIfLive(ctx, err)
	}

	s.mutex.Lock()
	if s.active == r {
		s.active = nil
		s.teardown(r)
		s.bus.Publish(TopicSession, SessionEvent{ID: r.session.ID, Active: false, Err: err})
	}
	s.mutex.Unlock()

	r.err = err
	close(r.done)
}

// captureLoop читает кадры и пропускает их через сэмплер в почтовый ящик
func (s *DetectionService) captureLoop(ctx context.Context, r *run) error {
	for {
		frame, err := r.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				close(r.captured)
				return nil
			}
			return fmt.Errorf("ошибка чтения кадра: %w", err)
		}
		if frame == nil {
			continue
		}

		d := r.sampler.Admit(frame.CapturedAt, r.session.InFlight() > 0)
		s.stats.FrameCaptured(d)
		if d == Submit {
			r.slot.Put(frame)
		} else if d == Drop {
			s.logger.Debug("Кадр %d отброшен: запрос уже в полёте", frame.Number)
		}
	}
}

// take возвращает следующий кадр для отправки или errEndOfStream,
// когда источник исчерпан и ящик пуст
func (s *DetectionService) take(ctx context.Context, r *run) (*domain.Frame, error) {
	select {
	case f := <-r.slot.ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.captured:
		select {
		case f := <-r.slot.ch:
			return f, nil
		default:
			return nil, errEndOfStream
		}
	}
}

// dispatchPoll отправляет кадры HTTP-запросами, не более одного одновременно
func (s *DetectionService) dispatchPoll(ctx context.Context, r *run) error {
	for {
		frame, err := s.take(ctx, r)
		if err != nil {
			return err
		}

		seq := r.session.NextSeq()
		if !r.session.TryAcquire(seq) {
			continue
		}
		req := domain.DetectionRequest{SessionID: r.session.ID, Seq: seq, Frame: frame}

		s.reconciler.Begin()
		reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		start := time.Now()
		res, err := s.backend.DetectRealtime(reqCtx, req)
		cancel()
		r.session.Complete(seq)

		if ctx.Err() != nil {
			// Сессия остановлена, результат никому не нужен
			return ctx.Err()
		}
		if err != nil {
			s.fail(ctx, seq, err)
			if domain.Classify(err) == domain.KindUnauthorized {
				return err
			}
			continue
		}
		res.Seq = seq
		s.deliver(ctx, r.session.ID, r.cfg.Label, *res, time.Since(start))
	}
}

// dispatchChannel отправляет кадры в постоянный канал, не более одного одновременно
func (s *DetectionService) dispatchChannel(ctx context.Context, r *run) error {
	for {
		frame, err := s.take(ctx, r)
		if errors.Is(err, errEndOfStream) {
			return s.drainChannel(ctx, r)
		}
		if err != nil {
			return err
		}

		seq := r.session.NextSeq()
		if !r.session.TryAcquire(seq) {
			s.logger.Debug("Кадр %d отброшен: запрос уже в полёте", frame.Number)
			continue
		}
		req := domain.DetectionRequest{SessionID: r.session.ID, Seq: seq, Frame: frame}

		s.reconciler.Begin()
		if err := r.channel.Send(ctx, req); err != nil {
			r.session.Complete(seq)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.fail(ctx, seq, err)
			continue
		}
		s.armTimeout(ctx, r, seq)
	}
}

// drainChannel ждёт ответа на последний запрос перед завершением по концу потока
func (s *DetectionService) drainChannel(ctx context.Context, r *run) error {
	for r.session.InFlight() > 0 {
		select {
		case <-r.released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errEndOfStream
}

// armTimeout освобождает слот, если ответ не пришёл за cfg.Timeout
func (s *DetectionService) armTimeout(ctx context.Context, r *run, seq uint64) {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.cfg.Timeout, func() {
		if ctx.Err() != nil {
			return
		}
		if r.session.Complete(seq) {
			r.abandoned.Add(1)
			s.fail(ctx, seq, &domain.NetworkError{Op: "ожидание результата", Err: context.DeadlineExceeded})
			r.signalReleased()
		}
	})
}

// receiveChannel обрабатывает события постоянного канала
func (s *DetectionService) receiveChannel(ctx context.Context, r *run) error {
	events := r.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errChannelClosed
			}
			switch ev.Kind {
			case EventResult:
				s.onChannelResult(ctx, r, ev.Result)
			case EventState:
				s.bus.Publish(TopicConnection, ev.State)
				if ev.State == domain.StateDisconnected {
					// После переподключения ответы на старые запросы не придут
					r.abandoned.Store(0)
					if seq := r.session.ReleaseAny(); seq != 0 {
						r.stopTimer()
						s.fail(ctx, seq, &domain.NetworkError{Op: "канал", Err: errors.New("соединение потеряно")})
					}
					r.signalReleased()
				}
			case EventError:
				if domain.Classify(ev.Err) == domain.KindUnauthorized {
					s.bus.Publish(TopicConnection, domain.StateError)
					return ev.Err
				}
				if seq := r.session.ReleaseAny(); seq != 0 {
					r.stopTimer()
					s.fail(ctx, seq, ev.Err)
					r.signalReleased()
				} else {
					s.logger.Error("Ошибка канала: %v", ev.Err)
				}
			}
		}
	}
}

func (s *DetectionService) onChannelResult(ctx context.Context, r *run, res *domain.DetectionResult) {
	if res == nil {
		return
	}
	if res.Seq == 0 && r.takeAbandoned() {
		s.logger.Debug("Запоздавший ответ без номера на истёкший запрос отброшен")
		return
	}
	pending, sentAt := r.session.Pending()
	seq := res.Seq
	if seq == 0 {
		seq = pending
	}
	if seq == 0 || !r.session.Complete(seq) {
		// Ответ на запрос, который уже истёк по таймауту
		s.logger.Debug("Запоздавший результат отброшен (seq=%d)", res.Seq)
		return
	}
	r.stopTimer()
	out := *res
	out.Seq = seq
	s.deliver(ctx, r.session.ID, r.cfg.Label, out, time.Since(sentAt))
	r.signalReleased()
}

// deliver применяет результат к оверлею, статистике и оповещениям
func (s *DetectionService) deliver(ctx context.Context, sessionID, label string, res domain.DetectionResult, elapsed time.Duration) {
	if !s.reconciler.ApplyIfLive(ctx, res) {
		return
	}
	s.stats.ResultReceived(res.IsDeepfake, float64(elapsed.Microseconds())/1000)
	s.bus.Publish(TopicDetection, &res)
	if s.alerts != nil {
		s.alerts.Handle(sessionID, label, res)
	}
}

func (s *DetectionService) fail(ctx context.Context, seq uint64, err error) {
	s.stats.Failure()
	s.reconciler.FailIfLive(ctx, err)
	s.logger.Error("Ошибка анализа кадра #%d (%s): %v", seq, domain.Classify(err), err)
}

// stopLocked останавливает активную сессию; вызывается под s.mutex
func (s *DetectionService) stopLocked() {
	r := s.active
	s.active = nil
	s.teardown(r)
	s.reconciler.Reset()
	if r.channel != nil {
		s.bus.Publish(TopicConnection, domain.StateDisconnected)
	}
	s.bus.Publish(TopicSession, SessionEvent{ID: r.session.ID, Active: false})
	s.logger.Info("Сессия %s остановлена", r.session.ID)
}

// teardown освобождает ресурсы запуска ровно один раз, не дожидаясь сетевых запросов
func (s *DetectionService) teardown(r *run) {
	r.closeOnce.Do(func() {
		r.cancel()
		r.stopTimer()
		if err := r.source.Close(); err != nil {
			s.logger.Error("Ошибка закрытия источника: %v", err)
		}
		if r.channel != nil {
			if err := r.channel.Close(); err != nil {
				s.logger.Error("Ошибка закрытия канала: %v", err)
			}
		}
		s.persistStats()
	})
}

func (s *DetectionService) persistStats() {
	if s.store == nil {
		return
	}
	if err := s.store.Set(map[string]any{statsKey: s.stats.Snapshot()}); err != nil {
		s.logger.Warn("Не удалось сохранить статистику: %v", err)
	}
}

func (r *run) stopTimer() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// takeAbandoned списывает один ожидаемый ответ на истёкший запрос
func (r *run) takeAbandoned() bool {
	for {
		n := r.abandoned.Load()
		if n <= 0 {
			return false
		}
		if r.abandoned.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (r *run) signalReleased() {
	select {
	case r.released <- struct{}{}:
	default:
	}
}
