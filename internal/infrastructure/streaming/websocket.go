package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
	"deepfake-detector/client/internal/infrastructure/wire"
)

var (
	errNotConnected = errors.New("нет соединения")
	errClosed       = errors.New("канал закрыт")
)

// Config параметры постоянного канала
type Config struct {
	URL              string
	Header           http.Header // Например, Authorization
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Reconnect        ReconnectConfig
}

// WebSocketChannel реализует StreamChannel поверх WebSocket
type WebSocketChannel struct {
	cfg       Config
	logger    application.Logger
	dialer    *websocket.Dialer
	debugMode bool
	events    chan application.ChannelEvent

	mutex   sync.Mutex
	conn    *websocket.Conn
	state   domain.ConnectionState
	started bool
	closed  bool
	cancel  context.CancelFunc

	closeOnce    sync.Once
	writeMu      sync.Mutex
	frameCounter int
	startTime    time.Time
}

// NewWebSocketChannel создает новый канал. Соединение устанавливается в Connect.
func NewWebSocketChannel(cfg Config, logger application.Logger, debugMode bool) *WebSocketChannel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Reconnect.RetryDelay <= 0 {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	return &WebSocketChannel{
		cfg:       cfg,
		logger:    logger,
		dialer:    &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		debugMode: debugMode,
		events:    make(chan application.ChannelEvent, 32),
		state:     domain.StateDisconnected,
	}
}

// Connect подключается к серверу и запускает чтение с автоматическим переподключением
func (c *WebSocketChannel) Connect(ctx context.Context) error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return errClosed
	}
	if c.started {
		c.mutex.Unlock()
		return nil
	}
	c.mutex.Unlock()

	u, err := url.Parse(c.cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		c.logger.Error("Некорректный URL канала: %s", c.cfg.URL)
		return fmt.Errorf("некорректный URL канала %q", c.cfg.URL)
	}

	c.logger.Info("Подключение к %s", u.Redacted())
	c.setStateNow(domain.StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Error("Ошибка подключения к серверу: %v", err)
		c.setStateNow(domain.StateError)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		cancel()
		conn.Close()
		return errClosed
	}
	c.conn = conn
	c.started = true
	c.cancel = cancel
	c.frameCounter = 0
	c.startTime = time.Now()
	c.mutex.Unlock()

	c.setStateNow(domain.StateConnected)
	c.logger.Info("Подключено к серверу")
	if err := c.write(conn, Envelope{Event: EventStartStream}); err != nil {
		c.logger.Warn("Не удалось отправить %s: %v", EventStartStream, err)
	}

	go c.run(loopCtx, conn)
	return nil
}

// Send отправляет кадр на анализ
func (c *WebSocketChannel) Send(ctx context.Context, req domain.DetectionRequest) error {
	c.mutex.Lock()
	conn := c.conn
	c.mutex.Unlock()

	if conn == nil {
		return &domain.NetworkError{Op: "отправка кадра", Err: errNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	env, err := NewEnvelope(EventAnalyzeFrame, AnalyzeFrame{
		Image: wire.EncodeImageBase64(req.Frame.Data),
		Seq:   req.Seq,
	})
	if err != nil {
		return err
	}
	if err := c.write(conn, env); err != nil {
		return &domain.NetworkError{Op: "отправка кадра", Err: err}
	}

	c.mutex.Lock()
	c.frameCounter++
	counter, elapsed := c.frameCounter, time.Since(c.startTime).Seconds()
	c.mutex.Unlock()

	// Отладочная информация
	if c.debugMode && counter%30 == 0 && elapsed > 0 {
		c.logger.Debug("Отправлено кадров: %d, FPS: %.2f, размер последнего кадра: %s",
			counter, float64(counter)/elapsed, humanize.Bytes(uint64(req.Frame.Size())))
	}
	return nil
}

// Events поток событий канала
func (c *WebSocketChannel) Events() <-chan application.ChannelEvent {
	return c.events
}

// State текущее состояние соединения
func (c *WebSocketChannel) State() domain.ConnectionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// IsConnected возвращает статус подключения
func (c *WebSocketChannel) IsConnected() bool {
	return c.State() == domain.StateConnected
}

// Close закрывает канал. Повторный вызов ничего не делает.
func (c *WebSocketChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		c.closed = true
		conn := c.conn
		c.conn = nil
		cancel := c.cancel
		started := c.started
		c.state = domain.StateDisconnected
		c.mutex.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			// Отправляем сообщение о закрытии
			err := conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			if err != nil {
				c.logger.Debug("Ошибка закрытия WebSocket: %v", err)
			}
			conn.Close()
		}
		if !started {
			close(c.events)
		}
	})
	return nil
}

// run читает сообщения и переподключается при обрыве. Закрывает events при выходе.
func (c *WebSocketChannel) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.events)

	for {
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Соединение потеряно: %v", err)
		c.mutex.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mutex.Unlock()
		conn.Close()
		c.setState(ctx, domain.StateDisconnected)

		next, err := c.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Переподключение не удалось: %v", err)
			c.emit(ctx, application.ChannelEvent{Kind: application.EventError, Err: err})
			c.setState(ctx, domain.StateError)
			return
		}
		conn = next
	}
}

func (c *WebSocketChannel) reconnect(ctx context.Context) (*websocket.Conn, error) {
	c.setState(ctx, domain.StateConnecting)

	var conn *websocket.Conn
	err := retry(ctx, c.cfg.Reconnect,
		func(ctx context.Context) error {
			var err error
			conn, err = c.dial(ctx)
			return err
		},
		func(err error) bool { return errors.Is(err, domain.ErrUnauthorized) },
		func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("Повторное подключение #%d через %v: %v", attempt, delay, err)
		},
	)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		conn.Close()
		return nil, errClosed
	}
	c.conn = conn
	c.mutex.Unlock()

	c.setState(ctx, domain.StateConnected)
	c.logger.Info("Соединение восстановлено")
	if err := c.write(conn, Envelope{Event: EventStartStream}); err != nil {
		c.logger.Warn("Не удалось отправить %s: %v", EventStartStream, err)
	}
	return conn, nil
}

func (c *WebSocketChannel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Некорректное сообщение от сервера: %v", err)
			continue
		}

		switch env.Event {
		case EventFrameResult, EventAnalysisResult:
			var fr FrameResult
			if err := env.Decode(&fr); err != nil {
				c.logger.Warn("%v", err)
				continue
			}
			res := fr.Analysis.Detection()
			if fr.Seq != 0 {
				res.Seq = fr.Seq
			}
			if res.AnnotatedImage == "" {
				res.AnnotatedImage = fr.AnnotatedFrame
			}
			c.emit(ctx, application.ChannelEvent{Kind: application.EventResult, Result: &res})
		case EventStatus:
			var m Message
			if err := env.Decode(&m); err == nil {
				c.logger.Info("Статус сервера: %s", m.Message)
			}
		case EventError:
			var m Message
			_ = env.Decode(&m)
			c.emit(ctx, application.ChannelEvent{
				Kind: application.EventError,
				Err:  fmt.Errorf("%w: %s", domain.ErrBackend, m.Message),
			})
		default:
			c.logger.Debug("Неизвестное событие %q", env.Event)
		}
	}
}

func (c *WebSocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: статус %d", domain.ErrUnauthorized, resp.StatusCode)
		}
		return nil, &domain.NetworkError{Op: "подключение к каналу", Err: err}
	}
	return conn, nil
}

func (c *WebSocketChannel) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// setState меняет состояние и публикует его из горутины чтения
func (c *WebSocketChannel) setState(ctx context.Context, s domain.ConnectionState) {
	c.mutex.Lock()
	c.state = s
	c.mutex.Unlock()
	c.emit(ctx, application.ChannelEvent{Kind: application.EventState, State: s})
}

// setStateNow публикует состояние без ожидания, до запуска горутины чтения
func (c *WebSocketChannel) setStateNow(s domain.ConnectionState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return
	}
	c.state = s
	select {
	case c.events <- application.ChannelEvent{Kind: application.EventState, State: s}:
	default:
	}
}

func (c *WebSocketChannel) emit(ctx context.Context, ev application.ChannelEvent) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
