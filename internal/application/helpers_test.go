package application

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deepfake-detector/client/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeSource отдаёт кадры из канала; закрытие канала означает конец потока
type fakeSource struct {
	frames chan *domain.Frame
	closed atomic.Int32
}

func newFakeSource(buffer int) *fakeSource {
	return &fakeSource{frames: make(chan *domain.Frame, buffer)}
}

func (s *fakeSource) Next(ctx context.Context) (*domain.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

func testFrame(n int) *domain.Frame {
	return &domain.Frame{Data: []byte{0xFF, 0xD8}, Width: 640, Height: 480, Number: n, CapturedAt: time.Now()}
}

type fakeOpener struct {
	source FrameSource
	err    error
}

func (o *fakeOpener) Open(context.Context, domain.SourceConfig) (FrameSource, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.source, nil
}

// fakeBackend считает вызовы и максимальное число одновременных запросов.
// Первые hang вызовов DetectRealtime висят до отмены контекста.
type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	seqs     []uint64
	gate     chan struct{}
	hang     int
	result   domain.DetectionResult
	err      error
	logged   chan domain.DetectionLogEntry
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (b *fakeBackend) Health(context.Context) error { return b.err }

func (b *fakeBackend) DetectImage(ctx context.Context, req domain.DetectionRequest, _ bool) (*domain.DetectionResult, error) {
	return b.DetectRealtime(ctx, req)
}

func (b *fakeBackend) DetectRealtime(ctx context.Context, req domain.DetectionRequest) (*domain.DetectionResult, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		m := b.maxSeen.Load()
		if n <= m || b.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	b.mu.Lock()
	b.calls++
	call := b.calls
	b.seqs = append(b.seqs, req.Seq)
	b.mu.Unlock()

	if call <= b.hang {
		<-ctx.Done()
		return nil, &domain.NetworkError{Op: "detect", Err: ctx.Err()}
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, &domain.NetworkError{Op: "detect", Err: ctx.Err()}
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	r := b.result
	return &r, nil
}

func (b *fakeBackend) DetectVideo(context.Context, string, ProgressFunc) (*domain.VideoResult, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &domain.VideoResult{DetectionResult: b.result, FramesAnalyzed: 10, TotalFrames: 100}, nil
}

func (b *fakeBackend) Configure(context.Context, int) error { return b.err }

func (b *fakeBackend) LogDetection(_ context.Context, e domain.DetectionLogEntry) error {
	if b.logged != nil {
		b.logged <- e
	}
	return nil
}

func (b *fakeBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// fakeChannel запоминает отправленные запросы; события подаются тестом
type fakeChannel struct {
	sent      chan domain.DetectionRequest
	events    chan ChannelEvent
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		sent:   make(chan domain.DetectionRequest, 16),
		events: make(chan ChannelEvent, 16),
	}
}

func (c *fakeChannel) Connect(context.Context) error { return nil }

func (c *fakeChannel) Send(_ context.Context, req domain.DetectionRequest) error {
	c.sent <- req
	return nil
}

func (c *fakeChannel) Events() <-chan ChannelEvent { return c.events }

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { c.closed.Store(true) })
	return nil
}

// fakeNotifier запоминает уведомления; если задан block, ждёт его закрытия
type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	block chan struct{}
}

func (n *fakeNotifier) Notify(ctx context.Context, title, body string, actions []string) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, title+"|"+body)
	return nil
}

func (n *fakeNotifier) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

// blockingHistory висит на Record до закрытия release
type blockingHistory struct {
	release chan struct{}
	count   atomic.Int32
}

func (h *blockingHistory) Record(ctx context.Context, _ domain.DetectionRecord) error {
	select {
	case <-h.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.count.Add(1)
	return nil
}

func (h *blockingHistory) Recent(context.Context, int) ([]domain.DetectionRecord, error) {
	return nil, nil
}

func (h *blockingHistory) Count() int { return int(h.count.Load()) }

// waitFor опрашивает cond до истечения двух секунд
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
