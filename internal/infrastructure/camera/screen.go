package camera

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/vova616/screenshot"
	"golang.org/x/time/rate"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
	"deepfake-detector/client/internal/infrastructure/media"
)

// DefaultScreenFrameRate частота захвата экрана по умолчанию
const DefaultScreenFrameRate = 5

// ScreenOpener захватывает экран как источник кадров
type ScreenOpener struct {
	logger     application.Logger
	screenRect func() (image.Rectangle, error)
	capture    func(image.Rectangle) (*image.RGBA, error)
}

// NewScreenOpener создает источник захвата экрана
func NewScreenOpener(logger application.Logger) *ScreenOpener {
	return &ScreenOpener{
		logger:     logger,
		screenRect: screenshot.ScreenRect,
		capture:    screenshot.CaptureRect,
	}
}

// Open проверяет доступ к экрану пробным снимком.
// Поддерживается только основной дисплей.
func (o *ScreenOpener) Open(ctx context.Context, config domain.SourceConfig) (application.FrameSource, error) {
	if config.Display != 0 {
		return nil, fmt.Errorf("%w: дисплей %d не поддерживается", domain.ErrDeviceUnavailable, config.Display)
	}
	rect, err := o.screenRect()
	if err != nil || rect.Empty() {
		o.logger.Error("Экран недоступен: %v", err)
		return nil, fmt.Errorf("%w: экран недоступен: %v", domain.ErrDeviceUnavailable, err)
	}
	if config.Width > 0 && config.Height > 0 {
		rect = image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+config.Width, rect.Min.Y+config.Height).Intersect(rect)
	}
	if _, err := o.capture(rect); err != nil {
		o.logger.Error("Пробный снимок экрана не удался: %v", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	fps := config.FrameRate
	if fps <= 0 {
		fps = DefaultScreenFrameRate
	}
	o.logger.Info("Захват экрана %v, %d кадр/с", rect, fps)
	return &screenSource{
		rect:    rect,
		config:  config,
		capture: o.capture,
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(fps)), 1),
	}, nil
}

type screenSource struct {
	rect    image.Rectangle
	config  domain.SourceConfig
	capture func(image.Rectangle) (*image.RGBA, error)
	limiter *rate.Limiter
	number  int
}

func (s *screenSource) Next(ctx context.Context) (*domain.Frame, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	img, err := s.capture(s.rect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
	frame, err := media.Encode(img, s.config.MaxDimension, s.config.JPEGQuality)
	if err != nil {
		return nil, err
	}
	s.number++
	frame.Number = s.number
	return frame, nil
}

func (s *screenSource) Close() error { return nil }
