package media

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/disintegration/imaging"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
)

// StillOpener открывает неподвижное изображение как источник из одного кадра
type StillOpener struct {
	logger application.Logger
}

// NewStillOpener создает открыватель изображений
func NewStillOpener(logger application.Logger) *StillOpener {
	return &StillOpener{logger: logger}
}

// Open декодирует изображение сразу, чтобы повреждённый файл не стал сессией
func (o *StillOpener) Open(ctx context.Context, config domain.SourceConfig) (application.FrameSource, error) {
	img, err := imaging.Open(config.Path, imaging.AutoOrientation(true))
	if err != nil {
		o.logger.Error("Не удалось открыть изображение %s: %v", config.Path, err)
		return nil, fmt.Errorf("%s: %w: %v", config.Path, domain.ErrDecode, err)
	}
	frame, err := Encode(img, config.MaxDimension, config.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", config.Path, domain.ErrDecode, err)
	}
	frame.Number = 1
	o.logger.Debug("Изображение %s: %dx%d", config.Path, frame.Width, frame.Height)
	return &stillSource{frame: frame}, nil
}

// stillSource отдаёт кадр один раз. Close может вызываться из другой горутины.
type stillSource struct {
	mu    sync.Mutex
	frame *domain.Frame
}

func (s *stillSource) Next(ctx context.Context) (*domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frame
	s.frame = nil
	if f == nil {
		return nil, io.EOF
	}
	return f, nil
}

func (s *stillSource) Close() error {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
	return nil
}
