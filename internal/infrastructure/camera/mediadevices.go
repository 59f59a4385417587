package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // Регистрируем драйвер камеры
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
	"deepfake-detector/client/internal/infrastructure/media"
)

// userMedia запрашивает поток у устройства; подменяется в тестах
type userMedia func(constraints mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)

// MediaDevicesManager реализация CameraManager с использованием библиотеки mediadevices
type MediaDevicesManager struct {
	logger       application.Logger
	getUserMedia userMedia
}

// NewMediaDevicesManager создает новый менеджер медиаустройств
func NewMediaDevicesManager(logger application.Logger) *MediaDevicesManager {
	return &MediaDevicesManager{
		logger:       logger,
		getUserMedia: mediadevices.GetUserMedia,
	}
}

// ListDevices возвращает список доступных устройств захвата
func (m *MediaDevicesManager) ListDevices() ([]domain.VideoDevice, error) {
	devices := mediadevices.EnumerateDevices()
	result := make([]domain.VideoDevice, 0, len(devices))

	for _, device := range devices {
		if device.Kind != mediadevices.VideoInput {
			continue
		}
		result = append(result, domain.VideoDevice{
			ID:    device.DeviceID,
			Label: device.Label,
			Kind:  "videoinput",
		})
	}

	return result, nil
}

// Open открывает камеру с заданными параметрами.
// Любой отказ устройства возвращается как domain.ErrDeviceUnavailable.
func (m *MediaDevicesManager) Open(ctx context.Context, config domain.SourceConfig) (application.FrameSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Задаем предпочтительные параметры, но не строгие
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if config.Width > 0 && config.Height > 0 {
				c.Width = prop.Int(config.Width)
				c.Height = prop.Int(config.Height)
			}
			if config.FrameRate > 0 {
				c.FrameRate = prop.Float(float32(config.FrameRate))
			}
			// Если указан конкретный ID устройства
			if config.DeviceID != "" {
				c.DeviceID = prop.String(config.DeviceID)
			}
		},
	}

	// Пробуем получить медиа поток
	mediaStream, err := m.getUserMedia(constraints)
	if err != nil {
		m.logger.Error("Ошибка с исходными ограничениями: %v", err)

		// Пробуем с еще более простыми ограничениями
		m.logger.Info("Пробуем с минимальными ограничениями...")
		constraints = mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				// Никаких форматных ограничений
				if config.DeviceID != "" {
					c.DeviceID = prop.String(config.DeviceID)
				}
			},
		}

		mediaStream, err = m.getUserMedia(constraints)
		if err != nil {
			m.logger.Error("Не удалось получить доступ к медиа-устройству: %v", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
	}

	// Получаем видеотреки
	videoTracks := mediaStream.GetVideoTracks()
	if len(videoTracks) == 0 {
		m.logger.Error("Видеотрек не обнаружен")
		return nil, fmt.Errorf("%w: видеотрек не обнаружен", domain.ErrDeviceUnavailable)
	}
	track, ok := videoTracks[0].(*mediadevices.VideoTrack)
	if !ok {
		videoTracks[0].Close()
		return nil, fmt.Errorf("%w: неподдерживаемый тип трека", domain.ErrDeviceUnavailable)
	}

	m.logger.Info("Камера открыта: %s", track.ID())
	return &trackSource{
		reader:  track.NewReader(false),
		config:  config,
		logger:  m.logger,
		release: track.Close,
	}, nil
}

// trackSource читает кадры видеотрека и кодирует их в JPEG
type trackSource struct {
	reader      video.Reader
	config      domain.SourceConfig
	logger      application.Logger
	release     func() error
	frameNumber int
	closeOnce   sync.Once
}

// Next возвращает очередной кадр. Чтение блокируется до кадра от драйвера; Close его прерывает.
func (s *trackSource) Next(ctx context.Context) (*domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, release, err := s.reader.Read()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("Ошибка чтения кадра: %v", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
	defer func() {
		if release != nil {
			release()
		}
	}()
	return s.encode(img)
}

func (s *trackSource) encode(img image.Image) (*domain.Frame, error) {
	if img == nil {
		return nil, errors.New("пустой кадр от драйвера")
	}
	frame, err := media.Encode(img, s.config.MaxDimension, s.config.JPEGQuality)
	if err != nil {
		return nil, err
	}
	s.frameNumber++
	frame.Number = s.frameNumber
	return frame, nil
}

// Close закрывает трек
func (s *trackSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.release != nil {
			err = s.release()
		}
	})
	return err
}
