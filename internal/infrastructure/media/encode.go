// Package media источники кадров из файлов: неподвижные изображения и видео через ffmpeg.
package media

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"

	"deepfake-detector/client/internal/domain"
)

// DefaultJPEGQuality качество JPEG, если не задано в конфигурации
const DefaultJPEGQuality = 80

// Encode уменьшает изображение до maxDim по большей стороне и кодирует в JPEG
func Encode(img image.Image, maxDim, quality int) (*domain.Frame, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	b := img.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		b = img.Bounds()
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("кодирование JPEG: %w", err)
	}
	return &domain.Frame{
		Data:       buf.Bytes(),
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: time.Now(),
	}, nil
}

// Reencode приводит готовый JPEG к ограничениям конфигурации.
// Без ограничения размера кадр возвращается как есть.
func Reencode(jpeg []byte, maxDim, quality int) (*domain.Frame, error) {
	img, err := imaging.Decode(bytes.NewReader(jpeg))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return &domain.Frame{Data: jpeg, Width: b.Dx(), Height: b.Dy(), CapturedAt: time.Now()}, nil
	}
	return Encode(img, maxDim, quality)
}
