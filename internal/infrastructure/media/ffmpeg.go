package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
)

// DefaultFileFrameRate частота декодирования видеофайла по умолчанию
const DefaultFileFrameRate = 10

// maxFrameSize предел одного JPEG-кадра в потоке ffmpeg
const maxFrameSize = 16 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8} // Start of Image
	jpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// splitJPEG выделяет из потока целые JPEG-кадры по маркерам SOI/EOI
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// Мусор до начала кадра можно отбросить, кроме последнего байта (возможно 0xFF)
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FileOpener декодирует видеофайл через ffmpeg в поток JPEG-кадров
type FileOpener struct {
	ffmpeg string
	logger application.Logger
}

// NewFileOpener создает открыватель видеофайлов; ffmpeg - путь к бинарнику (пусто = из PATH)
func NewFileOpener(ffmpeg string, logger application.Logger) *FileOpener {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &FileOpener{ffmpeg: ffmpeg, logger: logger}
}

// Open запускает ffmpeg и дожидается первого кадра: файл без кадров сразу даёт ErrDecode
func (o *FileOpener) Open(ctx context.Context, config domain.SourceConfig) (application.FrameSource, error) {
	if _, err := os.Stat(config.Path); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", config.Path, domain.ErrDecode, err)
	}
	bin, err := exec.LookPath(o.ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg не найден: %w: %v", domain.ErrDecode, err)
	}

	rate := config.FrameRate
	if rate <= 0 {
		rate = DefaultFileFrameRate
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, bin,
		"-hide_banner", "-loglevel", "error",
		"-i", config.Path,
		"-vf", "fps="+strconv.Itoa(rate),
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3",
		"-")
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("запуск ffmpeg: %w: %v", domain.ErrDecode, err)
	}
	o.logger.Info("Декодирование %s: %d кадр/с", config.Path, rate)

	src := newStreamSource(stdout, config, rate)
	src.stop = func() error {
		cancel()
		err := cmd.Wait()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			o.logger.Debug("ffmpeg: %s", msg)
		}
		return err
	}

	if err := src.prefetch(ctx); err != nil {
		src.Close()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return src, nil
}

// streamSource отдаёт кадры MJPEG-потока с заданной частотой
type streamSource struct {
	scanner  *bufio.Scanner
	config   domain.SourceConfig
	interval time.Duration
	stop     func() error

	pending *domain.Frame
	number  int
	next    time.Time

	closeOnce sync.Once
}

func newStreamSource(r io.Reader, config domain.SourceConfig, rate int) *streamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512<<10), maxFrameSize)
	scanner.Split(splitJPEG)
	return &streamSource{
		scanner:  scanner,
		config:   config,
		interval: time.Second / time.Duration(rate),
	}
}

// prefetch читает первый кадр заранее
func (s *streamSource) prefetch(ctx context.Context) error {
	frame, err := s.read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: нет кадров: %w", s.config.Path, domain.ErrDecode)
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pending = frame
	return nil
}

func (s *streamSource) read() (*domain.Frame, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("чтение потока ffmpeg: %w: %v", domain.ErrDecode, err)
		}
		return nil, io.EOF
	}
	// Буфер сканера переиспользуется
	data := append([]byte(nil), s.scanner.Bytes()...)
	frame, err := Reencode(data, s.config.MaxDimension, s.config.JPEGQuality)
	if err != nil {
		return nil, err
	}
	s.number++
	frame.Number = s.number
	return frame, nil
}

// Next ждёт момента следующего кадра и возвращает его; io.EOF в конце файла
func (s *streamSource) Next(ctx context.Context) (*domain.Frame, error) {
	if !s.next.IsZero() {
		if wait := time.Until(s.next); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
	}

	frame := s.pending
	s.pending = nil
	if frame == nil {
		var err error
		if frame, err = s.read(); err != nil {
			return nil, err
		}
	}
	now := time.Now()
	frame.CapturedAt = now
	if s.next.IsZero() || now.Sub(s.next) > s.interval {
		s.next = now
	}
	s.next = s.next.Add(s.interval)
	return frame, nil
}

func (s *streamSource) Close() error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			// Процесс убит намеренно, его код завершения не интересен
			_ = s.stop()
		}
	})
	return nil
}
