package mockbackend

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder сохраняет принятые кадры одного подключения в MJPEG-файл
type Recorder struct {
	mutex      sync.Mutex
	outputFile *os.File
	filePath   string
	frames     int
}

// NewRecorder создает файл записи в outputDir
func NewRecorder(outputDir, prefix string) (*Recorder, error) {
	// Создаем директорию, если она не существует
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию: %w", err)
	}

	// Имя файла на основе текущего времени
	timestamp := time.Now().Format("2006-01-02_15-04-05.000")
	filePath := filepath.Join(outputDir, fmt.Sprintf("%s_%s.mjpeg", prefix, timestamp))

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать файл: %w", err)
	}

	return &Recorder{
		outputFile: file,
		filePath:   filePath,
	}, nil
}

// Write дописывает JPEG-кадр в файл
func (r *Recorder) Write(jpeg []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.outputFile == nil {
		return os.ErrClosed
	}
	if _, err := r.outputFile.Write(jpeg); err != nil {
		return err
	}
	r.frames++
	return nil
}

// Path путь к файлу записи
func (r *Recorder) Path() string {
	return r.filePath
}

// Frames количество записанных кадров
func (r *Recorder) Frames() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.frames
}

// Close закрывает файл
func (r *Recorder) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.outputFile != nil {
		err := r.outputFile.Close()
		r.outputFile = nil
		return err
	}
	return nil
}
