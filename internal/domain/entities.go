package domain

import (
	"fmt"
	"time"
)

// Frame представляет один захваченный кадр (JPEG)
type Frame struct {
	Data       []byte    // Закодированные данные кадра
	Width      int       // Ширина в пикселях
	Height     int       // Высота в пикселях
	Number     int       // Номер кадра внутри источника
	CapturedAt time.Time // Момент захвата
}

// Size возвращает размер данных кадра в байтах
func (f *Frame) Size() int {
	return len(f.Data)
}

// SourceKind тип источника кадров
type SourceKind string

const (
	SourceCamera SourceKind = "camera"
	SourceScreen SourceKind = "screen"
	SourceFile   SourceKind = "file"
	SourceImage  SourceKind = "image"
)

// VideoDevice представляет устройство захвата видео
type VideoDevice struct {
	ID    string // Уникальный идентификатор устройства
	Label string // Человекочитаемое имя устройства
	Kind  string // Тип устройства
}

// SourceConfig содержит конфигурацию источника кадров
type SourceConfig struct {
	Kind         SourceKind
	DeviceID     string // ID камеры (пусто = по умолчанию)
	Width        int    // Предпочтительная ширина
	Height       int    // Предпочтительная высота
	FrameRate    int    // Частота кадров (для файла и экрана - частота декодирования)
	Path         string // Путь к файлу для file/image
	Display      int    // Номер дисплея для screen
	JPEGQuality  int    // Качество JPEG 1..100
	MaxDimension int    // Максимальная сторона кадра после масштабирования (0 = без изменений)
}

// DetectionRequest кадр, отправляемый на анализ. Не изменяется после создания.
type DetectionRequest struct {
	SessionID string
	Seq       uint64
	Frame     *Frame
}

// BoundingBox прямоугольник лица в пикселях кадра
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// FaceResult результат по одному лицу
type FaceResult struct {
	FaceID         int
	Box            BoundingBox
	IsDeepfake     bool
	ConfidenceReal float64
	ConfidenceFake float64
}

// DetectionResult ответ бэкенда по одному кадру или изображению
type DetectionResult struct {
	Seq              uint64 // Номер запроса, 0 если неизвестен
	IsDeepfake       bool
	Confidence       float64 // 0.0 - 1.0
	Faces            []FaceResult
	FacesDetected    int
	ProcessingTimeMs float64
	Message          string
	AnnotatedImage   string // base64, только если запрошено
	ReceivedAt       time.Time
}

// Verdict возвращает текстовый вердикт
func (r *DetectionResult) Verdict() string {
	if r.IsDeepfake {
		return VerdictDeepfake
	}
	return VerdictAuthentic
}

// ConfidenceText возвращает уверенность в процентах, например "93.0%"
func (r *DetectionResult) ConfidenceText() string {
	return FormatConfidence(r.Confidence)
}

const (
	VerdictDeepfake  = "deepfake"
	VerdictAuthentic = "authentic"
)

// FormatConfidence форматирует долю 0..1 как процент с одним знаком
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%.1f%%", c*100)
}

// VideoResult агрегированный результат анализа видеофайла
type VideoResult struct {
	DetectionResult
	FramesAnalyzed      int
	TotalFrames         int
	DeepfakePercentage  float64
	AvgProcessingTimeMs float64
	FrameDetails        []DetectionResult
}

// ConnectionState состояние соединения с бэкендом
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// OverlayPhase фаза отображения результата
type OverlayPhase int

const (
	PhaseIdle OverlayPhase = iota
	PhaseAwaiting
	PhaseDisplaying
	PhaseError
)

func (p OverlayPhase) String() string {
	switch p {
	case PhaseAwaiting:
		return "awaiting"
	case PhaseDisplaying:
		return "displaying"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

// DetectionLogEntry запись телеметрии для /api/log-detection
type DetectionLogEntry struct {
	Timestamp      time.Time
	URL            string
	Title          string
	Confidence     float64
	ProcessingTime float64
}

// DetectionRecord строка истории обнаружений
type DetectionRecord struct {
	ID               int64
	SessionID        string
	Source           string
	IsDeepfake       bool
	Confidence       float64
	FacesDetected    int
	ProcessingTimeMs float64
	RecordedAt       time.Time
}
