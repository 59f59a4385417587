// Package wire описывает JSON-формат сервиса обнаружения, общий для HTTP и WebSocket.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"deepfake-detector/client/internal/domain"
)

const dataURLPrefix = "data:image/jpeg;base64,"

// Face результат по одному лицу
type Face struct {
	FaceID         int       `json:"face_id"`
	BBox           []float64 `json:"bbox"` // [x, y, w, h]
	ConfidenceReal float64   `json:"confidence_real"`
	ConfidenceFake float64   `json:"confidence_fake"`
	IsDeepfake     bool      `json:"is_deepfake"`
}

// Result ответ анализа кадра, изображения или видео.
// Бэкенд использует то deepfake_detected, то is_deepfake.
type Result struct {
	DeepfakeDetected *bool   `json:"deepfake_detected,omitempty"`
	IsDeepfake       *bool   `json:"is_deepfake,omitempty"`
	Confidence       float64 `json:"confidence"`
	FacesDetected    int     `json:"faces_detected"`
	FaceResults      []Face  `json:"face_results,omitempty"`
	ProcessingTimeMs float64 `json:"processing_time_ms,omitempty"`
	Message          string  `json:"message,omitempty"`
	AnnotatedImage   string  `json:"annotated_image,omitempty"`
	Seq              uint64  `json:"seq,omitempty"`

	DeepfakePercentage  float64  `json:"deepfake_percentage,omitempty"`
	FramesAnalyzed      int      `json:"frames_analyzed,omitempty"`
	TotalFrames         int      `json:"total_frames,omitempty"`
	AvgProcessingTimeMs float64  `json:"avg_processing_time_ms,omitempty"`
	FrameDetails        []Result `json:"frame_details,omitempty"`
	FrameResults        []Result `json:"frame_results,omitempty"`

	Error string `json:"error,omitempty"`
}

// Decode разбирает тело ответа; принимает как {"result": {...}}, так и плоский объект
func Decode(body []byte) (*Result, error) {
	var wrapped struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("некорректный JSON ответа: %w", err)
	}
	raw := body
	if len(wrapped.Result) > 0 && string(wrapped.Result) != "null" {
		raw = wrapped.Result
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("некорректный результат: %w", err)
	}
	return &r, nil
}

// Deepfake вердикт с учётом обоих вариантов ключа
func (r *Result) Deepfake() bool {
	switch {
	case r.DeepfakeDetected != nil:
		return *r.DeepfakeDetected
	case r.IsDeepfake != nil:
		return *r.IsDeepfake
	}
	return false
}

// Detection переводит ответ в доменный результат
func (r *Result) Detection() domain.DetectionResult {
	out := domain.DetectionResult{
		Seq:              r.Seq,
		IsDeepfake:       r.Deepfake(),
		Confidence:       r.Confidence,
		FacesDetected:    r.FacesDetected,
		ProcessingTimeMs: r.ProcessingTimeMs,
		Message:          r.Message,
		AnnotatedImage:   r.AnnotatedImage,
		ReceivedAt:       time.Now(),
	}
	for _, f := range r.FaceResults {
		out.Faces = append(out.Faces, domain.FaceResult{
			FaceID:         f.FaceID,
			Box:            box(f.BBox),
			IsDeepfake:     f.IsDeepfake,
			ConfidenceReal: f.ConfidenceReal,
			ConfidenceFake: f.ConfidenceFake,
		})
	}
	if out.FacesDetected == 0 {
		out.FacesDetected = len(out.Faces)
	}
	return out
}

// Video переводит ответ анализа видео в доменный результат
func (r *Result) Video() domain.VideoResult {
	details := r.FrameDetails
	if len(details) == 0 {
		details = r.FrameResults
	}
	v := domain.VideoResult{
		DetectionResult:     r.Detection(),
		FramesAnalyzed:      r.FramesAnalyzed,
		TotalFrames:         r.TotalFrames,
		DeepfakePercentage:  r.DeepfakePercentage,
		AvgProcessingTimeMs: r.AvgProcessingTimeMs,
	}
	for i := range details {
		v.FrameDetails = append(v.FrameDetails, details[i].Detection())
	}
	if v.FramesAnalyzed == 0 {
		v.FramesAnalyzed = len(v.FrameDetails)
	}
	if v.AvgProcessingTimeMs == 0 && v.ProcessingTimeMs > 0 {
		v.AvgProcessingTimeMs = v.ProcessingTimeMs
	}
	return v
}

// FromDetection строит ответ из доменного результата (для тестового бэкенда)
func FromDetection(d domain.DetectionResult) Result {
	deepfake := d.IsDeepfake
	r := Result{
		DeepfakeDetected: &deepfake,
		Confidence:       d.Confidence,
		FacesDetected:    d.FacesDetected,
		ProcessingTimeMs: d.ProcessingTimeMs,
		Message:          d.Message,
		AnnotatedImage:   d.AnnotatedImage,
		Seq:              d.Seq,
	}
	for _, f := range d.Faces {
		r.FaceResults = append(r.FaceResults, Face{
			FaceID:         f.FaceID,
			BBox:           []float64{float64(f.Box.X), float64(f.Box.Y), float64(f.Box.Width), float64(f.Box.Height)},
			ConfidenceReal: f.ConfidenceReal,
			ConfidenceFake: f.ConfidenceFake,
			IsDeepfake:     f.IsDeepfake,
		})
	}
	return r
}

func box(v []float64) domain.BoundingBox {
	if len(v) < 4 {
		return domain.BoundingBox{}
	}
	return domain.BoundingBox{
		X:      int(math.Round(v[0])),
		Y:      int(math.Round(v[1])),
		Width:  int(math.Round(v[2])),
		Height: int(math.Round(v[3])),
	}
}

// EncodeImage кодирует JPEG в data URL, как это делает canvas.toDataURL
func EncodeImage(jpeg []byte) string {
	return dataURLPrefix + base64.StdEncoding.EncodeToString(jpeg)
}

// EncodeImageBase64 чистый base64 без префикса, так кадры уходят по сокету
func EncodeImageBase64(jpeg []byte) string {
	return base64.StdEncoding.EncodeToString(jpeg)
}

// DecodeImage принимает data URL или чистый base64
func DecodeImage(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	if s == "" {
		return nil, errors.New("пустое изображение")
	}
	return base64.StdEncoding.DecodeString(s)
}

// ImageRequest тело /api/detect/image
type ImageRequest struct {
	Image       string `json:"image"`
	ReturnImage bool   `json:"return_image,omitempty"`
}

// RealtimeRequest тело /api/detect-realtime
type RealtimeRequest struct {
	Image string `json:"image"`
	Seq   uint64 `json:"seq,omitempty"`
}

// ConfigureRequest тело /api/configure
type ConfigureRequest struct {
	ProcessEveryNFrames int `json:"process_every_n_frames"`
}

// LogEntry тело /api/log-detection
type LogEntry struct {
	Timestamp      string  `json:"timestamp"`
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Confidence     float64 `json:"confidence"`
	ProcessingTime float64 `json:"processingTime"`
}

// FromLogEntry переводит доменную запись телеметрии
func FromLogEntry(e domain.DetectionLogEntry) LogEntry {
	return LogEntry{
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		URL:            e.URL,
		Title:          e.Title,
		Confidence:     e.Confidence,
		ProcessingTime: e.ProcessingTime,
	}
}

// ErrorBody тело ответа с ошибкой
type ErrorBody struct {
	Error string `json:"error"`
}

// Health ответ /api/health
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}
