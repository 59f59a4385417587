package streaming

import (
	"encoding/json"
	"fmt"

	"deepfake-detector/client/internal/infrastructure/wire"
)

// Имена событий канала
const (
	EventStartStream    = "start_stream"
	EventAnalyzeFrame   = "analyze_frame"
	EventFrameResult    = "frame_result"
	EventAnalysisResult = "analysis_result"
	EventStatus         = "status"
	EventError          = "error"
)

// Envelope конверт сообщения {event, data}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AnalyzeFrame данные analyze_frame
type AnalyzeFrame struct {
	Image string `json:"image"`
	Seq   uint64 `json:"seq,omitempty"`
}

// FrameResult данные frame_result и analysis_result.
// Seq присутствует, только если сервер его возвращает.
type FrameResult struct {
	Frame          string      `json:"frame,omitempty"`
	AnnotatedFrame string      `json:"annotated_frame,omitempty"`
	Analysis       wire.Result `json:"analysis"`
	Seq            uint64      `json:"seq,omitempty"`
}

// Message данные status и error
type Message struct {
	Message string `json:"message"`
}

// NewEnvelope упаковывает данные в конверт
func NewEnvelope(event string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("упаковка %s: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode распаковывает данные конверта
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("событие %s без данных", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("распаковка %s: %w", e.Event, err)
	}
	return nil
}
