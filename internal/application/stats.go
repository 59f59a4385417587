package application

import (
	"sync"
	"time"
)

// StatsSnapshot копия статистики для отображения и сохранения
type StatsSnapshot struct {
	SessionsStarted   int       `json:"sessionsToday"`
	DeepfakesDetected int       `json:"deepfakesDetected"`
	LastDetection     time.Time `json:"lastDetection,omitempty"`
	FramesCaptured    uint64    `json:"framesCaptured"`
	FramesSubmitted   uint64    `json:"framesSubmitted"`
	FramesSkipped     uint64    `json:"framesSkipped"`
	FramesDropped     uint64    `json:"framesDropped"`
	ResultsReceived   uint64    `json:"resultsReceived"`
	Failures          uint64    `json:"failures"`
	TotalProcessingMs float64   `json:"totalProcessingMs"`
	DeepfakeResults   uint64    `json:"deepfakeResults"`
}

// AvgProcessingMs среднее время обработки одного кадра
func (s StatsSnapshot) AvgProcessingMs() float64 {
	if s.ResultsReceived == 0 {
		return 0
	}
	return s.TotalProcessingMs / float64(s.ResultsReceived)
}

// DetectionRate доля результатов с вердиктом deepfake, 0..1
func (s StatsSnapshot) DetectionRate() float64 {
	if s.ResultsReceived == 0 {
		return 0
	}
	return float64(s.DeepfakeResults) / float64(s.ResultsReceived)
}

// FPS эффективная частота анализа
func (s StatsSnapshot) FPS() float64 {
	avg := s.AvgProcessingMs()
	if avg <= 0 {
		return 0
	}
	return 1000 / avg
}

// Stats статистика приложения. Создаётся на верхнем уровне и передаётся явно.
type Stats struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// NewStats создаёт статистику с начальным состоянием (например, загруженным из хранилища)
func NewStats(initial StatsSnapshot) *Stats {
	return &Stats{s: initial}
}

func (st *Stats) SessionStarted() {
	st.mu.Lock()
	st.s.SessionsStarted++
	st.mu.Unlock()
}

func (st *Stats) FrameCaptured(d Decision) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.FramesCaptured++
	switch d {
	case Skip:
		st.s.FramesSkipped++
	case Drop:
		st.s.FramesDropped++
	case Submit:
		st.s.FramesSubmitted++
	}
}

// ResultReceived учитывает результат; processingMs - время, измеренное клиентом
func (st *Stats) ResultReceived(isDeepfake bool, processingMs float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.ResultsReceived++
	st.s.TotalProcessingMs += processingMs
	if isDeepfake {
		st.s.DeepfakeResults++
	}
}

func (st *Stats) Failure() {
	st.mu.Lock()
	st.s.Failures++
	st.mu.Unlock()
}

// DeepfakeAlerted учитывает сработавшее оповещение
func (st *Stats) DeepfakeAlerted(at time.Time) {
	st.mu.Lock()
	st.s.DeepfakesDetected++
	st.s.LastDetection = at
	st.mu.Unlock()
}

// Snapshot возвращает копию
func (st *Stats) Snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}
