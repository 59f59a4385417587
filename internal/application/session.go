package application

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"deepfake-detector/client/internal/domain"
)

// Strategy способ доставки кадров в реальном времени; выбирается при старте сессии
type Strategy string

const (
	// StrategyPoll HTTP-запрос на каждый кадр (/api/detect-realtime)
	StrategyPoll Strategy = "poll"
	// StrategyChannel постоянный WebSocket-канал
	StrategyChannel Strategy = "channel"
)

// SessionConfig параметры запуска обнаружения
type SessionConfig struct {
	Source   domain.SourceConfig
	Strategy Strategy
	Every    int           // Обрабатывать каждый N-й кадр
	Interval time.Duration // Либо не чаще одного кадра за интервал
	Timeout  time.Duration // Потолок ожидания ответа на один кадр
	Label    string        // Метка источника для телеметрии и истории
}

// StreamSession один запуск захвата и обнаружения от старта до остановки
type StreamSession struct {
	ID        string
	Strategy  Strategy
	Every     int
	Interval  time.Duration
	StartedAt time.Time

	seq     atomic.Uint64
	mu      sync.Mutex
	pending uint64 // Номер запроса в полёте, 0 если слот свободен
	sentAt  time.Time
}

func newStreamSession(cfg SessionConfig) *StreamSession {
	return &StreamSession{
		ID:        uuid.NewString(),
		Strategy:  cfg.Strategy,
		Every:     cfg.Every,
		Interval:  cfg.Interval,
		StartedAt: time.Now(),
	}
}

// NextSeq возвращает следующий номер кадра; номера строго возрастают
func (s *StreamSession) NextSeq() uint64 {
	return s.seq.Add(1)
}

// LastSeq последний выданный номер
func (s *StreamSession) LastSeq() uint64 {
	return s.seq.Load()
}

// TryAcquire занимает слот для запроса seq, если он свободен
func (s *StreamSession) TryAcquire(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != 0 {
		return false
	}
	s.pending = seq
	s.sentAt = time.Now()
	return true
}

// Complete освобождает слот, если в полёте именно seq
func (s *StreamSession) Complete(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == 0 || s.pending != seq {
		return false
	}
	s.pending = 0
	return true
}

// Pending номер запроса в полёте и момент отправки
func (s *StreamSession) Pending() (uint64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.sentAt
}

// ReleaseAny освобождает слот независимо от номера (разрыв соединения)
func (s *StreamSession) ReleaseAny() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.pending
	s.pending = 0
	return seq
}

// InFlight количество запросов в полёте: 0 или 1
func (s *StreamSession) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != 0 {
		return 1
	}
	return 0
}
