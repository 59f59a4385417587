package application

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision решение сэмплера по кадру
type Decision int

const (
	// Skip кадр не попал на такт сэмплирования
	Skip Decision = iota
	// Drop такт наступил, но запрос уже в полёте: кадр отбрасывается, а не ставится в очередь
	Drop
	// Submit кадр отправляется на анализ
	Submit
)

func (d Decision) String() string {
	switch d {
	case Drop:
		return "drop"
	case Submit:
		return "submit"
	default:
		return "skip"
	}
}

// SamplerStats счётчики решений сэмплера
type SamplerStats struct {
	Seen      uint64
	Skipped   uint64
	Dropped   uint64
	Submitted uint64
}

// Sampler решает, какие кадры отправлять. Такт задаётся либо каждым N-м кадром,
// либо интервалом по времени захвата кадра.
type Sampler struct {
	mu       sync.Mutex
	every    int
	interval time.Duration
	limiter  *rate.Limiter
	count    uint64
	stats    SamplerStats
}

// NewSampler создаёт сэмплер. interval > 0 имеет приоритет над every.
func NewSampler(every int, interval time.Duration) *Sampler {
	if every < 1 {
		every = 1
	}
	s := &Sampler{every: every, interval: interval}
	if interval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return s
}

// Admit принимает решение по кадру, захваченному в момент at, при текущем признаке busy
func (s *Sampler) Admit(at time.Time, busy bool) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Seen++
	if !s.tick(at) {
		s.stats.Skipped++
		return Skip
	}
	if busy {
		s.stats.Dropped++
		return Drop
	}
	s.stats.Submitted++
	return Submit
}

func (s *Sampler) tick(at time.Time) bool {
	if s.limiter != nil {
		return s.limiter.AllowN(at, 1)
	}
	s.count++
	return s.count%uint64(s.every) == 0
}

// Stats возвращает снимок счётчиков
func (s *Sampler) Stats() SamplerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
