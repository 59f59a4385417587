package application

import (
	"context"
	"sync"
	"sync/atomic"

	"deepfake-detector/client/internal/domain"
)

// frameSlot одноместный почтовый ящик между захватом и отправкой.
// Новый кадр вытесняет непрочитанный, очередь не растёт.
type frameSlot struct {
	mu       sync.Mutex
	ch       chan *domain.Frame
	replaced atomic.Uint64
}

func newFrameSlot() *frameSlot {
	return &frameSlot{ch: make(chan *domain.Frame, 1)}
}

// Put кладёт кадр, вытесняя предыдущий. Возвращает true, если кадр был вытеснен.
func (s *frameSlot) Put(frame *domain.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	select {
	case <-s.ch:
		replaced = true
		s.replaced.Add(1)
	default:
	}
	s.ch <- frame
	return replaced
}

// Take блокируется до появления кадра или отмены контекста
func (s *frameSlot) Take(ctx context.Context) (*domain.Frame, error) {
	select {
	case f := <-s.ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Replaced количество вытесненных кадров
func (s *frameSlot) Replaced() uint64 {
	return s.replaced.Load()
}
