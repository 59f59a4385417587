package application

import (
	"sync"
)

// Topic категория событий
type Topic string

const (
	TopicOverlay    Topic = "overlay"    // payload: OverlayState
	TopicConnection Topic = "connection" // payload: domain.ConnectionState
	TopicDetection  Topic = "detection"  // payload: *domain.DetectionResult (каждый результат)
	TopicDeepfake   Topic = "deepfakeDetected"
	TopicSession    Topic = "session" // payload: SessionEvent
)

// Handler обработчик события
type Handler func(payload any)

// Subscription дескриптор подписки
type Subscription struct {
	bus   *Bus
	topic Topic
	id    uint64
	once  sync.Once
}

// Cancel отменяет подписку. Повторный вызов ничего не делает.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.unsubscribe(s.topic, s.id)
	})
}

// Bus синхронная шина событий: обработчики вызываются в горутине издателя
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic]map[uint64]Handler
	closed bool
}

// NewBus создаёт шину
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[uint64]Handler)}
}

// Subscribe регистрирует обработчик для темы
func (b *Bus) Subscribe(topic Topic, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || h == nil {
		return &Subscription{}
	}
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][b.nextID] = h
	return &Subscription{bus: b, topic: topic, id: b.nextID}
}

// Publish доставляет событие всем подписчикам темы
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	// Вызываем вне блокировки: обработчик может отписаться
	for _, h := range handlers {
		h(payload)
	}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Subscribers количество подписчиков темы
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close отключает всех подписчиков
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Topic]map[uint64]Handler)
}

// BusMessenger реализует Messenger поверх шины: target трактуется как тема
type BusMessenger struct {
	bus *Bus
}

// NewBusMessenger создаёт мессенджер
func NewBusMessenger(bus *Bus) *BusMessenger {
	return &BusMessenger{bus: bus}
}

// SendMessage публикует payload в тему target
func (m *BusMessenger) SendMessage(target string, payload any) error {
	m.bus.Publish(Topic(target), payload)
	return nil
}
