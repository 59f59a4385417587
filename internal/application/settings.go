package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"deepfake-detector/client/internal/domain"
)

const (
	settingsKey = "deepfakeSettings"
	statsKey    = "detectionStats"
	historyKey  = "detectionHistory"
)

// Settings пользовательские настройки обнаружения
type Settings struct {
	Enabled            bool     `json:"enabled"`
	ShowOverlays       bool     `json:"showOverlays"`
	AlertNotifications bool     `json:"alertNotifications"`
	Sensitivity        float64  `json:"sensitivity"`
	AlertThreshold     float64  `json:"alertThreshold"`
	ProcessEveryN      int      `json:"processEveryN"`
	IntervalMs         int      `json:"intervalMs"`
	Strategy           Strategy `json:"strategy"`
	HistorySize        int      `json:"historySize"`
}

// DefaultSettings возвращает настройки по умолчанию
func DefaultSettings() Settings {
	return Settings{
		Enabled:            true,
		ShowOverlays:       true,
		AlertNotifications: true,
		Sensitivity:        0.5,
		AlertThreshold:     0.7,
		ProcessEveryN:      3,
		IntervalMs:         0,
		Strategy:           StrategyPoll,
		HistorySize:        DefaultHistorySize,
	}
}

// Validate приводит значения к допустимым диапазонам
func (s *Settings) Validate() {
	d := DefaultSettings()
	if s.Sensitivity < 0 || s.Sensitivity > 1 {
		s.Sensitivity = d.Sensitivity
	}
	if s.AlertThreshold < 0 || s.AlertThreshold > 1 {
		s.AlertThreshold = d.AlertThreshold
	}
	if s.ProcessEveryN < 1 {
		s.ProcessEveryN = d.ProcessEveryN
	}
	if s.IntervalMs < 0 {
		s.IntervalMs = 0
	}
	if s.Strategy != StrategyPoll && s.Strategy != StrategyChannel {
		s.Strategy = d.Strategy
	}
	if s.HistorySize < 1 {
		s.HistorySize = d.HistorySize
	}
}

// LoadSettings читает настройки из хранилища; отсутствующие поля берутся по умолчанию
func LoadSettings(store SettingsStore) (Settings, error) {
	s := DefaultSettings()
	if store == nil {
		return s, nil
	}
	values, err := store.Get(settingsKey)
	if err != nil {
		return s, fmt.Errorf("чтение настроек: %w", err)
	}
	if raw, ok := values[settingsKey]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return DefaultSettings(), fmt.Errorf("разбор настроек: %w", err)
		}
	}
	s.Validate()
	return s, nil
}

// SaveSettings сохраняет настройки
func SaveSettings(store SettingsStore, s Settings) error {
	s.Validate()
	return store.Set(map[string]any{settingsKey: s})
}

// LoadStats читает сохранённую статистику
func LoadStats(store SettingsStore) (StatsSnapshot, error) {
	var snap StatsSnapshot
	if store == nil {
		return snap, nil
	}
	values, err := store.Get(statsKey)
	if err != nil {
		return snap, err
	}
	if raw, ok := values[statsKey]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &snap); err != nil {
			return StatsSnapshot{}, err
		}
	}
	return snap, nil
}

// HistoryItem элемент сохраняемой краткой истории
type HistoryItem struct {
	Timestamp  string  `json:"timestamp"`
	IsDeepfake bool    `json:"isDeepfake"`
	Confidence float64 `json:"confidence"`
	Faces      int     `json:"faces"`
	Source     string  `json:"source,omitempty"`
}

// LocalHistory короткая история обнаружений в хранилище настроек.
// Используется, когда база истории не настроена.
type LocalHistory struct {
	mu       sync.Mutex
	store    SettingsStore
	capacity int
}

// NewLocalHistory создаёт историю на capacity записей (< 1 = DefaultHistorySize)
func NewLocalHistory(store SettingsStore, capacity int) *LocalHistory {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &LocalHistory{store: store, capacity: capacity}
}

// Record добавляет запись в начало и обрезает историю
func (h *LocalHistory) Record(ctx context.Context, rec domain.DetectionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	items, err := h.load()
	if err != nil {
		return err
	}
	item := HistoryItem{
		Timestamp:  rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		IsDeepfake: rec.IsDeepfake,
		Confidence: rec.Confidence,
		Faces:      rec.FacesDetected,
		Source:     rec.Source,
	}
	items = append([]HistoryItem{item}, items...)
	if len(items) > h.capacity {
		items = items[:h.capacity]
	}
	return h.store.Set(map[string]any{historyKey: items})
}

// Recent возвращает до limit записей, новые первыми
func (h *LocalHistory) Recent(ctx context.Context, limit int) ([]domain.DetectionRecord, error) {
	h.mu.Lock()
	items, err := h.load()
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]domain.DetectionRecord, 0, len(items))
	for _, it := range items {
		// Старые записи хранят локальное время без даты; такие остаются с нулевым временем
		at, _ := time.Parse(time.RFC3339Nano, it.Timestamp)
		out = append(out, domain.DetectionRecord{
			Source:        it.Source,
			IsDeepfake:    it.IsDeepfake,
			Confidence:    it.Confidence,
			FacesDetected: it.Faces,
			RecordedAt:    at,
		})
	}
	return out, nil
}

func (h *LocalHistory) load() ([]HistoryItem, error) {
	values, err := h.store.Get(historyKey)
	if err != nil {
		return nil, err
	}
	var items []HistoryItem
	if raw, ok := values[historyKey]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("разбор истории: %w", err)
		}
	}
	return items, nil
}
