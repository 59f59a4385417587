// Package settings хранилище ключ-значение в JSON-файле.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore реализует SettingsStore поверх одного JSON-объекта на диске
type FileStore struct {
	mutex sync.Mutex
	path  string
}

// NewFileStore создает хранилище; файл появится при первой записи
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath путь к файлу настроек в каталоге пользователя
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "deepfake-client.json"
	}
	return filepath.Join(dir, "deepfake-client", "settings.json")
}

// Path путь к файлу
func (s *FileStore) Path() string { return s.path }

// Get возвращает значения запрошенных ключей; без ключей возвращает все.
// Отсутствующие ключи в результат не попадают.
func (s *FileStore) Get(keys ...string) (map[string]json.RawMessage, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return all, nil
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set объединяет значения с сохранёнными и атомарно перезаписывает файл
func (s *FileStore) Set(values map[string]any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("кодирование %q: %w", k, err)
		}
		all[k] = raw
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(all); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) load() (map[string]json.RawMessage, error) {
	all := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return all, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("повреждён файл настроек %s: %w", s.path, err)
	}
	return all, nil
}
