package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrDeviceUnavailable нет доступа к камере или экрану (нет прав или устройства)
	ErrDeviceUnavailable = errors.New("устройство недоступно")
	// ErrDecode файл повреждён или формат не поддерживается
	ErrDecode = errors.New("ошибка декодирования")
	// ErrNetwork таймаут или отказ соединения
	ErrNetwork = errors.New("сетевая ошибка")
	// ErrBackend бэкенд ответил статусом ошибки
	ErrBackend = errors.New("ошибка бэкенда")
	// ErrUnauthorized бэкенд отклонил подключение; сессия завершается
	ErrUnauthorized = errors.New("доступ запрещён")
	// ErrSessionActive сессия уже запущена
	ErrSessionActive = errors.New("сессия уже активна")
)

// NetworkError оборачивает ошибку транспорта
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// BackendError ответ бэкенда с неуспешным статусом
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("бэкенд вернул статус %d", e.Status)
	}
	return fmt.Sprintf("бэкенд вернул статус %d: %s", e.Status, e.Message)
}

// Is: статусы 401 и 403 дополнительно считаются ErrUnauthorized
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrBackend:
		return true
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// ErrorKind категория ошибки для отображения и политики повторов
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindDeviceUnavailable
	KindDecode
	KindNetwork
	KindBackend
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindDecode:
		return "decode"
	case KindNetwork:
		return "network"
	case KindBackend:
		return "backend"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Retryable сообщает, имеет ли смысл автоматический повтор
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork
}

// Classify относит ошибку к одной из категорий
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrBackend):
		return KindBackend
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	default:
		return KindUnknown
	}
}
