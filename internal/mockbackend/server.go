// Package mockbackend локальная замена сервиса обнаружения: все HTTP-эндпоинты
// и события WebSocket-канала с заранее заданным ответом.
package mockbackend

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
	"deepfake-detector/client/internal/infrastructure/streaming"
	"deepfake-detector/client/internal/infrastructure/wire"
)

// Options поведение тестового бэкенда
type Options struct {
	Result      domain.DetectionResult // Ответ на каждый кадр
	Delay       time.Duration          // Задержка перед ответом
	FailStatus  int                    // Если > 0, эндпоинты анализа отвечают этим статусом
	DropAfter   int                    // Если > 0, сокет обрывается после N кадров
	OmitSeq     bool                   // Не возвращать seq в ответах канала
	LegacyVideo bool                   // Видео только по /api/detect-video
	Token       string                 // Если задан, требуется Authorization: Bearer <Token>
	RecordDir   string                 // Если задан, кадры канала пишутся в MJPEG-файлы
	Logger      application.Logger
}

// DefaultResult ответ по умолчанию: одно лицо, deepfake с уверенностью 0.93
func DefaultResult() domain.DetectionResult {
	return domain.DetectionResult{
		IsDeepfake:    true,
		Confidence:    0.93,
		FacesDetected: 1,
		Faces: []domain.FaceResult{{
			FaceID:         0,
			Box:            domain.BoundingBox{X: 120, Y: 80, Width: 200, Height: 200},
			IsDeepfake:     true,
			ConfidenceReal: 0.07,
			ConfidenceFake: 0.93,
		}},
		ProcessingTimeMs: 42,
		Message:          "Detected 1 face(s)",
	}
}

// Server тестовый бэкенд
type Server struct {
	upgrader websocket.Upgrader
	logger   application.Logger

	mu           sync.Mutex
	opts         Options
	processEvery int
	logged       []wire.LogEntry

	framesReceived atomic.Int64
	connections    atomic.Int64
	videoBytes     atomic.Int64
}

// New создает бэкенд
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Разрешаем все подключения
			},
		},
		logger:       opts.Logger,
		opts:         opts,
		processEvery: 1,
	}
}

// Handler возвращает маршруты бэкенда
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/detect/image", s.handleImage)
	mux.HandleFunc("POST /api/detect-realtime", s.handleRealtime)
	mux.HandleFunc("POST /api/detect-video", s.handleVideo)
	if !s.options().LegacyVideo {
		mux.HandleFunc("POST /api/detect/video", s.handleVideo)
	}
	mux.HandleFunc("POST /api/configure", s.handleConfigure)
	mux.HandleFunc("POST /api/log-detection", s.handleLog)
	mux.HandleFunc("/ws", s.handleSocket)
	return mux
}

// SetResult меняет ответ на лету
func (s *Server) SetResult(r domain.DetectionResult) {
	s.mu.Lock()
	s.opts.Result = r
	s.mu.Unlock()
}

// SetFailStatus включает или выключает (0) ответы с ошибкой
func (s *Server) SetFailStatus(status int) {
	s.mu.Lock()
	s.opts.FailStatus = status
	s.mu.Unlock()
}

// SetDelay меняет задержку ответа
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.opts.Delay = d
	s.mu.Unlock()
}

// ProcessEvery последнее значение process_every_n_frames
func (s *Server) ProcessEvery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processEvery
}

// Logged принятые записи телеметрии
func (s *Server) Logged() []wire.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.LogEntry(nil), s.logged...)
}

// FramesReceived число кадров, принятых всеми эндпоинтами
func (s *Server) FramesReceived() int64 { return s.framesReceived.Load() }

// Connections число WebSocket-подключений
func (s *Server) Connections() int64 { return s.connections.Load() }

// VideoBytes объём принятых видеофайлов
func (s *Server) VideoBytes() int64 { return s.videoBytes.Load() }

func (s *Server) options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

func (s *Server) authorized(r *http.Request) bool {
	token := s.options().Token
	return token == "" || r.Header.Get("Authorization") == "Bearer "+token
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Deepfake Detection API (mock)",
		"status":  "running",
		"version": "1.0.0",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.Health{Status: "healthy", ModelLoaded: true})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	var req wire.ImageRequest
	img, ok := s.readImage(w, r, &req, func() string { return req.Image })
	if !ok {
		return
	}
	res := s.answer(0)
	if req.ReturnImage {
		res.AnnotatedImage = wire.EncodeImageBase64(img)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	var req wire.RealtimeRequest
	if _, ok := s.readImage(w, r, &req, func() string { return req.Image }); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": s.answer(req.Seq)})
}

// readImage общая часть эндпоинтов изображений: авторизация, разбор, задержка, отказ
func (s *Server) readImage(w http.ResponseWriter, r *http.Request, req any, image func() string) ([]byte, bool) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 32<<20)).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	img, err := wire.DecodeImage(image())
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image data provided")
		return nil, false
	}
	s.framesReceived.Add(1)

	opts := s.options()
	if !sleep(r, opts.Delay) {
		return nil, false
	}
	if opts.FailStatus > 0 {
		writeError(w, opts.FailStatus, "detector failure")
		return nil, false
	}
	return img, true
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No video file provided")
		return
	}
	defer file.Close()
	n, err := io.Copy(io.Discard, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "upload interrupted")
		return
	}
	s.videoBytes.Add(n)
	s.logger.Info("Принято видео %s (%d байт)", header.Filename, n)

	opts := s.options()
	if !sleep(r, opts.Delay) {
		return
	}
	if opts.FailStatus > 0 {
		writeError(w, opts.FailStatus, "detector failure")
		return
	}

	const frames = 8
	res := s.answer(0)
	deepfakeFrames := 0
	if res.Deepfake() {
		deepfakeFrames = frames
	}
	for i := 0; i < frames; i++ {
		res.FrameDetails = append(res.FrameDetails, s.answer(uint64(i+1)))
	}
	res.FramesAnalyzed = frames
	res.TotalFrames = frames * s.ProcessEvery()
	res.DeepfakePercentage = float64(deepfakeFrames) / frames * 100
	res.AvgProcessingTimeMs = opts.Result.ProcessingTimeMs
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req wire.ConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProcessEveryNFrames < 1 {
		writeError(w, http.StatusBadRequest, "process_every_n_frames must be >= 1")
		return
	}
	s.mu.Lock()
	s.processEvery = req.ProcessEveryNFrames
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "process_every_n_frames": req.ProcessEveryNFrames})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var entry wire.LogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.mu.Lock()
	s.logged = append(s.logged, entry)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSocket обработчик WebSocket-подключений
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Ошибка при апгрейде до WebSocket: %v", err)
		return
	}
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()
	s.connections.Add(1)
	s.logger.Info("Клиент подключен: %s", clientAddr)

	var recorder *Recorder
	if dir := s.options().RecordDir; dir != "" {
		recorder, err = NewRecorder(dir, "stream")
		if err != nil {
			s.logger.Error("Не удалось создать запись: %v", err)
		} else {
			s.logger.Info("Запись в файл: %s", recorder.Path())
			defer recorder.Close()
		}
	}

	send := func(event string, data any) error {
		env, err := streaming.NewEnvelope(event, data)
		if err != nil {
			return err
		}
		return conn.WriteJSON(env)
	}
	if err := send(streaming.EventStatus, streaming.Message{Message: "Connected to deepfake detection server"}); err != nil {
		return
	}

	frames := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("Клиент отключен: %s (%v)", clientAddr, err)
			return
		}
		var env streaming.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = send(streaming.EventError, streaming.Message{Message: "invalid message"})
			continue
		}

		switch env.Event {
		case streaming.EventStartStream:
			s.logger.Info("Клиент %s начал поток", clientAddr)
		case streaming.EventAnalyzeFrame:
			var req streaming.AnalyzeFrame
			var img []byte
			if err := env.Decode(&req); err == nil {
				img, err = wire.DecodeImage(req.Image)
			}
			if len(img) == 0 {
				_ = send(streaming.EventError, streaming.Message{Message: "No image data provided"})
				continue
			}
			s.framesReceived.Add(1)
			frames++
			if recorder != nil {
				if err := recorder.Write(img); err != nil {
					s.logger.Error("Ошибка записи данных: %v", err)
				}
			}

			opts := s.options()
			if opts.Delay > 0 {
				time.Sleep(opts.Delay)
			}
			if opts.FailStatus > 0 {
				_ = send(streaming.EventError, streaming.Message{Message: "detector failure"})
			} else {
				seq := req.Seq
				if opts.OmitSeq {
					seq = 0
				}
				out := streaming.FrameResult{
					AnnotatedFrame: req.Image,
					Analysis:       s.answer(0),
					Seq:            seq,
				}
				if err := send(streaming.EventAnalysisResult, out); err != nil {
					return
				}
			}
			if opts.DropAfter > 0 && frames >= opts.DropAfter {
				s.logger.Info("Обрыв соединения с %s после %d кадров", clientAddr, frames)
				return
			}
		default:
			s.logger.Debug("Неизвестное событие %q", env.Event)
		}
	}
}

func (s *Server) answer(seq uint64) wire.Result {
	r := wire.FromDetection(s.options().Result)
	r.Seq = seq
	return r
}

// sleep ждёт d или отмены запроса
func sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorBody{Error: msg})
}

// URL переводит адрес httptest-сервера в адрес WebSocket-канала
func URL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}
