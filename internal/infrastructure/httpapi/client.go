// Package httpapi реализует DetectionBackend поверх HTTP API сервиса обнаружения.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
	"deepfake-detector/client/internal/infrastructure/wire"
)

const (
	pathHealth      = "/api/health"
	pathImage       = "/api/detect/image"
	pathRealtime    = "/api/detect-realtime"
	pathVideo       = "/api/detect/video"
	pathVideoLegacy = "/api/detect-video"
	pathConfigure   = "/api/configure"
	pathLog         = "/api/log-detection"

	// defaultTimeout для коротких запросов без дедлайна в контексте
	defaultTimeout = 10 * time.Second
	maxBodySize    = 32 << 20
)

// Client HTTP-клиент сервиса обнаружения
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  application.Logger
}

// NewClient создает клиент. token, если задан, уходит в заголовке Authorization.
func NewClient(baseURL, token string, httpc *http.Client, logger application.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   httpc,
		logger:  logger,
	}
}

// Health проверяет доступность бэкенда
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, pathHealth, nil, "")
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	var h wire.Health
	if err := json.Unmarshal(body, &h); err != nil {
		return &domain.BackendError{Status: http.StatusOK, Message: "некорректный ответ health"}
	}
	if h.Status != "" && h.Status != "healthy" {
		return &domain.BackendError{Status: http.StatusOK, Message: "статус " + h.Status}
	}
	c.logger.Debug("Бэкенд доступен, модель загружена: %v", h.ModelLoaded)
	return nil
}

// DetectImage анализ одного изображения
func (c *Client) DetectImage(ctx context.Context, r domain.DetectionRequest, returnImage bool) (*domain.DetectionResult, error) {
	if r.Frame == nil || len(r.Frame.Data) == 0 {
		return nil, fmt.Errorf("пустой кадр: %w", domain.ErrDecode)
	}
	res, err := c.postResult(ctx, pathImage, wire.ImageRequest{
		Image:       wire.EncodeImage(r.Frame.Data),
		ReturnImage: returnImage,
	})
	if err != nil {
		return nil, err
	}
	d := res.Detection()
	d.Seq = r.Seq
	return &d, nil
}

// DetectRealtime анализ кадра потока
func (c *Client) DetectRealtime(ctx context.Context, r domain.DetectionRequest) (*domain.DetectionResult, error) {
	if r.Frame == nil || len(r.Frame.Data) == 0 {
		return nil, fmt.Errorf("пустой кадр: %w", domain.ErrDecode)
	}
	res, err := c.postResult(ctx, pathRealtime, wire.RealtimeRequest{
		Image: wire.EncodeImage(r.Frame.Data),
		Seq:   r.Seq,
	})
	if err != nil {
		return nil, err
	}
	d := res.Detection()
	d.Seq = r.Seq
	return &d, nil
}

// DetectVideo загружает видеофайл потоком; при 404 повторяет на старом пути
func (c *Client) DetectVideo(ctx context.Context, path string, progress application.ProgressFunc) (*domain.VideoResult, error) {
	res, err := c.uploadVideo(ctx, pathVideo, path, progress)
	var be *domain.BackendError
	if errors.As(err, &be) && be.Status == http.StatusNotFound {
		c.logger.Info("%s не найден, пробуем %s", pathVideo, pathVideoLegacy)
		res, err = c.uploadVideo(ctx, pathVideoLegacy, path, progress)
	}
	if err != nil {
		return nil, err
	}
	v := res.Video()
	return &v, nil
}

// Configure передаёт частоту обработки кадров
func (c *Client) Configure(ctx context.Context, processEveryN int) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	_, err := c.postJSON(ctx, pathConfigure, wire.ConfigureRequest{ProcessEveryNFrames: processEveryN})
	return err
}

// LogDetection отправляет запись телеметрии
func (c *Client) LogDetection(ctx context.Context, entry domain.DetectionLogEntry) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	_, err := c.postJSON(ctx, pathLog, wire.FromLogEntry(entry))
	return err
}

func (c *Client) postResult(ctx context.Context, path string, payload any) (*wire.Result, error) {
	body, err := c.postJSON(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	return decodeResult(body)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("кодирование запроса %s: %w", path, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) uploadVideo(ctx context.Context, path, file string, progress application.ProgressFunc) (*wire.Result, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("открытие %s: %w: %v", file, domain.ErrDecode, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("открытие %s: %w: %v", file, domain.ErrDecode, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer f.Close()
		part, err := mw.CreateFormFile("video", filepath.Base(file))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &progressReader{r: f, total: info.Size(), fn: progress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		pr.Close()
		<-done
		return nil, err
	}
	body, err := c.do(req)
	// Сервер мог ответить, не дочитав тело: освобождаем пишущую горутину
	pr.Close()
	<-done
	if err != nil {
		return nil, err
	}
	return decodeResult(body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("запрос %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do выполняет запрос: сбой соединения -> NetworkError, не-2xx -> BackendError
func (c *Client) do(req *http.Request) ([]byte, error) {
	op := req.Method + " " + req.URL.Path
	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}
	c.logger.Debug("%s -> %d за %v", op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.BackendError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func decodeResult(body []byte) (*wire.Result, error) {
	res, err := wire.Decode(body)
	if err != nil {
		return nil, &domain.BackendError{Status: http.StatusOK, Message: err.Error()}
	}
	if res.Error != "" {
		return nil, &domain.BackendError{Status: http.StatusOK, Message: res.Error}
	}
	return res, nil
}

func errorMessage(body []byte) string {
	var e wire.ErrorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// progressReader сообщает о количестве прочитанных байт
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    application.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
