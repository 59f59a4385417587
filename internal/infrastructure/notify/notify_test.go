package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeTelegram минимальный Bot API: getMe и sendMessage
type fakeTelegram struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"detector","username":"detector_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		params := map[string]string{}
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		f.mu.Lock()
		f.sent = append(f.sent, params)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	default:
		http.NotFound(w, r)
	}
}

func newTelegram(t *testing.T, dashboard string) (*fakeTelegram, *TelegramNotifier) {
	t.Helper()
	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	n, err := NewTelegramNotifier(TelegramConfig{
		Token:        "123:abc",
		ChatID:       42,
		DashboardURL: dashboard,
		APIEndpoint:  srv.URL + "/bot%s/%s",
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewTelegramNotifier() failed: %v", err)
	}
	return fake, n
}

func TestTelegramNotify(t *testing.T) {
	fake, n := newTelegram(t, "")

	err := n.Notify(context.Background(), "Deepfake Detected!", "Confidence: 93.0%", []string{"View Dashboard", "Dismiss"})
	if err != nil {
		t.Fatalf("Notify() failed: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages", len(fake.sent))
	}
	msg := fake.sent[0]
	if msg["chat_id"] != "42" || !strings.Contains(msg["text"], "Deepfake Detected!") || !strings.Contains(msg["text"], "93.0%") {
		t.Errorf("message %+v", msg)
	}
	if !strings.Contains(msg["reply_markup"], "view_dashboard") || !strings.Contains(msg["reply_markup"], "Dismiss") {
		t.Errorf("keyboard %s", msg["reply_markup"])
	}
}

func TestTelegramDashboardButton(t *testing.T) {
	fake, n := newTelegram(t, "https://example.com/dashboard")
	if err := n.Notify(context.Background(), "t", "b", []string{"View Dashboard"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(fake.sent[0]["reply_markup"], "https://example.com/dashboard") {
		t.Errorf("keyboard %s", fake.sent[0]["reply_markup"])
	}
}

func TestTelegramConfigRequired(t *testing.T) {
	if _, err := NewTelegramNotifier(TelegramConfig{}); err == nil {
		t.Error("empty config must fail")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := esc("face_1 *fake* [x]"); got != `face\_1 \*fake\* \[x]` {
		t.Errorf("esc() = %q", got)
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, string, string, []string) error {
	f.calls++
	return errors.New("offline")
}

func TestMultiContinuesAfterError(t *testing.T) {
	a, b := &failingNotifier{}, &failingNotifier{}
	m := Multi{a, NewLogNotifier(nopLogger{}), b}
	if err := m.Notify(context.Background(), "t", "b", nil); err == nil {
		t.Error("error not reported")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls %d %d", a.calls, b.calls)
	}
}
