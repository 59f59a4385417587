package cli

import (
	"bytes"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
)

func TestChannelURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"http", Config{APIURL: "http://localhost:5000"}, "ws://localhost:5000/ws"},
		{"https with path", Config{APIURL: "https://api.example.com/v1/"}, "wss://api.example.com/v1/ws"},
		{"explicit", Config{APIURL: "http://a", WSURL: "ws://b:9000/socket"}, "ws://b:9000/socket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.channelURL()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("channelURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")
	if got := (Config{}).databaseURL(); got != "" {
		t.Errorf("no host: got %q, want empty", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "history")
	t.Setenv("POSTGRES_PORT", "")
	if got, want := (Config{}).databaseURL(), "postgres://u:p@db:5432/history"; got != want {
		t.Errorf("env: got %q, want %q", got, want)
	}
	t.Setenv("POSTGRES_PASSWORD", "p@ss:w/rd")
	t.Setenv("POSTGRES_PORT", "6543")
	dsn := (Config{}).databaseURL()
	parsed, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("special characters broke the DSN %q: %v", dsn, err)
	}
	if pass, _ := parsed.User.Password(); pass != "p@ss:w/rd" || parsed.Host != "db:6543" || parsed.Path != "/history" {
		t.Errorf("DSN %q parsed as password %q host %q path %q", dsn, pass, parsed.Host, parsed.Path)
	}

	if got := (Config{DBURL: "postgres://x"}).databaseURL(); got != "postgres://x" {
		t.Errorf("flag must win, got %q", got)
	}
}

func sampleResult() *domain.DetectionResult {
	return &domain.DetectionResult{
		Seq:              7,
		IsDeepfake:       true,
		Confidence:       0.934,
		FacesDetected:    1,
		ProcessingTimeMs: 42,
		Faces: []domain.FaceResult{{
			FaceID:         0,
			Box:            domain.BoundingBox{X: 120, Y: 80, Width: 200, Height: 200},
			IsDeepfake:     true,
			ConfidenceFake: 0.934,
		}},
	}
}

func TestFormatResult(t *testing.T) {
	got := FormatResult(sampleResult(), false)
	if want := "#7 FAKE 93.4%, лиц: 1, 42 мс"; got != want {
		t.Errorf("FormatResult() = %q, want %q", got, want)
	}

	withFaces := FormatResult(sampleResult(), true)
	if !strings.Contains(withFaces, "лицо 0: fake 93.4% [120,80 200x200]") {
		t.Errorf("face line missing: %q", withFaces)
	}

	authentic := &domain.DetectionResult{Confidence: 0.1}
	if got := FormatResult(authentic, true); got != "REAL 10.0%, лиц: 0" {
		t.Errorf("FormatResult(real) = %q", got)
	}
}

func TestRendererDeduplicatesAndReportsErrors(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	r.Overlay(application.OverlayState{Phase: domain.PhaseAwaiting})
	res := sampleResult()
	r.Overlay(application.OverlayState{Phase: domain.PhaseDisplaying, Current: res})
	r.Overlay(application.OverlayState{Phase: domain.PhaseDisplaying, Current: res})
	r.Overlay(application.OverlayState{Phase: domain.PhaseAwaiting, Current: res})
	fail := application.OverlayState{Phase: domain.PhaseError, LastError: domain.ErrNetwork}
	r.Overlay(fail)
	r.Overlay(fail)

	out := buf.String()
	if n := strings.Count(out, "#7 FAKE"); n != 1 {
		t.Errorf("result printed %d times, want 1:\n%s", n, out)
	}
	if n := strings.Count(out, "Анализ..."); n != 1 {
		t.Errorf("awaiting printed %d times, want 1:\n%s", n, out)
	}
	if n := strings.Count(out, "Ошибка [network]"); n != 1 {
		t.Errorf("error printed %d times, want 1:\n%s", n, out)
	}
}

func TestApplySetting(t *testing.T) {
	s := application.DefaultSettings()

	ok := []struct{ key, value string }{
		{"enabled", "false"},
		{"processEveryN", "5"},
		{"intervalMs", "250"},
		{"strategy", "CHANNEL"},
		{"alertThreshold", "0.9"},
	}
	for _, c := range ok {
		if err := applySetting(&s, c.key, c.value); err != nil {
			t.Fatalf("applySetting(%s, %s): %v", c.key, c.value, err)
		}
	}
	if s.Enabled || s.ProcessEveryN != 5 || s.IntervalMs != 250 ||
		s.Strategy != application.StrategyChannel || s.AlertThreshold != 0.9 {
		t.Errorf("settings not applied: %+v", s)
	}

	before := s
	bad := []struct{ key, value string }{
		{"processEveryN", "0"},
		{"sensitivity", "1.5"},
		{"strategy", "carrier-pigeon"},
		{"enabled", "maybe"},
		{"unknown", "1"},
	}
	for _, c := range bad {
		if err := applySetting(&s, c.key, c.value); err == nil {
			t.Errorf("applySetting(%s, %s) accepted", c.key, c.value)
		}
	}
	if s.ProcessEveryN != before.ProcessEveryN || s.Strategy != before.Strategy {
		t.Errorf("rejected values leaked into settings: %+v", s)
	}
}

func newStreamFlags() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().Int("every", 0, "")
	cmd.Flags().Duration("interval", 0, "")
	cmd.Flags().String("strategy", "", "")
	return cmd
}

func TestSessionConfigPrefersFlags(t *testing.T) {
	s := application.DefaultSettings()
	s.IntervalMs = 500

	cmd := newStreamFlags()
	cfg, err := sessionConfig(cmd, streamOptions{Source: "screen"}, s)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Every != 3 || cfg.Interval != 500*time.Millisecond || cfg.Strategy != application.StrategyPoll {
		t.Errorf("settings defaults not used: %+v", cfg)
	}

	_ = cmd.Flags().Set("every", "10")
	_ = cmd.Flags().Set("strategy", "channel")
	cfg, err = sessionConfig(cmd, streamOptions{Source: "file", Path: "call.mp4", Every: 10, Strategy: "channel"}, s)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Every != 10 || cfg.Strategy != application.StrategyChannel || cfg.Label != "call.mp4" {
		t.Errorf("flags not applied: %+v", cfg)
	}
}

func TestSessionConfigRejects(t *testing.T) {
	s := application.DefaultSettings()

	if _, err := sessionConfig(newStreamFlags(), streamOptions{Source: "file"}, s); err == nil {
		t.Error("file source without path accepted")
	}
	if _, err := sessionConfig(newStreamFlags(), streamOptions{Source: "microphone"}, s); err == nil {
		t.Error("unknown source accepted")
	}

	s.Enabled = false
	if _, err := sessionConfig(newStreamFlags(), streamOptions{Source: "camera"}, s); err == nil {
		t.Error("disabled detection accepted")
	}
}

func TestPrintHistory(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printHistory(&buf, nil, now)
	if !strings.Contains(buf.String(), "История пуста") {
		t.Errorf("empty history: %q", buf.String())
	}

	buf.Reset()
	printHistory(&buf, []domain.DetectionRecord{
		{Source: "camera", IsDeepfake: true, Confidence: 0.93, FacesDetected: 1, RecordedAt: now.Add(-time.Minute)},
		{Source: "clip.mp4", Confidence: 0.2, RecordedAt: now.Add(-time.Hour)},
	}, now)
	out := buf.String()
	for _, want := range []string{"ИСТОЧНИК", "camera", "deepfake", "93.0%", "clip.mp4", "authentic"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	printDevices(&buf, []domain.VideoDevice{{ID: "cam-1", Label: "FaceTime HD", Kind: "videoinput"}})
	if want := "[0] FaceTime HD (videoinput) id=cam-1"; !strings.Contains(buf.String(), want) {
		t.Errorf("got %q, want line %q", buf.String(), want)
	}
}

func TestErrorKindInHealthMessage(t *testing.T) {
	err := &domain.NetworkError{Op: "health", Err: errors.New("connection refused")}
	if got := domain.Classify(err).String(); got != "network" {
		t.Errorf("Classify() = %s", got)
	}
}
