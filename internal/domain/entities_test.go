package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestVerdictAndConfidenceText(t *testing.T) {
	r := &DetectionResult{IsDeepfake: true, Confidence: 0.93}
	if r.Verdict() != VerdictDeepfake {
		t.Errorf("Verdict() = %q, want %q", r.Verdict(), VerdictDeepfake)
	}
	if got := r.ConfidenceText(); got != "93.0%" {
		t.Errorf("ConfidenceText() = %q, want 93.0%%", got)
	}

	r = &DetectionResult{IsDeepfake: false, Confidence: 0.5}
	if r.Verdict() != VerdictAuthentic {
		t.Errorf("Verdict() = %q, want %q", r.Verdict(), VerdictAuthentic)
	}
}

func TestFormatConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0%"},
		{1, "100.0%"},
		{0.12345, "12.3%"},
		{0.9999, "100.0%"},
	}
	for _, tt := range tests {
		if got := FormatConfidence(tt.in); got != tt.want {
			t.Errorf("FormatConfidence(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"device", fmt.Errorf("open camera: %w", ErrDeviceUnavailable), KindDeviceUnavailable},
		{"decode", fmt.Errorf("ffmpeg: %w", ErrDecode), KindDecode},
		{"network", &NetworkError{Op: "post", Err: context.DeadlineExceeded}, KindNetwork},
		{"backend", &BackendError{Status: 500, Message: "boom"}, KindBackend},
		{"wrapped backend", fmt.Errorf("detect: %w", &BackendError{Status: 400}), KindBackend},
		{"unauthorized", fmt.Errorf("dial: %w", ErrUnauthorized), KindUnauthorized},
		{"backend 401", &BackendError{Status: 401}, KindUnauthorized},
		{"other", errors.New("x"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
	if !KindNetwork.Retryable() || KindBackend.Retryable() {
		t.Error("only network errors are retryable")
	}
}

func TestNetworkErrorUnwrap(t *testing.T) {
	err := &NetworkError{Op: "get", Err: context.DeadlineExceeded}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("NetworkError should unwrap to the cause")
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("NetworkError should match ErrNetwork")
	}
}
