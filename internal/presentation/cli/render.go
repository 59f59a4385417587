package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
)

// Renderer печатает состояние оверлея в терминал.
// Обработчики вызываются из шины и не должны обращаться к DetectionService.
type Renderer struct {
	mu        sync.Mutex
	w         io.Writer
	showFaces bool
	lastSeq   uint64
	lastPhase domain.OverlayPhase
	subs      []*application.Subscription
}

// NewRenderer создает отрисовщик; showFaces включает вывод рамок лиц
func NewRenderer(w io.Writer, showFaces bool) *Renderer {
	return &Renderer{w: w, showFaces: showFaces}
}

// Attach подписывает отрисовщик на события сервиса
func (r *Renderer) Attach(svc *application.DetectionService) {
	r.subs = append(r.subs,
		svc.Subscribe(application.TopicOverlay, func(p any) {
			if st, ok := p.(application.OverlayState); ok {
				r.Overlay(st)
			}
		}),
		svc.Subscribe(application.TopicConnection, func(p any) {
			if s, ok := p.(domain.ConnectionState); ok {
				r.printf("Соединение: %s\n", s)
			}
		}),
		svc.Subscribe(application.TopicSession, func(p any) {
			if ev, ok := p.(application.SessionEvent); ok && !ev.Active && ev.Err != nil {
				r.printf("Сессия завершена: %v\n", ev.Err)
			}
		}),
	)
}

// Detach отменяет подписки
func (r *Renderer) Detach() {
	for _, s := range r.subs {
		s.Cancel()
	}
	r.subs = nil
}

// Overlay печатает новый результат или смену фазы
func (r *Renderer) Overlay(st application.OverlayState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.lastPhase
	r.lastPhase = st.Phase
	switch st.Phase {
	case domain.PhaseDisplaying:
		if st.Current == nil || (st.Current.Seq != 0 && st.Current.Seq == r.lastSeq) {
			return
		}
		r.lastSeq = st.Current.Seq
		fmt.Fprintln(r.w, FormatResult(st.Current, r.showFaces))
	case domain.PhaseError:
		if prev != domain.PhaseError {
			fmt.Fprintf(r.w, "Ошибка [%s]: %v\n", domain.Classify(st.LastError), st.LastError)
		}
	case domain.PhaseAwaiting:
		if prev == domain.PhaseIdle {
			fmt.Fprintln(r.w, "Анализ...")
		}
	}
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

// FormatResult строка результата: вердикт, уверенность, лица
func FormatResult(res *domain.DetectionResult, showFaces bool) string {
	var b strings.Builder
	verdict := "REAL"
	if res.IsDeepfake {
		verdict = "FAKE"
	}
	if res.Seq > 0 {
		fmt.Fprintf(&b, "#%d ", res.Seq)
	}
	fmt.Fprintf(&b, "%s %s, лиц: %d", verdict, res.ConfidenceText(), res.FacesDetected)
	if res.ProcessingTimeMs > 0 {
		fmt.Fprintf(&b, ", %.0f мс", res.ProcessingTimeMs)
	}
	if showFaces {
		for _, f := range res.Faces {
			label := "real"
			if f.IsDeepfake {
				label = "fake"
			}
			fmt.Fprintf(&b, "\n  лицо %d: %s %s [%d,%d %dx%d]", f.FaceID, label,
				domain.FormatConfidence(f.ConfidenceFake), f.Box.X, f.Box.Y, f.Box.Width, f.Box.Height)
		}
	}
	return b.String()
}
