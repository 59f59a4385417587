package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"deepfake-detector/client/internal/domain"
)

type harness struct {
	svc      *DetectionService
	source   *fakeSource
	opener   *fakeOpener
	backend  *fakeBackend
	channel  *fakeChannel
	notifier *fakeNotifier
	store    memoryStore
}

func newHarness(t *testing.T, sourceBuffer int) *harness {
	t.Helper()
	h := &harness{
		source:   newFakeSource(sourceBuffer),
		backend:  &fakeBackend{result: result(0, true, 0.93)},
		channel:  newFakeChannel(),
		notifier: &fakeNotifier{},
		store:    memoryStore{},
	}
	h.opener = &fakeOpener{source: h.source}

	bus := NewBus()
	stats := NewStats(StatsSnapshot{})
	settings := DefaultSettings()
	alerts := NewAlerts(h.notifier, nil, nil, nil, stats, nopLogger{}, func() Settings { return settings })
	t.Cleanup(alerts.Close)
	h.svc = NewDetectionService(Dependencies{
		Sources: map[domain.SourceKind]SourceOpener{
			domain.SourceCamera: h.opener,
			domain.SourceFile:   h.opener,
			domain.SourceImage:  h.opener,
		},
		Backend:        h.backend,
		ChannelFactory: func() StreamChannel { return h.channel },
		Reconciler:     NewReconciler(bus),
		Bus:            bus,
		Stats:          stats,
		Alerts:         alerts,
		Store:          h.store,
		Logger:         nopLogger{},
	})
	t.Cleanup(func() { _ = h.svc.StopDetection() })
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.svc.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestStartDetectionRoundTrip(t *testing.T) {
	h := newHarness(t, 1)
	h.source.frames <- testFrame(1)
	close(h.source.frames)

	session, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source: domain.SourceConfig{Kind: domain.SourceFile, Path: "clip.mp4"},
		Every:  1,
	})
	if err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}
	if session.Strategy != StrategyPoll {
		t.Errorf("default strategy %v, want poll", session.Strategy)
	}
	h.wait(t)

	s := h.svc.Overlay()
	if s.Phase != domain.PhaseDisplaying || s.Current == nil {
		t.Fatalf("overlay %+v, want displaying", s)
	}
	if s.Current.Verdict() != domain.VerdictDeepfake || s.Current.ConfidenceText() != "93.0%" {
		t.Errorf("got %s %s", s.Current.Verdict(), s.Current.ConfidenceText())
	}
	if s.Current.Seq != 1 {
		t.Errorf("result seq %d, want 1", s.Current.Seq)
	}
	waitFor(t, "deepfake notification", func() bool { return len(h.notifier.Calls()) == 1 })
	if h.svc.Session() != nil {
		t.Error("session must end at end of stream")
	}
	if h.source.closed.Load() != 1 {
		t.Errorf("source closed %d times, want 1", h.source.closed.Load())
	}
	if _, ok := h.store[statsKey]; !ok {
		t.Error("stats must be persisted when the session ends")
	}
}

func TestStartDetectionAtMostOneInFlight(t *testing.T) {
	h := newHarness(t, 16)
	h.backend.gate = make(chan struct{})
	for i := 1; i <= 10; i++ {
		h.source.frames <- testFrame(i)
	}
	close(h.source.frames)

	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source: domain.SourceConfig{Kind: domain.SourceFile},
		Every:  1,
	}); err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}

	waitFor(t, "first request", func() bool { return h.backend.Calls() >= 1 })
	waitFor(t, "capture drained", func() bool { return h.svc.Stats().FramesCaptured == 10 })
	if got := h.backend.Calls(); got != 1 {
		t.Fatalf("%d requests issued while the first is pending, want 1", got)
	}
	close(h.backend.gate)
	h.wait(t)

	if m := h.backend.maxSeen.Load(); m != 1 {
		t.Errorf("max concurrent requests %d, want 1", m)
	}
	st := h.svc.Stats()
	if st.FramesSubmitted+st.FramesDropped+st.FramesSkipped != st.FramesCaptured {
		t.Errorf("decisions do not add up: %+v", st)
	}
	if calls := h.backend.Calls(); calls > 2 {
		t.Errorf("%d requests; overwritten frames must not be queued", calls)
	}
}

func TestStartDetectionSequenceIncreases(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source: domain.SourceConfig{Kind: domain.SourceCamera},
		Every:  1,
	}); err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		h.source.frames <- testFrame(i)
		want := uint64(i)
		waitFor(t, fmt.Sprintf("result %d", i), func() bool {
			s := h.svc.Overlay()
			return s.Current != nil && s.Current.Seq == want
		})
	}

	h.backend.mu.Lock()
	seqs := append([]uint64(nil), h.backend.seqs...)
	h.backend.mu.Unlock()
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequence not increasing: %v", seqs)
		}
	}
	if got := h.svc.Overlay().History; len(got) != 2 {
		t.Errorf("history length %d, want 2", len(got))
	}
}

func TestStopDetectionIdempotent(t *testing.T) {
	h := newHarness(t, 0)
	if err := h.svc.StopDetection(); err != nil {
		t.Fatalf("StopDetection() without session: %v", err)
	}

	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source: domain.SourceConfig{Kind: domain.SourceCamera},
	}); err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}
	if h.svc.Session() == nil {
		t.Fatal("session must be active")
	}

	for i := 0; i < 3; i++ {
		if err := h.svc.StopDetection(); err != nil {
			t.Fatalf("StopDetection() #%d: %v", i+1, err)
		}
	}
	h.wait(t)

	if h.svc.Session() != nil {
		t.Error("session still active after stop")
	}
	if got := h.source.closed.Load(); got != 1 {
		t.Errorf("source closed %d times, want 1", got)
	}
	if got := h.svc.Overlay().Phase; got != domain.PhaseIdle {
		t.Errorf("overlay phase %v after stop, want idle", got)
	}
}

func TestStopDetectionDoesNotWaitForNetwork(t *testing.T) {
	h := newHarness(t, 1)
	h.backend.hang = 1
	h.source.frames <- testFrame(1)

	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source:  domain.SourceConfig{Kind: domain.SourceCamera},
		Every:   1,
		Timeout: time.Minute,
	}); err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}
	waitFor(t, "request in flight", func() bool { return h.backend.Calls() == 1 })

	done := make(chan struct{})
	go func() {
		_ = h.svc.StopDetection()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StopDetection() blocked on in-flight request")
	}
	h.wait(t)
	if got := h.svc.Overlay(); got.Phase != domain.PhaseIdle || got.Current != nil {
		t.Errorf("late result leaked into overlay: %+v", got)
	}
}

func TestStartDetectionCameraDenied(t *testing.T) {
	h := newHarness(t, 0)
	h.opener.err = fmt.Errorf("open camera: %w", domain.ErrDeviceUnavailable)

	_, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source: domain.SourceConfig{Kind: domain.SourceCamera},
	})
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("got %v, want ErrDeviceUnavailable", err)
	}
	if h.svc.Session() != nil {
		t.Error("no session may be created")
	}
	if got := h.svc.Overlay().Phase; got != domain.PhaseIdle {
		t.Errorf("overlay phase %v, want idle", got)
	}
	if got := h.svc.Stats().SessionsStarted; got != 0 {
		t.Errorf("SessionsStarted = %d, want 0", got)
	}
}

func TestStartDetectionUnknownSource(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source: domain.SourceConfig{Kind: domain.SourceScreen},
	}); err == nil {
		t.Fatal("unconfigured source kind must be rejected")
	}
}

func TestPollTimeoutReleasesSlot(t *testing.T) {
	h := newHarness(t, 0)
	h.backend.hang = 1

	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source:  domain.SourceConfig{Kind: domain.SourceCamera},
		Every:   1,
		Timeout: 50 * time.Millisecond,
	}); err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}

	h.source.frames <- testFrame(1)
	waitFor(t, "timeout error", func() bool {
		s := h.svc.Overlay()
		return s.Phase == domain.PhaseError && errors.Is(s.LastError, domain.ErrNetwork)
	})
	if got := h.svc.Session().InFlight(); got != 0 {
		t.Fatalf("slot still occupied after timeout")
	}

	h.source.frames <- testFrame(2)
	waitFor(t, "next result", func() bool { return h.svc.Overlay().Phase == domain.PhaseDisplaying })
	if got := h.svc.Stats().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestPollUnauthorizedEndsSession(t *testing.T) {
	h := newHarness(t, 1)
	h.backend.err = &domain.BackendError{Status: 401, Message: "unauthorized"}
	h.source.frames <- testFrame(1)

	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source: domain.SourceConfig{Kind: domain.SourceCamera},
		Every:  1,
	}); err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.svc.Wait(ctx)
	if domain.Classify(err) != domain.KindUnauthorized {
		t.Fatalf("Wait() = %v, want unauthorized", err)
	}
	if h.svc.Session() != nil {
		t.Error("session must end on unauthorized")
	}
	if got := h.svc.Overlay().Phase; got != domain.PhaseError {
		t.Errorf("overlay phase %v, want error", got)
	}
}

func startChannel(t *testing.T, h *harness, timeout time.Duration) {
	t.Helper()
	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source:   domain.SourceConfig{Kind: domain.SourceCamera},
		Strategy: StrategyChannel,
		Every:    1,
		Timeout:  timeout,
	}); err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}
}

func nextSent(t *testing.T, h *harness) domain.DetectionRequest {
	t.Helper()
	select {
	case req := <-h.channel.sent:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent to channel")
		return domain.DetectionRequest{}
	}
}

func TestChannelDisconnectAndResume(t *testing.T) {
	h := newHarness(t, 0)
	startChannel(t, h, time.Minute)

	h.source.frames <- testFrame(1)
	first := nextSent(t, h)

	h.channel.events <- ChannelEvent{Kind: EventState, State: domain.StateDisconnected}
	waitFor(t, "slot release on disconnect", func() bool {
		return h.svc.Session().InFlight() == 0 && h.svc.Overlay().Phase == domain.PhaseError
	})

	h.channel.events <- ChannelEvent{Kind: EventState, State: domain.StateConnected}
	h.source.frames <- testFrame(2)
	second := nextSent(t, h)
	if second.Seq <= first.Seq {
		t.Fatalf("seq after reconnect %d, want > %d", second.Seq, first.Seq)
	}

	// Ответ на потерянный запрос приходит поздно и отбрасывается
	late := result(first.Seq, false, 0.1)
	h.channel.events <- ChannelEvent{Kind: EventResult, Result: &late}
	fresh := result(second.Seq, true, 0.93)
	h.channel.events <- ChannelEvent{Kind: EventResult, Result: &fresh}

	waitFor(t, "fresh result", func() bool {
		s := h.svc.Overlay()
		return s.Phase == domain.PhaseDisplaying && s.Current != nil && s.Current.Seq == second.Seq
	})
	if got := h.svc.Overlay().History; len(got) != 0 {
		t.Errorf("late result reached history: %+v", got)
	}
}

func TestChannelResultWithoutSeq(t *testing.T) {
	h := newHarness(t, 0)
	startChannel(t, h, time.Minute)

	h.source.frames <- testFrame(1)
	req := nextSent(t, h)

	res := result(0, false, 0.2)
	h.channel.events <- ChannelEvent{Kind: EventResult, Result: &res}
	waitFor(t, "result", func() bool {
		s := h.svc.Overlay()
		return s.Current != nil && s.Current.Seq == req.Seq
	})
}

func TestChannelTimeoutReleasesSlot(t *testing.T) {
	h := newHarness(t, 0)
	startChannel(t, h, 50*time.Millisecond)

	h.source.frames <- testFrame(1)
	nextSent(t, h)
	waitFor(t, "timeout", func() bool {
		return h.svc.Session().InFlight() == 0 && h.svc.Overlay().Phase == domain.PhaseError
	})

	h.source.frames <- testFrame(2)
	nextSent(t, h)
}

func TestChannelLateReplyWithoutSeqAfterTimeout(t *testing.T) {
	h := newHarness(t, 0)
	startChannel(t, h, 200*time.Millisecond)

	h.source.frames <- testFrame(1)
	nextSent(t, h)
	waitFor(t, "timeout", func() bool { return h.svc.Session().InFlight() == 0 })

	h.source.frames <- testFrame(2)
	second := nextSent(t, h)

	// Сначала приходит ответ на истёкший первый кадр, затем на второй
	late := result(0, true, 0.99)
	fresh := result(0, false, 0.2)
	h.channel.events <- ChannelEvent{Kind: EventResult, Result: &late}
	h.channel.events <- ChannelEvent{Kind: EventResult, Result: &fresh}

	waitFor(t, "result for the second frame", func() bool {
		s := h.svc.Overlay()
		return s.Current != nil && s.Current.Seq == second.Seq
	})
	s := h.svc.Overlay()
	if s.Current.Confidence != 0.2 || s.Current.IsDeepfake {
		t.Errorf("second frame shows %+v, want the fresh reply", *s.Current)
	}
	if len(s.History) != 0 {
		t.Errorf("late reply leaked into history: %+v", s.History)
	}
}

func TestPollKeepsFlowingWhileSideEffectsHang(t *testing.T) {
	h := newHarness(t, 0)
	release := make(chan struct{})
	defer close(release)
	settings := DefaultSettings()
	alerts := NewAlerts(&fakeNotifier{block: release}, nil, &blockingHistory{release: release}, nil,
		nil, nopLogger{}, func() Settings { return settings })
	t.Cleanup(alerts.Close)
	h.svc.alerts = alerts

	if _, err := h.svc.StartDetection(context.Background(), SessionConfig{
		Source: domain.SourceConfig{Kind: domain.SourceCamera},
		Every:  1,
	}); err != nil {
		t.Fatalf("StartDetection() failed: %v", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for i := 1; ; i++ {
			select {
			case h.source.frames <- testFrame(i):
			case <-stop:
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	waitFor(t, "frames to keep reaching the backend", func() bool { return h.backend.Calls() >= 10 })
	if s := h.svc.Overlay(); s.Current == nil || s.Current.Seq < 2 {
		t.Errorf("overlay stuck at %+v", s.Current)
	}
}

func TestStopDiscardsPendingResult(t *testing.T) {
	h := newHarness(t, 0)
	startChannel(t, h, time.Minute)

	h.source.frames <- testFrame(1)
	req := nextSent(t, h)
	if err := h.svc.StopDetection(); err != nil {
		t.Fatal(err)
	}

	// Сессия уже остановлена: применение под отменённым контекстом ничего не меняет
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.svc.deliver(ctx, "s", "camera", result(req.Seq, true, 0.9), time.Millisecond)
	h.svc.fail(ctx, req.Seq, domain.ErrNetwork)

	if s := h.svc.Overlay(); s.Phase != domain.PhaseIdle || s.Current != nil {
		t.Errorf("overlay after stop %+v, want idle", s)
	}
}

func TestChannelClosedOnStop(t *testing.T) {
	h := newHarness(t, 0)
	startChannel(t, h, time.Minute)
	_ = h.svc.StopDetection()
	h.wait(t)
	if !h.channel.closed.Load() {
		t.Error("channel must be closed on stop")
	}
}

func TestAnalyzeImage(t *testing.T) {
	h := newHarness(t, 1)
	h.source.frames <- testFrame(1)

	res, err := h.svc.AnalyzeImage(context.Background(), domain.SourceConfig{Path: "face.jpg"}, false)
	if err != nil {
		t.Fatalf("AnalyzeImage() failed: %v", err)
	}
	if res.ConfidenceText() != "93.0%" {
		t.Errorf("confidence %s", res.ConfidenceText())
	}
	if got := h.svc.Overlay().Phase; got != domain.PhaseDisplaying {
		t.Errorf("overlay phase %v", got)
	}
}

func TestAnalyzeVideoMissingFile(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.svc.AnalyzeVideo(context.Background(), "/nonexistent/clip.mp4", nil)
	if !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("got %v, want ErrDecode", err)
	}
}

func TestConfigureValidates(t *testing.T) {
	h := newHarness(t, 0)
	if err := h.svc.Configure(context.Background(), 0); err == nil {
		t.Error("zero must be rejected")
	}
	if err := h.svc.Configure(context.Background(), 5); err != nil {
		t.Errorf("Configure(5) = %v", err)
	}
}
