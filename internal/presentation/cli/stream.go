package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
	"deepfake-detector/client/internal/infrastructure/media"
)

type streamOptions struct {
	Source   string
	Device   string
	Path     string
	Display  int
	Width    int
	Height   int
	FPS      int
	MaxDim   int
	Quality  int
	Every    int
	Interval time.Duration
	Strategy string
	Timeout  time.Duration
	Duration time.Duration
}

var streamOpts streamOptions

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Непрерывный анализ кадров с камеры, экрана или видеофайла",
	Example: `  deepfake-client stream --source camera --every 3
  deepfake-client stream --source screen --strategy channel
  deepfake-client stream --source file --path call.mp4 --interval 500ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sessionConfig(cmd, streamOpts, app.Settings)
		if err != nil {
			return err
		}
		return runStream(cmd.Context(), cmd.OutOrStdout(), cfg, streamOpts.Duration)
	},
}

func init() {
	f := streamCmd.Flags()
	f.StringVarP(&streamOpts.Source, "source", "s", string(domain.SourceCamera), "источник кадров: camera, screen, file")
	f.StringVar(&streamOpts.Device, "device", "", "ID устройства камеры")
	f.StringVar(&streamOpts.Path, "path", "", "путь к видеофайлу для источника file")
	f.IntVar(&streamOpts.Display, "display", 0, "номер дисплея для источника screen")
	f.IntVar(&streamOpts.Width, "width", 640, "предпочтительная ширина кадра")
	f.IntVar(&streamOpts.Height, "height", 480, "предпочтительная высота кадра")
	f.IntVar(&streamOpts.FPS, "fps", 0, "частота кадров источника (0 = по умолчанию для источника)")
	f.IntVar(&streamOpts.MaxDim, "max-dim", 640, "максимальная сторона кадра перед отправкой")
	f.IntVar(&streamOpts.Quality, "quality", media.DefaultJPEGQuality, "качество JPEG 1..100")
	f.IntVar(&streamOpts.Every, "every", 0, "отправлять каждый N-й кадр (по умолчанию из настроек)")
	f.DurationVar(&streamOpts.Interval, "interval", 0, "не чаще одного кадра за интервал (по умолчанию из настроек)")
	f.StringVar(&streamOpts.Strategy, "strategy", "", "доставка кадров: poll или channel (по умолчанию из настроек)")
	f.DurationVar(&streamOpts.Timeout, "timeout", application.DefaultRequestTimeout, "ожидание ответа на один кадр")
	f.DurationVar(&streamOpts.Duration, "duration", 0, "остановить анализ через заданное время (0 = до Ctrl+C)")
	rootCmd.AddCommand(streamCmd)
}

// sessionConfig собирает параметры сессии; явно заданные флаги важнее настроек
func sessionConfig(cmd *cobra.Command, o streamOptions, s application.Settings) (application.SessionConfig, error) {
	if !s.Enabled {
		return application.SessionConfig{}, errors.New("обнаружение отключено в настройках (deepfake-client settings set enabled true)")
	}

	kind := domain.SourceKind(o.Source)
	switch kind {
	case domain.SourceCamera, domain.SourceScreen:
	case domain.SourceFile:
		if o.Path == "" {
			return application.SessionConfig{}, errors.New("для источника file нужен --path")
		}
	default:
		return application.SessionConfig{}, fmt.Errorf("неизвестный источник %q", o.Source)
	}

	cfg := application.SessionConfig{
		Source: domain.SourceConfig{
			Kind:         kind,
			DeviceID:     o.Device,
			Width:        o.Width,
			Height:       o.Height,
			FrameRate:    o.FPS,
			Path:         o.Path,
			Display:      o.Display,
			JPEGQuality:  o.Quality,
			MaxDimension: o.MaxDim,
		},
		Strategy: s.Strategy,
		Every:    s.ProcessEveryN,
		Interval: time.Duration(s.IntervalMs) * time.Millisecond,
		Timeout:  o.Timeout,
	}
	if kind == domain.SourceFile {
		cfg.Label = o.Path
	}

	if cmd.Flags().Changed("every") {
		cfg.Every = o.Every
	}
	if cmd.Flags().Changed("interval") {
		cfg.Interval = o.Interval
	}
	if cmd.Flags().Changed("strategy") {
		cfg.Strategy = application.Strategy(o.Strategy)
	}
	if cfg.Strategy != application.StrategyPoll && cfg.Strategy != application.StrategyChannel {
		return application.SessionConfig{}, fmt.Errorf("неизвестная стратегия %q", cfg.Strategy)
	}
	if cfg.Every < 1 {
		return application.SessionConfig{}, fmt.Errorf("--every должен быть >= 1, получено %d", cfg.Every)
	}
	return cfg, nil
}

func runStream(ctx context.Context, out io.Writer, cfg application.SessionConfig, duration time.Duration) error {
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	renderer := NewRenderer(out, app.Settings.ShowOverlays)
	renderer.Attach(app.Service)
	defer renderer.Detach()

	session, err := app.Service.StartDetection(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Сессия %s: источник %s, стратегия %s. Ctrl+C для остановки\n",
		session.ID, cfg.Source.Kind, cfg.Strategy)

	err = app.Service.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		app.Logger.Info("Прерывание получено, остановка...")
		err = nil
	}
	_ = app.Service.StopDetection()

	printSummary(out, app.Service.Stats(), app.Service.SamplerStats())
	return err
}

func printSummary(out io.Writer, st application.StatsSnapshot, ss application.SamplerStats) {
	fmt.Fprintf(out, "Кадров: захвачено %d, отправлено %d, пропущено %d, отброшено %d\n",
		ss.Seen, ss.Submitted, ss.Skipped, ss.Dropped)
	fmt.Fprintf(out, "Результатов: %d, deepfake %.1f%%, среднее время %.0f мс (%.1f к/с)\n",
		st.ResultsReceived, st.DetectionRate()*100, st.AvgProcessingMs(), st.FPS())
}
