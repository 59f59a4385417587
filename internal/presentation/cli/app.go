package cli

import (
	"context"
	"net/http"
	"os"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
	"deepfake-detector/client/internal/infrastructure/camera"
	"deepfake-detector/client/internal/infrastructure/history"
	"deepfake-detector/client/internal/infrastructure/httpapi"
	"deepfake-detector/client/internal/infrastructure/logger"
	"deepfake-detector/client/internal/infrastructure/media"
	"deepfake-detector/client/internal/infrastructure/notify"
	"deepfake-detector/client/internal/infrastructure/settings"
	"deepfake-detector/client/internal/infrastructure/streaming"
)

// App собранные зависимости одного запуска CLI
type App struct {
	Service  *application.DetectionService
	Backend  *httpapi.Client
	Store    *settings.FileStore
	Settings application.Settings
	History  application.HistoryStore
	Logger   *logger.SlogLogger

	closers []func()
}

// newApp собирает сервис: хранилище, транспорт, источники, уведомления, историю
func newApp(ctx context.Context, cfg Config) (*App, error) {
	log := logger.NewSlogLogger(os.Stderr, cfg.Debug, cfg.JSONLogs)
	app := &App{Logger: log}

	path := cfg.SettingsPath
	if path == "" {
		path = settings.DefaultPath()
	}
	app.Store = settings.NewFileStore(path)

	s, err := application.LoadSettings(app.Store)
	if err != nil {
		log.Warn("Настройки не загружены, используются значения по умолчанию: %v", err)
	}
	app.Settings = s

	snapshot, err := application.LoadStats(app.Store)
	if err != nil {
		log.Warn("Статистика не загружена: %v", err)
	}
	stats := application.NewStats(snapshot)

	app.Backend = httpapi.NewClient(cfg.APIURL, cfg.Token, &http.Client{}, log.With("http"))

	wsURL, err := cfg.channelURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	channelLog := log.With("channel")
	newChannel := func() application.StreamChannel {
		return streaming.NewWebSocketChannel(streaming.Config{
			URL:       wsURL,
			Header:    header,
			Reconnect: streaming.DefaultReconnectConfig(),
		}, channelLog, cfg.Debug)
	}

	if dsn := cfg.databaseURL(); dsn != "" {
		store, err := history.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		app.History = store
		app.closers = append(app.closers, store.Close)
	} else {
		app.History = application.NewLocalHistory(app.Store, s.HistorySize)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(log.With("notify"))}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegramNotifier(notify.TelegramConfig{
			Token:        cfg.TelegramToken,
			ChatID:       cfg.TelegramChatID,
			DashboardURL: cfg.DashboardURL,
		})
		if err != nil {
			log.Warn("Уведомления Telegram отключены: %v", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	bus := application.NewBus()
	app.closers = append(app.closers, bus.Close)
	reconciler := application.NewReconciler(bus, application.WithHistorySize(s.HistorySize))
	alerts := application.NewAlerts(notifiers, application.NewBusMessenger(bus), app.History, app.Backend,
		stats, log.With("alerts"), func() application.Settings { return app.Settings })
	app.closers = append(app.closers, alerts.Close)

	cameras := camera.NewMediaDevicesManager(log.With("camera"))
	app.Service = application.NewDetectionService(application.Dependencies{
		Sources: map[domain.SourceKind]application.SourceOpener{
			domain.SourceCamera: cameras,
			domain.SourceScreen: camera.NewScreenOpener(log.With("screen")),
			domain.SourceFile:   media.NewFileOpener(cfg.FFmpeg, log.With("ffmpeg")),
			domain.SourceImage:  media.NewStillOpener(log.With("image")),
		},
		Cameras:        cameras,
		Backend:        app.Backend,
		ChannelFactory: newChannel,
		Reconciler:     reconciler,
		Bus:            bus,
		Stats:          stats,
		Alerts:         alerts,
		Store:          app.Store,
		Logger:         log.With("service"),
	})
	return app, nil
}

// Close останавливает сессию и освобождает ресурсы
func (a *App) Close() {
	if a.Service != nil {
		_ = a.Service.StopDetection()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
