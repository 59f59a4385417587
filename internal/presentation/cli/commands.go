package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version версия клиента
const Version = "0.1.0"

var (
	config = defaultConfig()
	// app зависимости текущего запуска, собираются в PersistentPreRunE
	app *App
)

var rootCmd = &cobra.Command{
	Use:           "deepfake-client",
	Short:         "Клиент обнаружения deepfake для камеры, экрана и файлов",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		app, err = newApp(cmd.Context(), config)
		if err != nil {
			return fmt.Errorf("не удалось инициализировать клиент: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Close()
		}
	},
}

// Execute запускает корневую команду; Ctrl+C отменяет контекст команды
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if app != nil {
			app.Close()
		}
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&config.APIURL, "api-url", config.APIURL, "адрес сервера обнаружения")
	f.StringVar(&config.WSURL, "ws-url", config.WSURL, "адрес WebSocket-канала (по умолчанию выводится из --api-url)")
	f.StringVar(&config.Token, "token", config.Token, "токен доступа к API")
	f.BoolVar(&config.Debug, "debug", false, "включить отладочные сообщения")
	f.BoolVar(&config.JSONLogs, "json-logs", false, "писать логи в формате JSON")
	f.StringVar(&config.SettingsPath, "settings", "", "файл настроек (по умолчанию в каталоге конфигурации пользователя)")
	f.StringVar(&config.DBURL, "db", "", "строка подключения PostgreSQL для истории (по умолчанию POSTGRES_*)")
	f.StringVar(&config.FFmpeg, "ffmpeg", "ffmpeg", "путь к ffmpeg для источника file")
	f.StringVar(&config.TelegramToken, "telegram-token", config.TelegramToken, "токен бота Telegram для оповещений")
	f.Int64Var(&config.TelegramChatID, "telegram-chat", config.TelegramChatID, "чат Telegram для оповещений")
	f.StringVar(&config.DashboardURL, "dashboard-url", config.DashboardURL, "ссылка на панель для кнопки в оповещении")
}
