package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"deepfake-detector/client/internal/application"
	"deepfake-detector/client/internal/domain"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Проверить доступность сервера обнаружения",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Service.Health(cmd.Context()); err != nil {
			return fmt.Errorf("сервер %s недоступен [%s]: %w", config.APIURL, domain.Classify(err), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Сервер %s доступен\n", config.APIURL)
		return nil
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure <N>",
	Short: "Задать серверу обработку каждого N-го кадра",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("ожидается целое число, получено %q", args[0])
		}
		if err := app.Service.Configure(cmd.Context(), n); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Сервер обрабатывает каждый %d кадр\n", n)
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Показать список доступных камер",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := app.Service.ListDevices()
		if err != nil {
			return err
		}
		printDevices(cmd.OutOrStdout(), devices)
		return nil
	},
}

func printDevices(out io.Writer, devices []domain.VideoDevice) {
	fmt.Fprintln(out, "Доступные устройства:")
	for i, device := range devices {
		fmt.Fprintf(out, "[%d] %s (%s) id=%s\n", i, device.Label, device.Kind, device.ID)
	}
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Последние результаты обнаружения",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := app.History.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("не удалось прочитать историю: %w", err)
		}
		printHistory(cmd.OutOrStdout(), records, time.Now())
		return nil
	},
}

func printHistory(out io.Writer, records []domain.DetectionRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(out, "История пуста.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ВРЕМЯ\tИСТОЧНИК\tВЕРДИКТ\tУВЕРЕННОСТЬ\tЛИЦ")
	fmt.Fprintln(w, "-----\t--------\t-------\t-----------\t---")
	for _, r := range records {
		verdict := domain.VerdictAuthentic
		if r.IsDeepfake {
			verdict = domain.VerdictDeepfake
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", humanize.RelTime(r.RecordedAt, now, "назад", "вперёд"),
			r.Source, verdict, domain.FormatConfidence(r.Confidence), r.FacesDetected)
	}
	w.Flush()
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Накопленная статистика клиента",
	RunE: func(cmd *cobra.Command, args []string) error {
		printStats(cmd.OutOrStdout(), app.Service.Stats())
		return nil
	},
}

func printStats(out io.Writer, st application.StatsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Сессий\t%s\n", humanize.Comma(int64(st.SessionsStarted)))
	fmt.Fprintf(w, "Кадров захвачено\t%s\n", humanize.Comma(int64(st.FramesCaptured)))
	fmt.Fprintf(w, "Кадров отправлено\t%s\n", humanize.Comma(int64(st.FramesSubmitted)))
	fmt.Fprintf(w, "Результатов\t%s\n", humanize.Comma(int64(st.ResultsReceived)))
	fmt.Fprintf(w, "Ошибок\t%s\n", humanize.Comma(int64(st.Failures)))
	fmt.Fprintf(w, "Оповещений deepfake\t%s\n", humanize.Comma(int64(st.DeepfakesDetected)))
	fmt.Fprintf(w, "Среднее время\t%.0f мс\n", st.AvgProcessingMs())
	if !st.LastDetection.IsZero() {
		fmt.Fprintf(w, "Последнее обнаружение\t%s\n", humanize.Time(st.LastDetection))
	}
	w.Flush()
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Показать настройки обнаружения",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printSettings(cmd.OutOrStdout(), app.Settings)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Изменить настройку",
	Example: `  deepfake-client settings set processEveryN 5
  deepfake-client settings set strategy channel`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := app.Settings
		if err := applySetting(&s, args[0], args[1]); err != nil {
			return err
		}
		if err := application.SaveSettings(app.Store, s); err != nil {
			return fmt.Errorf("не удалось сохранить настройки: %w", err)
		}
		app.Settings = s
		printSettings(cmd.OutOrStdout(), s)
		return nil
	},
}

func printSettings(out io.Writer, s application.Settings) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "enabled\t%t\n", s.Enabled)
	fmt.Fprintf(w, "showOverlays\t%t\n", s.ShowOverlays)
	fmt.Fprintf(w, "alertNotifications\t%t\n", s.AlertNotifications)
	fmt.Fprintf(w, "sensitivity\t%.2f\n", s.Sensitivity)
	fmt.Fprintf(w, "alertThreshold\t%.2f\n", s.AlertThreshold)
	fmt.Fprintf(w, "processEveryN\t%d\n", s.ProcessEveryN)
	fmt.Fprintf(w, "intervalMs\t%d\n", s.IntervalMs)
	fmt.Fprintf(w, "strategy\t%s\n", s.Strategy)
	fmt.Fprintf(w, "historySize\t%d\n", s.HistorySize)
	w.Flush()
}

// applySetting меняет одно поле по имени ключа из файла настроек.
// Значения вне допустимого диапазона отклоняются, а не исправляются молча.
func applySetting(dst *application.Settings, key, value string) error {
	s := *dst
	var err error
	switch key {
	case "enabled":
		s.Enabled, err = strconv.ParseBool(value)
	case "showOverlays":
		s.ShowOverlays, err = strconv.ParseBool(value)
	case "alertNotifications":
		s.AlertNotifications, err = strconv.ParseBool(value)
	case "sensitivity":
		s.Sensitivity, err = parseFraction(value)
	case "alertThreshold":
		s.AlertThreshold, err = parseFraction(value)
	case "processEveryN":
		s.ProcessEveryN, err = parseAtLeast(value, 1)
	case "intervalMs":
		s.IntervalMs, err = parseAtLeast(value, 0)
	case "historySize":
		s.HistorySize, err = parseAtLeast(value, 1)
	case "strategy":
		st := application.Strategy(strings.ToLower(value))
		if st != application.StrategyPoll && st != application.StrategyChannel {
			return fmt.Errorf("strategy: ожидается poll или channel, получено %q", value)
		}
		s.Strategy = st
	default:
		return fmt.Errorf("неизвестная настройка %q", key)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = s
	return nil
}

func parseFraction(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("ожидается значение от 0 до 1, получено %v", f)
	}
	return f, nil
}

func parseAtLeast(v string, lo int) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < lo {
		return 0, fmt.Errorf("ожидается значение >= %d, получено %d", lo, n)
	}
	return n, nil
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "сколько записей показать")
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(healthCmd, configureCmd, devicesCmd, historyCmd, statsCmd, settingsCmd)
}
