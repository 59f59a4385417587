package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"deepfake-detector/client/internal/domain"
	"deepfake-detector/client/internal/infrastructure/media"
	"deepfake-detector/client/internal/infrastructure/wire"
)

var (
	imageMaxDim  int
	imageQuality int
	imageSave    string
)

var imageCmd = &cobra.Command{
	Use:   "image <path>",
	Short: "Анализ одного изображения",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := app.Service.AnalyzeImage(cmd.Context(), domain.SourceConfig{
			Path:         args[0],
			JPEGQuality:  imageQuality,
			MaxDimension: imageMaxDim,
		}, imageSave != "")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, FormatResult(res, true))
		if imageSave != "" {
			return saveAnnotated(out, res, imageSave)
		}
		return nil
	},
}

func saveAnnotated(out io.Writer, res *domain.DetectionResult, path string) error {
	if res.AnnotatedImage == "" {
		fmt.Fprintln(out, "Сервер не вернул размеченное изображение")
		return nil
	}
	data, err := wire.DecodeImage(res.AnnotatedImage)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("не удалось сохранить %s: %w", path, err)
	}
	fmt.Fprintf(out, "Размеченное изображение: %s (%s)\n", path, humanize.Bytes(uint64(len(data))))
	return nil
}

var videoCmd = &cobra.Command{
	Use:   "video <path>",
	Short: "Отправить видеофайл целиком и получить сводку",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		var bar *progressbar.ProgressBar
		progress := func(sent, total int64) {
			if bar == nil {
				bar = progressbar.NewOptions64(total,
					progressbar.OptionSetDescription("Отправка "+path),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowBytes(true),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set64(sent)
		}

		res, err := app.Service.AnalyzeVideo(cmd.Context(), path, progress)
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			return err
		}
		printVideo(cmd.OutOrStdout(), path, res)
		return nil
	},
}

func printVideo(out io.Writer, path string, res *domain.VideoResult) {
	size := "?"
	if info, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	fmt.Fprintf(out, "%s (%s): %s\n", path, size, FormatResult(&res.DetectionResult, false))
	fmt.Fprintf(out, "Кадров проанализировано %d из %d, deepfake в %.1f%% кадров, среднее время %.0f мс\n",
		res.FramesAnalyzed, res.TotalFrames, res.DeepfakePercentage, res.AvgProcessingTimeMs)
}

func init() {
	imageCmd.Flags().IntVar(&imageMaxDim, "max-dim", 1280, "максимальная сторона изображения перед отправкой")
	imageCmd.Flags().IntVar(&imageQuality, "quality", media.DefaultJPEGQuality, "качество JPEG 1..100")
	imageCmd.Flags().StringVarP(&imageSave, "save", "o", "", "сохранить размеченное сервером изображение в файл")
	rootCmd.AddCommand(imageCmd, videoCmd)
}
