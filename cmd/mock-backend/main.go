package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"deepfake-detector/client/internal/infrastructure/logger"
	"deepfake-detector/client/internal/mockbackend"
)

func main() {
	port := flag.Int("port", 5000, "порт для запуска сервера")
	outputDir := flag.String("output", "", "директория для записи кадров канала (пусто = не записывать)")
	delay := flag.Duration("delay", 0, "задержка перед каждым ответом")
	fail := flag.Int("fail", 0, "отвечать этим HTTP-статусом на запросы анализа")
	dropAfter := flag.Int("drop-after", 0, "обрывать WebSocket после N кадров")
	legacyVideo := flag.Bool("legacy-video", false, "принимать видео только по /api/detect-video")
	token := flag.String("token", os.Getenv("DEEPFAKE_API_TOKEN"), "требовать Authorization: Bearer <token>")
	debug := flag.Bool("debug", false, "включить отладочные сообщения")
	flag.Parse()

	l := logger.NewSlogLogger(os.Stderr, *debug, false)

	srv := mockbackend.New(mockbackend.Options{
		Result:      mockbackend.DefaultResult(),
		Delay:       *delay,
		FailStatus:  *fail,
		DropAfter:   *dropAfter,
		LegacyVideo: *legacyVideo,
		Token:       *token,
		RecordDir:   *outputDir,
		Logger:      l,
	})

	addr := fmt.Sprintf(":%d", *port)
	l.Info("Запуск сервера на порту %d...", *port)
	l.Info("Статус сервера доступен по адресу http://localhost%s", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Fatal(server.ListenAndServe())
}
