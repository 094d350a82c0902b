package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/FreightTrack/config"
	"github.com/BearBump/FreightTrack/internal/logger"
)

func main() {
	logger.Setup()

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpOpts := workerHTTPOpts{
		httpAddr:    cfg.FreightTrack.WorkerHTTPAddr,
		swaggerPath: os.Getenv("workerSwaggerPath"),
	}
	if err := RunTrackWorker(ctx, cfg, defaultWorkerFactories(), httpOpts); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
