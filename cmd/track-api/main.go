package main

import (
	"context"
	"errors"

	"github.com/BearBump/FreightTrack/internal/logger"
)

func main() {
	logger.Setup()

	app := mustBootstrapTrackAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
