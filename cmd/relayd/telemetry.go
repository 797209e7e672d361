package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"xhbook/lib/telemetry"
	"xhbook/lib/util/serviceutil"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

func initSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}

func InitTelemetry(ctx context.Context, verbose bool) {
	initSlog(verbose)
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	t, err := telemetry.SetupFromEnv(ctx, "relayd")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			serviceutil.Fatal("setup telemetry", err)
		}
		slog.Debug("no telemetry.json5 found, otel export disabled")
		return
	}
	go func() {
		<-ctx.Done()
		t.Shutdown(context.Background())
	}()
	telemetry.InstrumentPerfStats(ctx, 0)
}
