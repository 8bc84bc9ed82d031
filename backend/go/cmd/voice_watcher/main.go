// voice_watcher 把录音设备同步到本地目录的音频文件送进语音管道。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"Steward/backend/go/internal/app"
	"Steward/backend/go/internal/voicewatch"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 加载配置、初始化日志
	rt, err := app.Bootstrap(ctx, *configPath, "voice_watcher")
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}
	defer rt.Close()
	cfg, appLogger := rt.Config, rt.Log

	if cfg.Voice.WatchDir == "" {
		appLogger.Fatal("voice.watchDir is not configured")
	}

	// 2. 初始化语音管道
	gen, err := rt.Generator(ctx)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create LLM client: %v", err))
	}
	pipeline, err := rt.Voice(ctx, gen)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create voice pipeline: %v", err))
	}
	if pipeline == nil {
		appLogger.Fatal("Voice pipeline requires MinIO and MongoDB")
	}

	// 3. 监视目录
	w, err := voicewatch.New(cfg.Voice.WatchDir, pipeline, voicewatch.Options{
		Owner:  cfg.Voice.WatchOwner,
		Logger: appLogger.WithField("component", "voicewatch"),
	})
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create watcher: %v", err))
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.WithError(err).Error("Watcher stopped with error")
	}
}
