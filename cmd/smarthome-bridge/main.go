package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"smarthome-bridge/internal/config"
	"smarthome-bridge/internal/logger"
	"smarthome-bridge/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "smarthome-bridge")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting smart home bridge",
		zap.Bool("ventilation_enabled", cfg.Duco.Enabled),
		zap.Bool("home_control_enabled", cfg.Niko.Enabled),
		zap.Bool("collector_enabled", cfg.Collector.Enabled),
	)

	// 创建服务
	bridge, err := service.NewBridgeService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create bridge service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bridge.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start bridge service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := bridge.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
