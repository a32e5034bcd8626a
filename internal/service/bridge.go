package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"smarthome-bridge/internal/collector"
	"smarthome-bridge/internal/config"
	"smarthome-bridge/internal/database"
	"smarthome-bridge/internal/duco"
	"smarthome-bridge/internal/mqtt"
	"smarthome-bridge/internal/niko"
	"smarthome-bridge/internal/poller"
	"smarthome-bridge/internal/publisher"
	"smarthome-bridge/internal/repository"
)

// BridgeService 智能家居桥接服务
// 按配置组装通风轮询、家居事件摄取与时序采集三条链路
type BridgeService struct {
	config      *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	publisher   *publisher.Publisher

	db              *sql.DB
	measurementRepo *repository.MeasurementRepository
	collector       *collector.Collector

	ducoClient *duco.Client
	poller     *poller.Poller

	mqttClient *mqtt.Client
	nikoClient *niko.Client
	ingestor   *niko.Ingestor
}

// NewBridgeService 创建桥接服务
func NewBridgeService(cfg *config.Config, logger *zap.Logger) (*BridgeService, error) {
	s := &BridgeService{
		config: cfg,
		logger: logger,
	}

	// 初始化Redis与发布器
	s.redisClient = publisher.NewRedisClient(&cfg.Redis)
	if err := s.redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.publisher = publisher.NewPublisher(s.redisClient, cfg.Publisher.KeyPrefix, cfg.Publisher.EnablePubSub, logger)

	// 通风系统轮询链路
	if cfg.Duco.Enabled {
		if cfg.Duco.Host == "" {
			return nil, fmt.Errorf("ventilation polling enabled but DUCO_HOST is empty")
		}
		s.ducoClient = duco.NewClient(cfg.Duco.Host, cfg.Duco.Port,
			byte(cfg.Duco.UnitID), cfg.Duco.RegisterOffset, logger)
		s.poller = poller.NewPoller(s.ducoClient, s.publisher, cfg.Duco.DeviceID,
			time.Duration(cfg.Duco.PollInterval)*time.Second,
			time.Duration(cfg.Duco.RescanInterval)*time.Second,
			logger)
	}

	// 家居控制事件链路
	if cfg.Niko.Enabled {
		mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
		s.mqttClient = mqttClient
		s.nikoClient = niko.NewClient(mqttClient, nil, logger)
		s.ingestor = niko.NewIngestor(s.nikoClient, s.publisher, logger)
		s.nikoClient.SetHandler(s.ingestor)
	}

	// 时序采集链路
	if cfg.Collector.Enabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.measurementRepo = repository.NewMeasurementRepository(db, logger)
		s.collector = collector.NewCollector(s.publisher, s.measurementRepo, cfg.Duco.DeviceID,
			time.Duration(cfg.Collector.Interval)*time.Second, logger)
	}

	return s, nil
}

// Start 启动服务
func (s *BridgeService) Start(ctx context.Context) error {
	s.logger.Info("Starting smart home bridge components")

	if s.collector != nil {
		if err := s.measurementRepo.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize measurement schema: %w", err)
		}
	}

	if s.poller != nil {
		if err := s.ducoClient.Connect(); err != nil {
			return fmt.Errorf("failed to connect to ventilation controller: %w", err)
		}
		s.poller.Start()
	}

	if s.nikoClient != nil {
		if err := s.nikoClient.Start(); err != nil {
			return fmt.Errorf("failed to start home control client: %w", err)
		}
		// 全量同步失败不阻止启动，后续事件仍可增量更新
		resyncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := s.ingestor.Resync(resyncCtx); err != nil {
			s.logger.Error("Initial catalog sync failed", zap.Error(err))
		}
		cancel()
	}

	if s.collector != nil {
		s.collector.Start()
	}

	s.logger.Info("Smart home bridge started successfully")
	return nil
}

// Stop 停止服务
func (s *BridgeService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping smart home bridge")

	if s.collector != nil {
		s.collector.Stop()
	}

	if s.poller != nil {
		s.poller.Stop()
		if err := s.ducoClient.Close(); err != nil {
			s.logger.Error("Error closing ventilation connection", zap.Error(err))
		}
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Smart home bridge stopped")
	return nil
}
