package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 智能家居桥接服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// Duco 通风系统配置（Modbus TCP）
	Duco struct {
		Enabled        bool
		Host           string
		Port           int
		UnitID         int
		RegisterOffset int
		DeviceID       string // 系统记录的设备标识
		PollInterval   int    // 轮询间隔（秒）
		RescanInterval int    // 网络重扫描间隔（秒）
	}

	// Niko 家居控制配置（事件驱动）
	Niko struct {
		Enabled bool
	}

	// 发布器配置
	Publisher struct {
		KeyPrefix    string // 可选的键命名空间前缀
		EnablePubSub bool
	}

	// 时序采集器配置
	Collector struct {
		Enabled  bool
		Interval int // 采集间隔（秒）
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（带默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "smarthome")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "ssl://localhost:8884")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "smarthome-bridge")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "hobby")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Duco.Enabled = getEnvBool("DUCO_ENABLED", true)
	cfg.Duco.Host = getEnv("DUCO_HOST", "")
	cfg.Duco.Port = getEnvInt("DUCO_PORT", 502)
	cfg.Duco.UnitID = getEnvInt("DUCO_UNIT_ID", 1)
	cfg.Duco.RegisterOffset = getEnvInt("DUCO_REGISTER_OFFSET", 0)
	cfg.Duco.DeviceID = getEnv("DUCO_DEVICE_ID", "ducobox_main")
	cfg.Duco.PollInterval = getEnvInt("DUCO_POLL_INTERVAL", 30)
	cfg.Duco.RescanInterval = getEnvInt("DUCO_RESCAN_INTERVAL", 300)

	cfg.Niko.Enabled = getEnvBool("NIKO_ENABLED", true)

	cfg.Publisher.KeyPrefix = getEnv("REDIS_KEY_PREFIX", "smarthome")
	cfg.Publisher.EnablePubSub = getEnvBool("ENABLE_PUBSUB", true)

	cfg.Collector.Enabled = getEnvBool("COLLECTOR_ENABLED", true)
	cfg.Collector.Interval = getEnvInt("COLLECTION_INTERVAL", 60)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
