package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"smarthome-bridge/internal/config"
	"smarthome-bridge/internal/models"
)

// 遥测状态键的过期时间：轮询停止后陈旧状态自动清除
// 设备/位置目录键不过期，由事件流显式删除
const ventilationTTL = 300 * time.Second

// NewRedisClient 创建Redis客户端
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// BatchResult 批量发布的两阶段统计
// 准备失败（序列化）和提交失败（存储写入）分开计数
type BatchResult struct {
	Prepared      int
	PrepareFailed int
	Committed     int
	CommitFailed  int
}

// Publisher 将规范化记录发布到键值存储
// 每次发布可选地在 updates:<key> 频道广播变更通知
type Publisher struct {
	client       *redis.Client
	logger       *zap.Logger
	keyPrefix    string
	enablePubSub bool
}

// NewPublisher 创建发布器
func NewPublisher(client *redis.Client, keyPrefix string, enablePubSub bool, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:       client,
		logger:       logger,
		keyPrefix:    keyPrefix,
		enablePubSub: enablePubSub,
	}
}

func (p *Publisher) prefixed(key string) string {
	if p.keyPrefix == "" {
		return key
	}
	return p.keyPrefix + ":" + key
}

// SystemKey 通风系统状态键
func (p *Publisher) SystemKey(deviceID string) string {
	return p.prefixed(fmt.Sprintf("ventilation:system:%s", deviceID))
}

// NodeKey 通风节点状态键
func (p *Publisher) NodeKey(nodeID int) string {
	return p.prefixed(fmt.Sprintf("ventilation:node:%d", nodeID))
}

// DeviceKey 智能设备目录键
func (p *Publisher) DeviceKey(deviceUUID string) string {
	return p.prefixed(fmt.Sprintf("device:%s", deviceUUID))
}

// LocationKey 位置目录键
func (p *Publisher) LocationKey(locationUUID string) string {
	return p.prefixed(fmt.Sprintf("location:%s", locationUUID))
}

// prepare 计算记录的键、过期时间并序列化
// 序列化前补齐缺失的时间戳
func (p *Publisher) prepare(record interface{}) (key string, payload []byte, ttl time.Duration, err error) {
	switch r := record.(type) {
	case *models.VentilationSystem:
		r.EnsureTimestamp()
		key, ttl = p.SystemKey(r.DeviceID), ventilationTTL
	case *models.VentilationNode:
		r.EnsureTimestamp()
		key, ttl = p.NodeKey(r.NodeID), ventilationTTL
	case *models.SmartDevice:
		r.EnsureTimestamp()
		key, ttl = p.DeviceKey(r.UUID), 0
	case *models.Location:
		r.EnsureTimestamp()
		key, ttl = p.LocationKey(r.UUID), 0
	default:
		return "", nil, 0, fmt.Errorf("unsupported record type %T", record)
	}

	payload, err = json.Marshal(record)
	if err != nil {
		return "", nil, 0, fmt.Errorf("failed to marshal record for key %s: %w", key, err)
	}
	return key, payload, ttl, nil
}

// Publish 发布单条记录，按记录类别使用默认过期时间
// 存储写入失败返回错误；变更通知失败只记日志
func (p *Publisher) Publish(ctx context.Context, record interface{}) error {
	return p.publish(ctx, record, -1)
}

// PublishWithTTL 发布单条记录并覆盖该类别的默认过期时间
// ttl 为 0 表示永不过期
func (p *Publisher) PublishWithTTL(ctx context.Context, record interface{}, ttl time.Duration) error {
	return p.publish(ctx, record, ttl)
}

func (p *Publisher) publish(ctx context.Context, record interface{}, ttlOverride time.Duration) error {
	key, payload, ttl, err := p.prepare(record)
	if err != nil {
		return err
	}
	if ttlOverride >= 0 {
		ttl = ttlOverride
	}

	if err := p.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish key %s: %w", key, err)
	}

	p.notify(ctx, key, payload)
	return nil
}

// notify 变更通知，尽力而为
func (p *Publisher) notify(ctx context.Context, key string, payload []byte) {
	if !p.enablePubSub {
		return
	}
	if err := p.client.Publish(ctx, "updates:"+key, payload).Err(); err != nil {
		p.logger.Warn("Failed to publish change notification",
			zap.String("key", key),
			zap.Error(err))
	}
}

// PublishBatch 批量发布，单条失败不中断其余记录
// 先序列化全部记录，再用流水线一次提交
func (p *Publisher) PublishBatch(ctx context.Context, records []interface{}) BatchResult {
	var result BatchResult

	type entry struct {
		key     string
		payload []byte
		ttl     time.Duration
	}
	entries := make([]entry, 0, len(records))

	for _, record := range records {
		key, payload, ttl, err := p.prepare(record)
		if err != nil {
			result.PrepareFailed++
			p.logger.Warn("Failed to prepare record for batch publish", zap.Error(err))
			continue
		}
		result.Prepared++
		entries = append(entries, entry{key, payload, ttl})
	}

	if len(entries) == 0 {
		return result
	}

	pipe := p.client.Pipeline()
	setCmds := make([]*redis.StatusCmd, len(entries))
	for i, e := range entries {
		setCmds[i] = pipe.Set(ctx, e.key, e.payload, e.ttl)
		if p.enablePubSub {
			pipe.Publish(ctx, "updates:"+e.key, e.payload)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("Batch publish pipeline error", zap.Error(err))
	}

	for i, cmd := range setCmds {
		if cmd.Err() != nil {
			result.CommitFailed++
			p.logger.Warn("Failed to commit record",
				zap.String("key", entries[i].key),
				zap.Error(cmd.Err()))
		} else {
			result.Committed++
		}
	}

	return result
}

// DeleteDevice 删除设备目录键（设备被移除事件）
func (p *Publisher) DeleteDevice(ctx context.Context, deviceUUID string) error {
	return p.client.Del(ctx, p.DeviceKey(deviceUUID)).Err()
}

// DeleteLocation 删除位置目录键
func (p *Publisher) DeleteLocation(ctx context.Context, locationUUID string) error {
	return p.client.Del(ctx, p.LocationKey(locationUUID)).Err()
}

// GetSystem 读取通风系统状态，键不存在返回 (nil, nil)
func (p *Publisher) GetSystem(ctx context.Context, deviceID string) (*models.VentilationSystem, error) {
	var system models.VentilationSystem
	if ok, err := p.get(ctx, p.SystemKey(deviceID), &system); !ok {
		return nil, err
	}
	return &system, nil
}

// GetNode 读取通风节点状态，键不存在返回 (nil, nil)
func (p *Publisher) GetNode(ctx context.Context, nodeID int) (*models.VentilationNode, error) {
	var node models.VentilationNode
	if ok, err := p.get(ctx, p.NodeKey(nodeID), &node); !ok {
		return nil, err
	}
	return &node, nil
}

func (p *Publisher) get(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := p.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal key %s: %w", key, err)
	}
	return true, nil
}

// GetAllNodes 扫描全部通风节点状态
func (p *Publisher) GetAllNodes(ctx context.Context) ([]*models.VentilationNode, error) {
	keys, err := p.scanKeys(ctx, p.prefixed("ventilation:node:*"))
	if err != nil {
		return nil, err
	}

	nodes := make([]*models.VentilationNode, 0, len(keys))
	for _, key := range keys {
		var node models.VentilationNode
		ok, err := p.get(ctx, key, &node)
		if err != nil {
			p.logger.Warn("Skipping unreadable node record", zap.String("key", key), zap.Error(err))
			continue
		}
		if ok {
			nodes = append(nodes, &node)
		}
	}
	return nodes, nil
}

// GetAllDevices 扫描全部智能设备记录
func (p *Publisher) GetAllDevices(ctx context.Context) ([]*models.SmartDevice, error) {
	keys, err := p.scanKeys(ctx, p.prefixed("device:*"))
	if err != nil {
		return nil, err
	}

	devices := make([]*models.SmartDevice, 0, len(keys))
	for _, key := range keys {
		var device models.SmartDevice
		ok, err := p.get(ctx, key, &device)
		if err != nil {
			p.logger.Warn("Skipping unreadable device record", zap.String("key", key), zap.Error(err))
			continue
		}
		if ok {
			devices = append(devices, &device)
		}
	}
	return devices, nil
}

// GetAllLocations 扫描全部位置记录
func (p *Publisher) GetAllLocations(ctx context.Context) ([]*models.Location, error) {
	keys, err := p.scanKeys(ctx, p.prefixed("location:*"))
	if err != nil {
		return nil, err
	}

	locations := make([]*models.Location, 0, len(keys))
	for _, key := range keys {
		var location models.Location
		ok, err := p.get(ctx, key, &location)
		if err != nil {
			p.logger.Warn("Skipping unreadable location record", zap.String("key", key), zap.Error(err))
			continue
		}
		if ok {
			locations = append(locations, &location)
		}
	}
	return locations, nil
}

func (p *Publisher) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := p.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
