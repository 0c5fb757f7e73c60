package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"shayak-swasth-rag/pkg/logger"
	"shayak-swasth-rag/pkg/metrics"
)

const (
	readBatchSize    = 10
	pendingBatchSize = 20
)

var errRetriesExhausted = errors.New("message exceeded max retries")

// MessageHandler 消息处理函数，返回错误时消息留在 pending 中按退避重投
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer 消费组中的一个消费者
//
// 每条消息最多投递 RetryLimit 次，超出后写入 DLQ 并确认。
type Consumer struct {
	client        redis.UniversalClient
	stream        Stream
	group         ConsumerGroup
	consumerName  string
	blockTimeout  time.Duration
	claimInterval time.Duration
	reclaimIdle   time.Duration
	retryLimit    int
	backoff       BackoffConfig

	mu       sync.RWMutex
	handlers map[string]MessageHandler
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	// ReclaimIdle 接管崩溃消费者消息前的最短空闲时间，0 表示按退避上限推算
	ReclaimIdle time.Duration
	RetryLimit  int
	Backoff     BackoffConfig
}

// NewConsumer 创建消费者
func NewConsumer(client redis.UniversalClient, cfg ConsumerConfig) *Consumer {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}

	reclaimIdle := cfg.ReclaimIdle
	if reclaimIdle <= 0 {
		reclaimIdle = max(5*time.Minute, cfg.Backoff.Max*2)
	}

	return &Consumer{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		consumerName:  cfg.ConsumerName,
		blockTimeout:  cfg.BlockTimeout,
		claimInterval: cfg.ClaimInterval,
		reclaimIdle:   reclaimIdle,
		retryLimit:    cfg.RetryLimit,
		backoff:       cfg.Backoff,
		handlers:      make(map[string]MessageHandler),
	}
}

// RegisterHandler 按消息类型注册处理器
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Start 创建消费组（已存在则复用）并启动消费循环
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer already running")
	}

	err := c.client.XGroupCreateMkStream(ctx, string(c.stream), string(c.group), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.running = true
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(ctx)
	return nil
}

// Stop 停止消费并等待正在处理的消息结束
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	done := c.done
	c.mu.Unlock()

	<-done
}

func (c *Consumer) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	log := logger.FromContext(ctx).With(
		"stream", c.stream,
		"group", c.group,
		"consumer", c.consumerName,
	)
	log.Info("consumer started")

	lastClaim := time.Now().Add(-c.claimInterval)
	for {
		if ctx.Err() != nil || c.stopped() {
			log.Info("consumer stopped")
			return
		}

		c.retryDue(ctx)
		if time.Since(lastClaim) >= c.claimInterval {
			c.reclaimStale(ctx)
			lastClaim = time.Now()
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    string(c.group),
			Consumer: c.consumerName,
			Streams:  []string{string(c.stream), ">"},
			Count:    readBatchSize,
			Block:    c.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error("failed to read from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, s := range streams {
			for _, xmsg := range s.Messages {
				c.process(ctx, xmsg)
			}
		}
	}
}

// decode 解析流条目，格式错误的条目无法重试
func decode(xmsg redis.XMessage) (*Message, error) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("entry %s has no data field", xmsg.ID)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("entry %s: %w", xmsg.ID, err)
	}
	return &msg, nil
}

// withMessageContext 把生产者写入的关联 ID 放回日志上下文
func withMessageContext(ctx context.Context, msg *Message) context.Context {
	ctx = logger.WithContext(ctx, logger.MessageIDKey, msg.ID)
	for key, ctxKey := range map[string]logger.ContextKey{
		"document_id": logger.DocumentIDKey,
		"request_id":  logger.RequestIDKey,
		"trace_id":    logger.TraceIDKey,
	} {
		if v := msg.GetMetadata(key); v != "" {
			ctx = logger.WithContext(ctx, ctxKey, v)
		}
	}
	return ctx
}

func (c *Consumer) process(ctx context.Context, xmsg redis.XMessage) {
	ctx, span := tracer.Start(ctx, "consumer.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", string(c.stream)),
			attribute.String("messaging.consumer_group", string(c.group)),
			attribute.String("messaging.entry_id", xmsg.ID),
		))
	defer span.End()

	msg, err := decode(xmsg)
	if err != nil {
		logger.FromContext(ctx).Error("dropping malformed entry", "error", err)
		metrics.RedisStreamProcessed.WithLabelValues(string(c.stream), "malformed").Inc()
		c.ack(ctx, xmsg.ID)
		return
	}

	ctx = withMessageContext(ctx, msg)
	log := logger.FromContext(ctx)
	span.SetAttributes(
		attribute.String("messaging.message_id", msg.ID),
		attribute.String("messaging.message_type", msg.Type),
	)

	c.mu.RLock()
	handler, ok := c.handlers[msg.Type]
	c.mu.RUnlock()
	if !ok {
		log.Warn("no handler for message type", "type", msg.Type)
		c.ack(ctx, xmsg.ID)
		return
	}

	if err := c.invoke(ctx, handler, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("handler failed", "error", err)
		metrics.RedisStreamProcessed.WithLabelValues(string(c.stream), "failed").Inc()
		c.handleFailure(ctx, xmsg.ID, msg, err)
		return
	}

	metrics.RedisStreamProcessed.WithLabelValues(string(c.stream), "success").Inc()
	c.ack(ctx, xmsg.ID)
}

// invoke 执行处理器，panic 视为一次失败
func (c *Consumer) invoke(ctx context.Context, handler MessageHandler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, string(c.stream), string(c.group), id).Err(); err != nil {
		logger.FromContext(ctx).Error("failed to ack message", "error", err, "entry_id", id)
	}
}

func (c *Consumer) handleFailure(ctx context.Context, entryID string, msg *Message, err error) {
	deliveries := c.deliveries(ctx, entryID)
	if deliveries >= c.retryLimit {
		logger.FromContext(ctx).Warn("message moved to DLQ after max retries", "deliveries", deliveries)
		c.deadLetter(ctx, entryID, msg, deliveries, err)
		return
	}
	logger.FromContext(ctx).Info("message left pending for retry", "deliveries", deliveries)
}

// deliveries 通过 XPENDING 读取投递次数
func (c *Consumer) deliveries(ctx context.Context, entryID string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.stream),
		Group:  string(c.group),
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

// deadLetter 写入 DLQ 后确认原条目；写入失败时保留 pending 等待下次清理
func (c *Consumer) deadLetter(ctx context.Context, entryID string, msg *Message, deliveries int, cause error) {
	data, err := json.Marshal(map[string]interface{}{
		"original_stream": string(c.stream),
		"entry_id":        entryID,
		"data":            msg,
		"deliveries":      deliveries,
		"error":           cause.Error(),
		"failed_at":       time.Now().Unix(),
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to encode DLQ entry", "error", err, "entry_id", entryID)
		c.ack(ctx, entryID)
		return
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream.DLQStream(),
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		logger.FromContext(ctx).Error("failed to write DLQ entry", "error", err, "entry_id", entryID)
		return
	}
	metrics.RedisStreamProcessed.WithLabelValues(string(c.stream), "dead_lettered").Inc()
	c.ack(ctx, entryID)
}

// claim 认领 pending 条目；超过重试上限的直接进 DLQ，其余交给处理器
func (c *Consumer) claim(ctx context.Context, p redis.XPendingExt, minIdle time.Duration) {
	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   string(c.stream),
		Group:    string(c.group),
		Consumer: c.consumerName,
		MinIdle:  minIdle,
		Messages: []string{p.ID},
	}).Result()
	if err != nil {
		logger.FromContext(ctx).Error("failed to claim pending message", "error", err, "entry_id", p.ID)
		return
	}

	exhausted := int(p.RetryCount) >= c.retryLimit
	for _, xmsg := range claimed {
		if !exhausted {
			c.process(ctx, xmsg)
			continue
		}
		msg, err := decode(xmsg)
		if err != nil {
			c.ack(ctx, xmsg.ID)
			continue
		}
		c.deadLetter(withMessageContext(ctx, msg), xmsg.ID, msg, int(p.RetryCount), errRetriesExhausted)
	}
}

func (c *Consumer) pending(ctx context.Context, consumer string) []redis.XPendingExt {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   string(c.stream),
		Group:    string(c.group),
		Start:    "-",
		End:      "+",
		Count:    pendingBatchSize,
		Consumer: consumer,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.FromContext(ctx).Error("failed to query pending messages", "error", err)
		}
		return nil
	}
	return pending
}

// retryDue 重投本消费者名下退避期已过的消息
func (c *Consumer) retryDue(ctx context.Context) {
	for _, p := range c.pending(ctx, c.consumerName) {
		if int(p.RetryCount) >= c.retryLimit {
			c.claim(ctx, p, 0)
			continue
		}
		backoff := c.backoff.CalculateBackoff(int(p.RetryCount))
		if p.Idle < backoff {
			continue
		}
		c.claim(ctx, p, backoff)
	}
}

// reclaimStale 接管其他消费者长时间未确认的消息（消费者崩溃）
func (c *Consumer) reclaimStale(ctx context.Context) {
	if c.reclaimIdle <= 0 {
		return
	}
	for _, p := range c.pending(ctx, "") {
		if p.Consumer == c.consumerName || p.Idle < c.reclaimIdle {
			continue
		}
		c.claim(ctx, p, c.reclaimIdle)
	}
}

// MonitorDLQ 每分钟上报消费组积压，DLQ 超过阈值时告警
func (c *Consumer) MonitorDLQ(ctx context.Context, alertThreshold int64) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if c.stopped() {
			return
		}

		if groups, err := c.client.XInfoGroups(ctx, string(c.stream)).Result(); err == nil {
			for _, g := range groups {
				if g.Name == string(c.group) {
					metrics.RedisStreamLag.WithLabelValues(string(c.stream), g.Name).Set(float64(g.Lag))
				}
			}
		}

		dlq := c.stream.DLQStream()
		info, err := c.client.XInfoStream(ctx, dlq).Result()
		if err != nil {
			continue
		}
		if info.Length > alertThreshold {
			log.Warn("DLQ has pending messages", "stream", dlq, "count", info.Length)
		}
	}
}
