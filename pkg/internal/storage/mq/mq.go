// Package mq 提供基于 Watermill 库的统一消息队列操作接口.
// 通过工厂模式抽象不同的传输实现：nats（可选 JetStream）、redis pub/sub、进程内 gochannel.
//
// 使用示例：
//
//	client, err := mq.New(ctx)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.Publish(ctx, "sv.file.changed", message.NewMessage(watermill.NewUUID(), payload))
//
//	msgs, err := client.Subscribe(ctx, "sv.file.changed")
//	for msg := range msgs {
//		msg.Ack()
//	}
package mq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/yeisme/syncvault/pkg/configs"
	nlog "github.com/yeisme/syncvault/pkg/log"
	nmetrics "github.com/yeisme/syncvault/pkg/metrics"
)

// HealthTopic 健康检查使用的主题.
const HealthTopic = "sv.health"

// ErrNotInitialized 客户端未初始化.
var ErrNotInitialized = errors.New("mq client not initialized")

// Factory 定义创建 Publisher + Subscriber 的工厂函数.
type Factory func(ctx context.Context, cfg *configs.MQConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error)

var factories = map[configs.MQType]Factory{}

// RegisterFactory 注册指定 MQType 的工厂.
func RegisterFactory(t configs.MQType, f Factory) {
	factories[t] = f
}

// GetRegisteredMQTypes 返回已注册的 MQ 类型.
func GetRegisteredMQTypes() []configs.MQType {
	types := make([]configs.MQType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// Client 封装 watermill Publisher 与 Subscriber.
type Client struct {
	typ        configs.MQType
	publisher  message.Publisher
	subscriber message.Subscriber
}

// NewClient 用已有的 Publisher 与 Subscriber 构造客户端.
func NewClient(typ configs.MQType, pub message.Publisher, sub message.Subscriber) *Client {
	return &Client{typ: typ, publisher: pub, subscriber: sub}
}

// Type 返回传输类型.
func (c *Client) Type() configs.MQType { return c.typ }

// Publish 发布消息.
func (c *Client) Publish(_ context.Context, topic string, msgs ...*message.Message) error {
	if c == nil || c.publisher == nil {
		return ErrNotInitialized
	}

	return c.publisher.Publish(topic, msgs...)
}

// Subscribe 订阅主题，ctx 取消后通道关闭.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if c == nil || c.subscriber == nil {
		return nil, ErrNotInitialized
	}

	return c.subscriber.Subscribe(ctx, topic)
}

// HealthCheck 向健康主题发布一条探测消息.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Publish(ctx, HealthTopic, message.NewMessage(watermill.NewUUID(), []byte("ping")))
}

// Close 关闭资源.
func (c *Client) Close() error {
	var errs []error

	if c.publisher != nil {
		errs = append(errs, c.publisher.Close())
	}

	// gochannel 的 Publisher 与 Subscriber 是同一个实例
	if c.subscriber != nil && any(c.subscriber) != any(c.publisher) {
		errs = append(errs, c.subscriber.Close())
	}

	return errors.Join(errs...)
}

var (
	mqOnce sync.Once
	mqInst *Client
	mqErr  error
)

// New 使用全局配置初始化消息队列（单例）.
func New(ctx context.Context) (*Client, error) {
	mqOnce.Do(func() {
		cfg := configs.GetConfig()
		mqInst, mqErr = Open(ctx, &cfg.MQ, cfg.Metrics.Enabled && cfg.MQ.Common.EnableMetrics)
	})

	return mqInst, mqErr
}

// Open 按配置创建客户端，withMetrics 时在全局注册表上装饰 Publisher 与 Subscriber.
func Open(ctx context.Context, cfg *configs.MQConfig, withMetrics bool) (*Client, error) {
	typ := cfg.Type
	if typ == "" {
		typ = configs.MQTypeGoChannel
	}

	factory, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("unsupported mq type: %s", typ)
	}

	l := nlog.Component("mq")
	logger := NewLoggerAdapter(&l)

	pub, sub, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init mq (%s): %w", typ, err)
	}

	if withMetrics {
		builder := metrics.NewPrometheusMetricsBuilder(nmetrics.GetRegistry(), "syncvault", "mq")

		if pub, err = builder.DecoratePublisher(pub); err != nil {
			return nil, fmt.Errorf("decorate publisher with metrics: %w", err)
		}

		if sub, err = builder.DecorateSubscriber(sub); err != nil {
			return nil, fmt.Errorf("decorate subscriber with metrics: %w", err)
		}
	}

	l.Info().Str("type", string(typ)).Bool("metrics", withMetrics).Msg("MQ client initialized")

	return NewClient(typ, pub, sub), nil
}

// NewLoggerAdapter 将 zerolog 适配为 watermill.LoggerAdapter.
func NewLoggerAdapter(l *zerolog.Logger) watermill.LoggerAdapter {
	return &zerologAdapter{l: l}
}
