// Package feed 把元数据库的 outbox 变更转成可订阅的变更流.
//
// Relay 轮询 file_changes 表并把每条变更连同完整文档发布到 MQ 主题；
// MQFeed 订阅该主题，供推送服务消费.订阅总是从"现在"开始，断线期间的变更不会补发.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/yeisme/syncvault/pkg/queue"
	nlog "github.com/yeisme/syncvault/pkg/log"
)

// Mutation 一次文件变更.Document 是变更后的完整文档，delete 时为 nil.
type Mutation struct {
	ChangeID   uint64
	Op         string
	FileID     string
	OwnerID    string
	Document   *queue.FileDoc
	OccurredAt time.Time
}

// Feed 变更订阅源.返回的通道在订阅结束（ctx 取消或底层断开）时关闭.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan Mutation, error)
}

// Subscriber MQ 订阅端，由 mq.Client 实现.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// ErrNoSubscriber MQFeed 未配置订阅端.
var ErrNoSubscriber = errors.New("feed: no subscriber")

// MQFeed 基于 MQ 主题的变更流.
type MQFeed struct {
	sub    Subscriber
	topic  string
	logger *zerolog.Logger
}

// NewMQFeed 创建订阅 topic 的变更流，topic 为空时使用 sv.file.changed.
func NewMQFeed(sub Subscriber, topic string) *MQFeed {
	if topic == "" {
		topic = queue.TopicFileChanged
	}

	l := nlog.Component("feed")

	return &MQFeed{sub: sub, topic: topic, logger: &l}
}

// Subscribe 订阅变更.消息解码后立即确认，无法解码的消息记录日志后丢弃.
func (f *MQFeed) Subscribe(ctx context.Context) (<-chan Mutation, error) {
	if f.sub == nil {
		return nil, ErrNoSubscriber
	}

	msgs, err := f.sub.Subscribe(ctx, f.topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Mutation)

	go func() {
		defer close(out)

		for msg := range msgs {
			env, err := queue.ParseFileChanged(msg)
			msg.Ack()

			if err != nil {
				f.logger.Warn().Err(err).Str("uuid", msg.UUID).Msg("drop undecodable change")
				continue
			}

			select {
			case out <- fromEnvelope(env):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func fromEnvelope(env queue.Message[queue.FileChangedPayload]) Mutation {
	p := env.Payload

	return Mutation{
		ChangeID:   p.ChangeID,
		Op:         p.Op,
		FileID:     p.FileID,
		OwnerID:    p.OwnerID,
		Document:   p.Document,
		OccurredAt: env.Header.OccurredAt,
	}
}
