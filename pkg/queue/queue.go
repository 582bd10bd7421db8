// Package queue 定义跨进程传递的事件封装与主题.
//
// 概览
//   - 统一的消息封装：Message[Payload] = Header + Payload，JSON 编码（sonic）
//   - 主题常量见 topics.go，负载结构体见 payloads.go
//   - 传输由 internal/storage/mq 提供
//
// 消息体示例（sv.file.changed）：
//
//	{
//	  "header": {"topic": "sv.file.changed", "occurred_at": "2025-01-01T00:00:00Z", "version": "v1"},
//	  "payload": {"change_id": 42, "op": "update", "file_id": "...", "owner_id": "alice", "document": {...}}
//	}
//
// 消费者应忽略未知字段；delete 事件不带 document.
package queue

import (
	"fmt"
	"time"

	watermill "github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
)

const (
	PayloadVersionV1 string = "v1"
)

// NewEventHeader 便捷创建事件头.
func NewEventHeader(topic string, opts ...func(*EventHeader)) EventHeader {
	hdr := EventHeader{
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Version:    PayloadVersionV1,
	}
	for _, opt := range opts {
		opt(&hdr)
	}

	return hdr
}

// WithTraceID 设置 TraceID.
func WithTraceID(id string) func(*EventHeader) { return func(h *EventHeader) { h.TraceID = id } }

// WithProducer 设置 Producer.
func WithProducer(p string) func(*EventHeader) { return func(h *EventHeader) { h.Producer = p } }

// Encode 将消息封装为 JSON 字节切片.
func Encode[T any](msg Message[T]) ([]byte, error) { return sonic.Marshal(msg) }

// Decode 从 JSON 字节解码为消息.
func Decode[T any](b []byte) (Message[T], error) {
	var m Message[T]

	err := sonic.Unmarshal(b, &m)

	return m, err
}

// NewWatermillMessage 构造一个 watermill 消息，设置 ID 与元数据.
func NewWatermillMessage[T any](topic string, payload T, opts ...func(*EventHeader)) (*message.Message, error) {
	header := NewEventHeader(topic, opts...)
	env := Message[T]{Header: header, Payload: payload}

	data, err := Encode(env)
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("topic", topic)

	if header.TraceID != "" {
		msg.Metadata.Set("trace_id", header.TraceID)
	}

	if header.Producer != "" {
		msg.Metadata.Set("producer", header.Producer)
	}

	msg.Metadata.Set("occurred_at", header.OccurredAt.Format(time.RFC3339Nano))

	if header.Version != "" {
		msg.Metadata.Set("version", header.Version)
	}

	return msg, nil
}

// ParseWatermillMessage 解出泛型负载.
func ParseWatermillMessage[T any](msg *message.Message) (Message[T], error) {
	return Decode[T](msg.Payload)
}

// NewFileChanged 构造 sv.file.changed 消息，消息 ID 由 change id 派生，便于 JetStream 去重.
func NewFileChanged(payload FileChangedPayload, opts ...func(*EventHeader)) (*message.Message, error) {
	msg, err := NewWatermillMessage(TopicFileChanged, payload, opts...)
	if err != nil {
		return nil, err
	}

	msg.UUID = fmt.Sprintf("file-change-%d", payload.ChangeID)

	return msg, nil
}

// ParseFileChanged 解析 sv.file.changed 消息.
func ParseFileChanged(msg *message.Message) (Message[FileChangedPayload], error) {
	return ParseWatermillMessage[FileChangedPayload](msg)
}
