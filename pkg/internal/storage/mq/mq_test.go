package mq_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/storage/mq"
)

// TestGoChannelRoundTrip 测试进程内传输的发布与订阅.
func TestGoChannelRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := configs.Defaults().MQ
	client, err := mq.Open(ctx, &cfg, false)
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	assert.Equal(t, configs.MQTypeGoChannel, client.Type())

	msgs, err := client.Subscribe(ctx, "sv.test")
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "sv.test", message.NewMessage(watermill.NewUUID(), []byte("hello"))))

	select {
	case msg := <-msgs:
		assert.Equal(t, "hello", string(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, client.HealthCheck(ctx))
}

// TestOpenUnsupported 测试未注册的传输类型.
func TestOpenUnsupported(t *testing.T) {
	cfg := configs.MQConfig{Type: "kafka"}

	_, err := mq.Open(context.Background(), &cfg, false)
	require.Error(t, err)
	assert.Contains(t, mq.GetRegisteredMQTypes(), configs.MQTypeNATS)
}

// TestNilClient 测试未初始化的客户端.
func TestNilClient(t *testing.T) {
	var client *mq.Client

	_, err := client.Subscribe(context.Background(), "t")
	require.ErrorIs(t, err, mq.ErrNotInitialized)
}
