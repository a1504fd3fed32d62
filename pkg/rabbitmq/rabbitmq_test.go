package rabbitmq

import (
	"context"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := newMessage([]byte(`{"status":"success"}`), now)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, EventSyncReport, msg.Type)
	assert.Equal(t, now, msg.Timestamp)
	assert.Len(t, msg.MessageId, 36)
	assert.NotEqual(t, msg.MessageId, newMessage(nil, now).MessageId)
}

// RABBITMQ_URL 指向可用 broker 时才运行
func TestPublish_Integration(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" || testing.Short() {
		t.Skip("skip rabbitmq integration: set RABBITMQ_URL")
	}
	c, err := NewClient(url, "akb_test_sync_events")
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Publish(ctx, []byte(`{"runId":"r-1"}`)))

	d, ok, err := c.ch.Get("akb_test_sync_events", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, EventSyncReport, d.Type)
	assert.JSONEq(t, `{"runId":"r-1"}`, string(d.Body))
}
