package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventSyncReport 同步报告消息的 type 属性
const EventSyncReport = "knowledge.sync.report"

var ErrNacked = errors.New("rabbitmq: message nacked by broker")

// Client 发布知识同步事件，开启 publisher confirm；死信队列保留消费失败的事件
type Client struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewClient(url, queueName string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := declareTopology(ch, queueName); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &Client{conn: conn, ch: ch, queue: queueName}, nil
}

// declareTopology 主队列 + 同名 .dlx 交换机 + .dlq 死信队列
func declareTopology(ch *amqp.Channel, queueName string) error {
	dlx, dlq := queueName+".dlx", queueName+".dlq"
	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx %s: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, queueName, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq %s: %w", dlq, err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": queueName,
	}); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return nil
}

// Publish 发送持久化 JSON 消息并等待 broker 确认
func (c *Client) Publish(ctx context.Context, body []byte) error {
	c.mu.Lock()
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, "", c.queue, false, false, newMessage(body, time.Now()))
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rabbitmq: publish to %s: %w", c.queue, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq: wait confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

func newMessage(body []byte, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         EventSyncReport,
		Timestamp:    now,
		Body:         body,
	}
}

func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
