package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"matchday-service/logger"
)

// AMQPNotifier 把广播通知镜像到 AMQP topic exchange，
// 供场外消费者 (数据面板、推送服务) 使用。
// routing key 形如 match.<matchID>.<kind>。
// 发布失败只记日志，绝不影响触发它的主事务。
type AMQPNotifier struct {
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
	mu       sync.Mutex
	enabled  bool
}

// NewAMQPNotifier 创建通知器。url 为空时禁用 (所有操作变为空操作)
func NewAMQPNotifier(url, exchange string) *AMQPNotifier {
	enabled := url != ""
	if enabled {
		logger.Printf("[AMQPNotifier] Initialized (exchange: %s)", exchange)
	} else {
		logger.Println("[AMQPNotifier] Disabled (no AMQP_URL)")
	}

	return &AMQPNotifier{
		url:      url,
		exchange: exchange,
		enabled:  enabled,
	}
}

// Connect 建立连接并声明 exchange
func (n *AMQPNotifier) Connect() error {
	if !n.enabled {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	conn, err := amqp.DialConfig(n.url, amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		n.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	n.conn = conn
	n.channel = channel

	logger.Printf("[AMQPNotifier] Connected, exchange %s declared", n.exchange)
	return nil
}

// Publish 发布一条通知 (尽力而为)
func (n *AMQPNotifier) Publish(notification Notification) error {
	if !n.enabled {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel == nil {
		return fmt.Errorf("amqp channel not connected")
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	routingKey := fmt.Sprintf("match.%s.%s", notification.MatchID, notification.Kind)

	return n.channel.Publish(
		n.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   notification.SentAt,
		},
	)
}

// Close 关闭连接
func (n *AMQPNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
		n.channel = nil
	}
}
