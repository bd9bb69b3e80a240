package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

// publishChannel is the subset of *amqp.Channel used by Publisher.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes charts to a topic exchange with routing key
// charts.<source>.<chart>.
type Publisher struct {
	mu       sync.Mutex
	channel  publishChannel
	exchange string
	logger   *zap.Logger
}

// NewPublisher opens a channel on conn and declares the durable topic exchange.
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return newPublisher(ch, exchange, logger), nil
}

func newPublisher(ch publishChannel, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{channel: ch, exchange: exchange, logger: logger}
}

// RoutingKey returns the routing key for a chart. Dots and spaces in names
// are replaced so that each name stays one topic word.
func RoutingKey(source, chart string) string {
	r := strings.NewReplacer(".", "_", " ", "_")
	return "charts." + r.Replace(source) + "." + r.Replace(chart)
}

// PublishChart implements the chart sink used by the updater.
func (p *Publisher) PublishChart(ctx context.Context, chart models.Chart) error {
	body, err := json.Marshal(chart)
	if err != nil {
		return fmt.Errorf("failed to marshal chart: %w", err)
	}
	key := RoutingKey(chart.Source, chart.Name)

	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    chart.GeneratedAt,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish chart: %w", err)
	}

	p.logger.Debug("published chart",
		zap.String("routing_key", key),
		zap.String("kind", string(chart.Kind)),
		zap.Int("rows", len(chart.Rows)+len(chart.Daily)),
	)
	return nil
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
