// Package mq publishes assembled charts to RabbitMQ for the rendering host.
package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection wraps a RabbitMQ connection.
type Connection struct {
	conn *amqp.Connection
}

// Dial connects to the broker at url.
func Dial(url string) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to RabbitMQ: %w", err)
	}
	return &Connection{conn: conn}, nil
}

// Channel opens a new channel.
func (c *Connection) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

// Close closes the connection and all of its channels.
func (c *Connection) Close() error {
	return c.conn.Close()
}
