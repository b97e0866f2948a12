package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/segmentio/encoding/json"
	"github.com/streadway/amqp"
)

// Config describes the broker and exchange to publish to.
type Config struct {
	DSN         string `yaml:"dsn"`
	Exchange    string `yaml:"exchange" default:"kaspull"`
	TLS         bool   `yaml:"tls"`
	DialRetries uint   `yaml:"dial_retries" default:"3"`
}

var ErrClosed = errors.New("amqp: publisher closed")

// Publisher publishes persistent JSON messages to a durable topic exchange.
type Publisher struct {
	cfg Config

	mu     sync.Mutex
	conn   io.Closer
	ch     *amqp.Channel
	closed bool
}

// NewPublisher dials the broker, opens a channel and declares the exchange.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("amqp: dsn is required")
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp: exchange is required")
	}
	if cfg.DialRetries == 0 {
		cfg.DialRetries = 3
	}

	p := &Publisher{cfg: cfg}
	err := retry.Do(
		p.connect,
		retry.Attempts(cfg.DialRetries),
		retry.Delay(500*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)
	if p.cfg.TLS {
		conn, err = amqp.DialTLS(p.cfg.DSN, nil)
	} else {
		conn, err = amqp.Dial(p.cfg.DSN)
	}
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp declare exchange %s: %w", p.cfg.Exchange, err)
	}

	return p.swap(conn, ch)
}

// swap installs a fresh connection and closes the one it replaces. A
// publisher closed meanwhile rejects the new connection.
func (p *Publisher) swap(conn io.Closer, ch *amqp.Channel) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	old := p.conn
	p.conn, p.ch = conn, ch
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Publish marshals value as JSON and publishes it under routingKey. A closed
// channel is reopened once before giving up.
func (p *Publisher) Publish(ctx context.Context, routingKey string, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("amqp marshal: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	err = p.publish(routingKey, msg)
	if errors.Is(err, amqp.ErrClosed) {
		if rerr := p.connect(); rerr != nil {
			return rerr
		}
		err = p.publish(routingKey, msg)
	}
	return err
}

func (p *Publisher) publish(routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch == nil {
		return ErrClosed
	}
	if err := ch.Publish(p.cfg.Exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}
