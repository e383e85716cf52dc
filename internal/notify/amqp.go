package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	ExchangeName = "ex.leads"
	RoutingKey   = "k.assignment"

	publishTimeout = 5 * time.Second
)

// channel is the subset of *amqp.Channel used for publishing
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a durable direct exchange as persistent JSON
type AMQPSink struct {
	conn *amqp.Connection
	ch   channel
	// amqp channels are not safe for concurrent publishing
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewAMQPSink dials the broker and declares the exchange
func NewAMQPSink(url string, logger zerolog.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", ExchangeName, err)
	}

	s := newAMQPSink(ch, logger)
	s.conn = conn
	s.logger.Info().Str("exchange", ExchangeName).Str("routing_key", RoutingKey).Msg("RabbitMQ publisher ready")
	return s, nil
}

func newAMQPSink(ch channel, logger zerolog.Logger) *AMQPSink {
	return &AMQPSink{
		ch:     ch,
		logger: logger.With().Str("component", "amqp").Logger(),
	}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, event types.AssignmentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.PublishWithContext(ctx,
		ExchangeName,
		RoutingKey,
		false, // Mandatory
		false, // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         event.Type,
			Timestamp:    event.Timestamp,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to RabbitMQ: %w", err)
	}
	return nil
}

// Healthy reports whether the broker connection is open
func (s *AMQPSink) Healthy() bool {
	return s.conn == nil || !s.conn.IsClosed()
}

// Close closes the channel and the connection
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ch.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
