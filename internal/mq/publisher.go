package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles event publishing to RabbitMQ
type Publisher struct {
	channel           *amqp.Channel
	exchange          string
	runRoutingKey     string
	anomalyRoutingKey string
	logger            *zap.Logger
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	Connection        *Connection
	Exchange          string
	RunRoutingKey     string
	AnomalyRoutingKey string
	Logger            *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, cfg.Exchange); err != nil {
		ch.Close()
		return nil, err
	}

	return &Publisher{
		channel:           ch,
		exchange:          cfg.Exchange,
		runRoutingKey:     cfg.RunRoutingKey,
		anomalyRoutingKey: cfg.AnomalyRoutingKey,
		logger:            cfg.Logger,
	}, nil
}

// PublishRunCompleted publishes the summary of a notification run
func (p *Publisher) PublishRunCompleted(ctx context.Context, event RunCompletedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if err := p.publish(ctx, p.runRoutingKey, event.EventID, event); err != nil {
		return err
	}

	p.logger.Debug("published run completed event",
		zap.String("run_id", event.RunID),
		zap.Int("users_processed", event.UsersProcessed),
	)
	return nil
}

// PublishAnomalyAlert publishes a delivered alert
func (p *Publisher) PublishAnomalyAlert(ctx context.Context, event AnomalyAlertEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if err := p.publish(ctx, p.anomalyRoutingKey, event.EventID, event); err != nil {
		return err
	}

	p.logger.Debug("published anomaly alert event",
		zap.String("run_id", event.RunID),
		zap.Int64("user_id", event.UserID),
		zap.Int("anomalies", len(event.Anomalies)),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey, messageID string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", routingKey, err)
	}

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
