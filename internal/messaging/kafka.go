package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/eventrec/internal/config"
	"github.com/temcen/eventrec/internal/services"
	"github.com/temcen/eventrec/pkg/models"
)

const SourceHeader = "source"

// InteractionMessage is the envelope used on both interaction topics.
type InteractionMessage struct {
	MessageID   uuid.UUID          `json:"message_id"`
	Interaction models.Interaction `json:"interaction"`
	Timestamp   time.Time          `json:"timestamp"`
	RetryCount  int                `json:"retry_count"`
	Source      string             `json:"source,omitempty"`
}

// InteractionHandler processes one consumed interaction.
type InteractionHandler func(ctx context.Context, interaction *models.Interaction) error

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Stats() kafka.ReaderStats
	Close() error
}

// EventBus publishes recorded interactions and consumes upstream ones,
// parking messages that keep failing on a dead-letter topic.
type EventBus struct {
	producer   messageWriter
	consumer   messageReader
	dlqWriter  messageWriter
	topics     topicNames
	maxRetries int
	baseDelay  time.Duration
	logger     *logrus.Logger
}

type topicNames struct {
	events     string
	consumed   string
	deadLetter string
}

func NewEventBus(cfg config.KafkaConfig, logger *logrus.Logger) *EventBus {
	producer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.InteractionEvents,
		Balancer:     &kafka.Hash{}, // Keyed by user so a user's events stay ordered
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topics.UserInteractions,
		GroupID:        cfg.GroupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.DeadLetter,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return newEventBus(producer, consumer, dlqWriter, cfg, logger)
}

func newEventBus(producer messageWriter, consumer messageReader, dlq messageWriter, cfg config.KafkaConfig, logger *logrus.Logger) *EventBus {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &EventBus{
		producer:  producer,
		consumer:  consumer,
		dlqWriter: dlq,
		topics: topicNames{
			events:     cfg.Topics.InteractionEvents,
			consumed:   cfg.Topics.UserInteractions,
			deadLetter: cfg.Topics.DeadLetter,
		},
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		logger:     logger,
	}
}

// PublishInteraction implements services.EventPublisher.
func (eb *EventBus) PublishInteraction(ctx context.Context, interaction *models.Interaction) error {
	message := InteractionMessage{
		MessageID:   uuid.New(),
		Interaction: *interaction,
		Timestamp:   time.Now(),
		Source:      "recommendation-engine",
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(interaction.UserID.String()),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(message.MessageID.String())},
			{Key: "interaction_type", Value: []byte(interaction.Type)},
			{Key: SourceHeader, Value: []byte(message.Source)},
			{Key: "timestamp", Value: []byte(message.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := eb.producer.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	eb.logger.WithFields(logrus.Fields{
		"message_id":       message.MessageID,
		"user_id":          interaction.UserID,
		"interaction_type": interaction.Type,
		"topic":            eb.topics.events,
	}).Debug("Interaction published to Kafka")

	return nil
}

// ConsumeInteractions blocks until ctx is done, handing every decoded
// interaction to handler.
func (eb *EventBus) ConsumeInteractions(ctx context.Context, handler InteractionHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		message, err := eb.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			eb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		eb.handleMessage(ctx, message, handler)
	}
}

func (eb *EventBus) handleMessage(ctx context.Context, message kafka.Message, handler InteractionHandler) {
	var envelope InteractionMessage
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		eb.logger.WithError(err).WithField("offset", message.Offset).Error("Failed to unmarshal Kafka message")
		if dlqErr := eb.sendToDLQ(ctx, message.Value, message.Key, err); dlqErr != nil {
			eb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		}
		return
	}

	if err := eb.processWithRetry(ctx, &envelope, handler); err != nil {
		if ctx.Err() != nil {
			return
		}
		eb.logger.WithError(err).WithField("message_id", envelope.MessageID).Error("Failed to process message after retries")

		payload, _ := json.Marshal(envelope)
		if dlqErr := eb.sendToDLQ(ctx, payload, message.Key, err); dlqErr != nil {
			eb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
		}
	}
}

// processWithRetry retries with exponential backoff. Validation failures are
// permanent and are not retried.
func (eb *EventBus) processWithRetry(ctx context.Context, message *InteractionMessage, handler InteractionHandler) error {
	for attempt := 0; attempt <= eb.maxRetries; attempt++ {
		if attempt > 0 {
			delay := eb.baseDelay * time.Duration(1<<uint(attempt-1))
			eb.logger.WithFields(logrus.Fields{
				"message_id": message.MessageID,
				"attempt":    attempt,
				"delay":      delay,
			}).Info("Retrying message processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		message.RetryCount = attempt
		interaction := message.Interaction
		err := handler(ctx, &interaction)
		if err == nil {
			eb.logger.WithFields(logrus.Fields{
				"message_id": message.MessageID,
				"attempt":    attempt,
			}).Debug("Message processed successfully")
			return nil
		}

		eb.logger.WithError(err).WithFields(logrus.Fields{
			"message_id": message.MessageID,
			"attempt":    attempt,
		}).Warn("Message processing failed")

		if services.IsValidation(err) {
			return fmt.Errorf("rejected message: %w", err)
		}
		if attempt == eb.maxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
	}

	return errors.New("unexpected retry loop exit")
}

func (eb *EventBus) sendToDLQ(ctx context.Context, payload, key []byte, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(payload),
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}
	if !json.Valid(payload) {
		dlqMessage["original_message"] = string(payload)
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   key,
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(eb.topics.consumed)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := eb.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	eb.logger.WithFields(logrus.Fields{
		"topic": eb.topics.deadLetter,
		"error": originalError.Error(),
	}).Warn("Message sent to DLQ")

	return nil
}

func (eb *EventBus) Close() error {
	var errs []error

	if err := eb.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := eb.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := eb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	return errors.Join(errs...)
}

// GetMetrics returns Kafka consumer metrics for monitoring
func (eb *EventBus) GetMetrics() map[string]interface{} {
	stats := eb.consumer.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}
