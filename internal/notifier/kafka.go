// Package notifier publishes booking status changes to Kafka so other
// services can follow what the desk did.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boardwatch/boardwatch/internal/alerter"
	"github.com/boardwatch/boardwatch/internal/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	writeTimeout  = 10 * time.Second
	eventType     = "booking.status_changed"
	schemaVersion = "1"
)

// StatusChange is the event written for every applied status transition
type StatusChange struct {
	BookingID string       `json:"booking_id"`
	Status    types.Status `json:"status"`
	ChangedAt time.Time    `json:"changed_at"`
	Source    string       `json:"source"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusPublisher writes status change events keyed by booking id
type StatusPublisher struct {
	writer messageWriter
	topic  string
	source string
	logger zerolog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewStatusPublisher creates a publisher for a comma separated broker list
func NewStatusPublisher(brokers, topic, source string, logger zerolog.Logger) (*StatusPublisher, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, errors.New("brokers cannot be empty")
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger = logger.With().Str("component", "status-publisher").Str("topic", topic).Logger()
	logger.Info().Strs("brokers", brokerList).Msg("kafka status publisher configured")

	return newStatusPublisher(writer, topic, source, logger), nil
}

func newStatusPublisher(w messageWriter, topic, source string, logger zerolog.Logger) *StatusPublisher {
	return &StatusPublisher{
		writer: w,
		topic:  topic,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Publish writes one event and waits for the broker ack
func (p *StatusPublisher) Publish(ctx context.Context, change StatusChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal status change: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(change.BookingID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "schema_version", Value: []byte(schemaVersion)},
			{Key: "status", Value: []byte(change.Status)},
		},
		Time: change.ChangedAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Info().
		Str("booking_id", change.BookingID).
		Str("status", string(change.Status)).
		Msg("published status change")
	return nil
}

// Observer adapts the publisher to the dispatcher's status callback.
// Each change is published on its own goroutine so the caller never waits on the broker.
func (p *StatusPublisher) Observer() alerter.StatusObserver {
	return func(bookingID string, status types.Status) {
		change := StatusChange{
			BookingID: bookingID,
			Status:    status,
			ChangedAt: p.now().UTC(),
			Source:    p.source,
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := p.Publish(ctx, change); err != nil {
				p.logger.Error().
					Err(err).
					Str("booking_id", bookingID).
					Str("status", string(status)).
					Msg("failed to publish status change")
			}
		}()
	}
}

// Close waits for pending publishes and closes the writer
func (p *StatusPublisher) Close() error {
	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		p.logger.Error().Err(err).Msg("error closing kafka writer")
		return err
	}
	p.logger.Info().Msg("kafka status publisher closed")
	return nil
}
