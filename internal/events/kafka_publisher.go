package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// MessageWriter часть kafka.Writer, которая нужна публикатору.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DealEvent сообщение в топике событий сделок.
type DealEvent struct {
	UserID     int64     `json:"user_id"`
	Kind       string    `json:"kind"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// KafkaPublisher публикует уведомления пользователям в Kafka.
type KafkaPublisher struct {
	writer MessageWriter
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewKafkaWriter создаёт writer для топика событий.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Zstd,
	}
}

func NewKafkaPublisher(writer MessageWriter, log logrus.FieldLogger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log, now: time.Now}
}

// Deliver пишет событие с ключом user_id, чтобы события одного пользователя шли в одну партицию.
func (p *KafkaPublisher) Deliver(ctx context.Context, userID int64, kind string, payload any) error {
	value, err := json.Marshal(DealEvent{
		UserID:     userID,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("events: marshal события: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(userID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
		},
	}
	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("events: отправка в kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		p.log.WithError(err).Error("events: ошибка закрытия kafka writer")
		return err
	}
	return nil
}
