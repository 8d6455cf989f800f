// Package notify fans order lifecycle events out to downstream consumers
// (kitchen displays, dining-room dashboards) over Kafka.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/voiceplate/voiceplate/pkg/errorsx"
	"github.com/voiceplate/voiceplate/pkg/logging"
	"github.com/voiceplate/voiceplate/pkg/metrics"
	"github.com/voiceplate/voiceplate/pkg/order"
	"github.com/voiceplate/voiceplate/pkg/resilience"
)

// Config holds Kafka publisher configuration. With Enabled false or no
// brokers the publisher runs in log-only mode, which is what development
// and single-facility deployments use.
type Config struct {
	Brokers      []string `mapstructure:"brokers"`
	TopicCreated string   `mapstructure:"topic_created"`
	TopicStatus  string   `mapstructure:"topic_status"`
	Enabled      bool     `mapstructure:"enabled"`
}

// OrderCreated is the payload on the created topic.
type OrderCreated struct {
	Order  order.Record `json:"order"`
	Ticket string       `json:"ticket"`
}

// StatusChange is the payload on the status topic.
type StatusChange struct {
	OrderID   string       `json:"order_id"`
	TableID   string       `json:"table_id,omitempty"`
	Status    order.Status `json:"status"`
	ChangedAt time.Time    `json:"changed_at"`
}

// Publisher writes order events to two topics, keyed by table so one
// table's events stay ordered within a partition.
type Publisher struct {
	writerCreated *kafka.Writer
	writerStatus  *kafka.Writer
	topicCreated  string
	topicStatus   string
	enabled       bool
	retry         resilience.RetryPolicy
	logger        *slog.Logger
	obs           metrics.Observer
}

func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topicCreated: cfg.TopicCreated,
		topicStatus:  cfg.TopicStatus,
		retry:        resilience.NewRetryPolicy(2, 200*time.Millisecond),
		logger:       logging.NewComponentLogger(logger, "notify"),
		obs:          metrics.NoopObserver{},
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info("kafka_disabled_log_only_mode")
		return p
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.writerCreated = newWriter(cfg.TopicCreated)
	p.writerStatus = newWriter(cfg.TopicStatus)
	p.enabled = true

	p.logger.Info("kafka_publisher_initialized",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic_created", cfg.TopicCreated),
		slog.String("topic_status", cfg.TopicStatus))
	return p
}

func (p *Publisher) SetObserver(obs metrics.Observer) {
	if obs != nil {
		p.obs = obs
	}
}

// PublishOrderCreated announces a newly stored order with its kitchen ticket.
func (p *Publisher) PublishOrderCreated(ctx context.Context, rec order.Record) error {
	ev := OrderCreated{Order: rec, Ticket: order.FormatForKitchen(rec)}
	return p.publish(ctx, p.writerCreated, p.topicCreated, rec.TableID, ev)
}

// PublishStatusChange announces an order lifecycle transition.
func (p *Publisher) PublishStatusChange(ctx context.Context, rec order.Record) error {
	ev := StatusChange{
		OrderID:   rec.ID,
		TableID:   rec.TableID,
		Status:    rec.Status,
		ChangedAt: rec.UpdatedAt,
	}
	if err := p.publish(ctx, p.writerStatus, p.topicStatus, rec.TableID, ev); err != nil {
		return err
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventStatusPublished,
		Time: time.Now(),
		Tags: map[string]string{"status": string(rec.Status)},
	})
	return nil
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.logger.Debug("publishing_event",
		slog.String("topic", topic),
		slog.String("key", key),
		slog.Int("bytes", len(payload)))

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
		},
	}
	err = p.retry.Do(ctx, func() error {
		return writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		p.logger.Error("kafka_write_failed",
			slog.String("topic", topic),
			slog.String("key", key),
			slog.Any("error", err))
		return errorsx.Wrapf(errorsx.ReasonNotifyPublish, "failed to write to %s: %w", topic, err)
	}
	return nil
}

// Close closes both writers.
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerCreated, p.writerStatus} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			err = e
		}
	}
	return err
}
