package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

// producer is the subset of *kgo.Client the notifier uses.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaNotifier publishes events as JSON records keyed by request ID, so all
// events of one request land on the same partition in order.
type KafkaNotifier struct {
	client producer
	topic  string
	log    *slog.Logger
}

// KafkaOptions configure the kafka producer.
type KafkaOptions struct {
	Brokers  []string
	Topic    string
	ClientID string
	Linger   time.Duration
}

// NewKafkaNotifier connects a franz-go producer.
func NewKafkaNotifier(log *slog.Logger, opts KafkaOptions) (*KafkaNotifier, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier: no brokers configured")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka notifier: topic is required")
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(opts.Brokers...),
		kgo.DefaultProduceTopic(opts.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if opts.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(opts.ClientID))
	}
	if opts.Linger > 0 {
		kopts = append(kopts, kgo.ProducerLinger(opts.Linger))
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("kafka notifier: create client: %w", err)
	}
	return newKafkaNotifier(log, client, opts.Topic), nil
}

func newKafkaNotifier(log *slog.Logger, client producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		client: client,
		topic:  topic,
		log:    log.With("adapter", "notify_kafka"),
	}
}

// eventMessage is the wire form of a domain.Event.
type eventMessage struct {
	Type       string            `json:"type"`
	RequestID  string            `json:"request_id"`
	MatchID    string            `json:"match_id,omitempty"`
	UnitID     string            `json:"unit_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev domain.Event) {
	msg := eventMessage{
		Type:       ev.Type.String(),
		RequestID:  ev.RequestID.String(),
		OccurredAt: ev.OccurredAt,
		Attributes: ev.Attributes,
	}
	if ev.MatchID != nil {
		msg.MatchID = ev.MatchID.String()
	}
	if ev.UnitID != nil {
		msg.UnitID = ev.UnitID.String()
	}

	value, err := json.Marshal(msg)
	if err != nil {
		n.log.ErrorContext(ctx, "encode event", slog.String("type", msg.Type), slog.String("error", err.Error()))
		return
	}

	rec := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(msg.RequestID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(msg.Type)},
		},
	}

	// Detach from the caller so a finished HTTP request does not abort delivery.
	n.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			n.log.Error("publish event failed",
				slog.String("type", msg.Type),
				slog.String("request_id", msg.RequestID),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Close flushes buffered records and closes the client.
func (n *KafkaNotifier) Close(ctx context.Context) error {
	err := n.client.Flush(ctx)
	n.client.Close()
	if err != nil {
		return fmt.Errorf("kafka notifier: flush: %w", err)
	}
	return nil
}
