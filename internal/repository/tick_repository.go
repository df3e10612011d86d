package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"PegWatch/internal/domain/models"
	domrepo "PegWatch/internal/domain/repository"
	pkgkafka "PegWatch/pkg/kafka"
)

// ClickHouseTickStore appends observations to the tick table read by
// ClickHousePriceSource. Stream observations carry no chain, so every row is
// written under the store's chain.
type ClickHouseTickStore struct {
	db    *sql.DB
	table string
	chain string
}

func NewClickHouseTickStore(db *sql.DB, table, chain string) *ClickHouseTickStore {
	return &ClickHouseTickStore{db: db, table: table, chain: strings.ToLower(chain)}
}

func (s *ClickHouseTickStore) Store(ctx context.Context, obs *models.PriceObservation) error {
	return s.StoreBatch(ctx, []*models.PriceObservation{obs})
}

func (s *ClickHouseTickStore) StoreBatch(ctx context.Context, batch []*models.PriceObservation) error {
	if len(batch) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(batch); start += chunkSize {
		end := start + chunkSize
		if end > len(batch) {
			end = len(batch)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*6)
		for _, o := range batch[start:end] {
			if o == nil || o.Symbol == "" || o.Timestamp.IsZero() {
				continue
			}
			volume := 0.0
			if o.Volume24h != nil {
				volume = *o.Volume24h
			}
			values = append(values, "(?, ?, ?, ?, ?, ?)")
			args = append(args, o.Timestamp, strings.ToUpper(o.Symbol), s.chain, o.Source, o.Price, volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, chain, source, price, volume) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert ticks: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseTickStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ObservationProducer is the slice of pkg/kafka.Producer used by the publishers.
type ObservationProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaObservationPublisher mirrors observations onto a topic keyed by symbol,
// in the same JSON shape KafkaObservationsHandler consumes.
type KafkaObservationPublisher struct {
	producer ObservationProducer
	topic    string
}

func NewKafkaObservationPublisher(producer ObservationProducer, topic string) *KafkaObservationPublisher {
	return &KafkaObservationPublisher{producer: producer, topic: topic}
}

func (p *KafkaObservationPublisher) Publish(ctx context.Context, obs *models.PriceObservation) error {
	return p.producer.Publish(ctx, p.topic, []byte(obs.Symbol), models.ObservationMessageFrom(obs))
}

func (p *KafkaObservationPublisher) PublishBatch(ctx context.Context, batch []*models.PriceObservation) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(batch))
	for _, o := range batch {
		if o == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(o.Symbol), Value: models.ObservationMessageFrom(o)})
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// StoreBatch lets the publisher sit behind the same archive slot as the tick store.
func (p *KafkaObservationPublisher) StoreBatch(ctx context.Context, batch []*models.PriceObservation) error {
	return p.PublishBatch(ctx, batch)
}

var (
	_ domrepo.ObservationArchive = (*ClickHouseTickStore)(nil)
	_ domrepo.ObservationArchive = (*KafkaObservationPublisher)(nil)
)
