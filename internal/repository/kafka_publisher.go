package repository

import (
	"context"

	"KasPull/internal/domain/models"
	drepo "KasPull/internal/domain/repository"
	pkgkafka "KasPull/pkg/kafka"
)

// balanceKey keeps every change on one partition so consumers see them in order.
const balanceKey = "balance"

// KafkaPublisher implements EventPublisher on a Kafka topic.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
}

func NewKafkaPublisher(p *pkgkafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

var _ drepo.EventPublisher = (*KafkaPublisher)(nil)

func (k *KafkaPublisher) Publish(ctx context.Context, c *models.BalanceChange) error {
	return k.producer.Publish(ctx, balanceKey, c)
}

func (k *KafkaPublisher) Close() error { return k.producer.Close() }
