package repository

import (
	"context"

	"KasPull/internal/domain/models"
	drepo "KasPull/internal/domain/repository"
	pkgamqp "KasPull/pkg/amqp"
)

const balanceRoutingKey = "balance.changed"

// AMQPPublisher implements EventPublisher on an AMQP topic exchange.
type AMQPPublisher struct {
	pub *pkgamqp.Publisher
}

func NewAMQPPublisher(p *pkgamqp.Publisher) *AMQPPublisher {
	return &AMQPPublisher{pub: p}
}

var _ drepo.EventPublisher = (*AMQPPublisher)(nil)

func (a *AMQPPublisher) Publish(ctx context.Context, c *models.BalanceChange) error {
	return a.pub.Publish(ctx, balanceRoutingKey, c)
}

func (a *AMQPPublisher) Close() error { return a.pub.Close() }
