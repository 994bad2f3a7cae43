// Package events publishes ledger outcomes to RabbitMQ so downstream
// consumers (notifications, reconciliation) can react without sitting
// in the transaction path. Events are emitted after commit and are
// best-effort: a publish failure is logged, never propagated into the
// ledger's result.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// LedgerExchange is the durable topic exchange all ledger events go to.
const LedgerExchange = "ledger_events"

// Publisher is implemented by anything that can emit a ledger event.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// Producer publishes to RabbitMQ over a single channel.
type Producer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NopPublisher is used when RabbitMQ is unavailable at startup; the
// ledger keeps working, events are dropped with a warning.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	log.Printf("[EVENTS] Publish skipped (no broker): %s", routingKey)
	return nil
}

func (NopPublisher) Close() {}

// NewProducer dials the broker with a bounded timeout and declares
// the ledger exchange.
func NewProducer(amqpURL string) (*Producer, error) {
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(LedgerExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Producer{conn: conn, channel: ch}, nil
}

// Publish sends one JSON message to the ledger exchange.
func (p *Producer) Publish(ctx context.Context, routingKey string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		LedgerExchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err == nil {
		return nil
	}

	// One-shot channel reopen, mirroring how broker hiccups usually
	// present (closed channel, healthy connection).
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return err
	}
	p.channel = ch
	if exErr := p.channel.ExchangeDeclare(LedgerExchange, "topic", true, false, false, false, nil); exErr != nil {
		return exErr
	}
	return p.channel.PublishWithContext(ctx, LedgerExchange, routingKey, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        jsonBody,
	})
}

// Close shuts the channel and connection down.
func (p *Producer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
