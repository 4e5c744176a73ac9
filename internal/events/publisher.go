package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const Exchange = "haulhub.events"

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, e Event) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("event", "type", e.Type, "event_id", e.ID, "job_id", e.JobID)
	return nil
}

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// rabbitSession is one live connection and its channel. closed fires when the broker drops the connection.
type rabbitSession struct {
	ch     amqpChannel
	conn   io.Closer
	closed <-chan *amqp.Error
}

func (s *rabbitSession) close() {
	_ = s.ch.Close()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// RabbitPublisher publishes events to a durable topic exchange, routed by event type. A dropped connection is
// redialled on the next Publish; the publish worker's retry covers the attempt that found it down.
type RabbitPublisher struct {
	mu      sync.Mutex
	sess    *rabbitSession
	connect func() (*rabbitSession, error)
	log     *slog.Logger
}

// DialRabbit connects with exponential backoff and declares the exchange.
func DialRabbit(url string, attempts int, log *slog.Logger) (*RabbitPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &RabbitPublisher{connect: func() (*rabbitSession, error) { return dialSession(url) }, log: log}
	var err error
	for i := 1; i <= attempts; i++ {
		p.mu.Lock()
		err = p.reconnectLocked()
		p.mu.Unlock()
		if err == nil {
			break
		}
		log.Warn("rabbitmq dial failed", "attempt", i, "error", err)
		time.Sleep(time.Duration(1<<i) * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", attempts, err)
	}
	return p, nil
}

func dialSession(url string) (*rabbitSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &rabbitSession{ch: ch, conn: conn, closed: conn.NotifyClose(make(chan *amqp.Error, 1))}, nil
}

// reconnectLocked replaces the current session. p.mu must be held.
func (p *RabbitPublisher) reconnectLocked() error {
	if p.sess != nil {
		p.sess.close()
		p.sess = nil
	}
	sess, err := p.connect()
	if err != nil {
		return err
	}
	p.sess = sess
	if sess.closed != nil {
		go p.watch(sess)
	}
	p.log.Info("connected to rabbitmq", "exchange", Exchange)
	return nil
}

// watch drops sess once the broker closes its connection, so the next Publish redials.
func (p *RabbitPublisher) watch(sess *rabbitSession) {
	amqpErr, ok := <-sess.closed
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != sess {
		return
	}
	if ok && amqpErr != nil {
		p.log.Warn("rabbitmq connection lost", "code", amqpErr.Code, "reason", amqpErr.Reason)
	}
	p.sess = nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil || p.sess.ch.IsClosed() {
		if err := p.reconnectLocked(); err != nil {
			return fmt.Errorf("reconnect rabbitmq: %w", err)
		}
	}
	err = p.sess.ch.PublishWithContext(ctx, Exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID.String(),
		Timestamp:    e.OccurredAt,
		Body:         body,
	})
	if err != nil {
		if p.sess.ch.IsClosed() {
			p.sess.close()
			p.sess = nil
		}
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil {
		p.sess.close()
	}
	p.sess = nil
}
