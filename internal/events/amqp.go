package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"docify/internal/domain"
)

const (
	publishTimeout = 5 * time.Second
	amqpQueue      = 256
	redialMin      = time.Second
	redialMax      = 30 * time.Second
)

// session is one live connection and channel to the broker.
type session struct {
	publish func(ctx context.Context, msg amqp.Publishing) error
	closed  <-chan *amqp.Error
	close   func() error
}

// AMQPPublisher publishes job events to a durable RabbitMQ queue. Publish
// only enqueues; a background loop owns the connection and redials it when
// the broker goes away.
type AMQPPublisher struct {
	pending chan amqp.Publishing
	connect func() (*session, error)
	logger  zerolog.Logger
	redial  time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewAMQPPublisher dials url, declares queue and starts the publish loop.
// The first dial must succeed.
func NewAMQPPublisher(url, queue string, logger zerolog.Logger) (*AMQPPublisher, error) {
	p := newAMQPPublisher(func() (*session, error) { return dialSession(url, queue) }, amqpQueue, logger)
	s, err := p.connect()
	if err != nil {
		return nil, err
	}
	go p.run(s)
	return p, nil
}

func newAMQPPublisher(connect func() (*session, error), size int, logger zerolog.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		pending: make(chan amqp.Publishing, size),
		connect: connect,
		logger:  logger,
		redial:  redialMin,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func dialSession(url, queue string) (*session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare a %s queue: %w", queue, err)
	}
	return &session{
		publish: func(ctx context.Context, msg amqp.Publishing) error {
			return channel.PublishWithContext(ctx, "", queue, false, false, msg)
		},
		closed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		close: func() error {
			if err := channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				_ = conn.Close()
				return fmt.Errorf("failed to close channel: %w", err)
			}
			if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				return fmt.Errorf("failed to close connection: %w", err)
			}
			return nil
		},
	}, nil
}

// Publish queues ev for delivery. It never blocks; when the queue is full
// the event is dropped.
func (p *AMQPPublisher) Publish(ev domain.JobEvent) {
	msg, err := publishing(ev)
	if err != nil {
		p.logger.Error().Err(err).Msg("events: failed to encode job event")
		return
	}
	select {
	case p.pending <- msg:
	default:
		p.logger.Warn().Str("job_id", ev.JobID).Str("type", ev.Type).Msg("events: amqp queue full, event dropped")
	}
}

func (p *AMQPPublisher) run(s *session) {
	defer close(p.done)
	for {
		if s == nil {
			if s = p.reconnect(); s == nil {
				return
			}
		}
		select {
		case <-p.stop:
			p.flush(s)
			if err := s.close(); err != nil {
				p.logger.Warn().Err(err).Msg("events: failed to close amqp session")
			}
			return
		case cause := <-s.closed:
			p.logger.Warn().Err(amqpErr(cause)).Msg("events: amqp connection lost")
			_ = s.close()
			s = nil
		case msg := <-p.pending:
			if err := p.send(s, msg); err != nil {
				p.logger.Warn().Err(err).Str("message_id", msg.MessageId).Msg("events: failed to publish job event")
				if errors.Is(err, amqp.ErrClosed) {
					_ = s.close()
					s = nil
				}
			}
		}
	}
}

// reconnect dials until it succeeds or the publisher is closed, backing off
// between attempts.
func (p *AMQPPublisher) reconnect() *session {
	wait := p.redial
	for {
		select {
		case <-p.stop:
			return nil
		case <-time.After(wait):
		}
		s, err := p.connect()
		if err == nil {
			p.logger.Info().Msg("events: amqp connection restored")
			return s
		}
		p.logger.Warn().Err(err).Dur("retry_in", wait).Msg("events: amqp redial failed")
		wait = min(wait*2, redialMax)
	}
}

func (p *AMQPPublisher) send(s *session, msg amqp.Publishing) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return s.publish(ctx, msg)
}

// flush delivers what is still queued before the session closes.
func (p *AMQPPublisher) flush(s *session) {
	for {
		select {
		case msg := <-p.pending:
			if err := p.send(s, msg); err != nil {
				p.logger.Warn().Err(err).Int("left", len(p.pending)).Msg("events: dropping queued job events on close")
				return
			}
		default:
			return
		}
	}
}

// Close flushes queued events and closes the connection.
func (p *AMQPPublisher) Close() error {
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.done
	return nil
}

func amqpErr(e *amqp.Error) error {
	if e == nil {
		return amqp.ErrClosed
	}
	return e
}

func publishing(ev domain.JobEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         ev.Type,
		MessageId:    ev.JobID + ":" + ev.Type + ":" + fmt.Sprint(ev.Progress),
		Timestamp:    ev.Timestamp,
		Body:         body,
	}, nil
}
