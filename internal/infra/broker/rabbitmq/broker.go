package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bryanwahyu/transit-analyst/internal/domain/regional"
	"github.com/bryanwahyu/transit-analyst/internal/metrics"
)

// Options configures the queues shared with the compute workers.
type Options struct {
	URL           string
	JobQueue      string
	CancelQueue   string
	CompleteQueue string
	Prefetch      int
}

// JobMessage is the body published on the job queue.
type JobMessage struct {
	JobID                string          `json:"jobId"`
	ProjectID            string          `json:"projectId"`
	ScenarioID           string          `json:"scenarioId"`
	Zoom                 int             `json:"zoom"`
	West                 int             `json:"west"`
	North                int             `json:"north"`
	Width                int             `json:"width"`
	Height               int             `json:"height"`
	TravelTimePercentile int             `json:"travelTimePercentile"`
	Params               json.RawMessage `json:"params,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// CancelMessage asks workers to drop a job. Workers treat unknown or
// finished jobs as no-ops.
type CancelMessage struct {
	JobID string `json:"jobId"`
}

// CompleteMessage is published by workers once a job's replicate object is
// written.
type CompleteMessage struct {
	JobID string `json:"jobId"`
}

// Broker implements regional.Broker over RabbitMQ. The publishing channel is
// reopened lazily after connection loss.
type Broker struct {
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	newBackOff func() backoff.BackOff
}

// Dial connects to RabbitMQ, retrying with exponential backoff until ctx
// ends, and declares the durable queues.
func Dial(ctx context.Context, opts Options, log *slog.Logger) (*Broker, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 10
	}
	b := &Broker{opts: opts, log: log, newBackOff: defaultBackOff}

	err := backoff.Retry(func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		err := b.connectLocked()
		if err != nil {
			log.Warn("rabbitmq connect failed, retrying", "err", err)
		}
		return err
	}, backoff.WithContext(b.newBackOff(), ctx))
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return b, nil
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

func (b *Broker) connectLocked() error {
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.opts.URL)
		if err != nil {
			return err
		}
		b.conn = conn
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, b.opts); err != nil {
		_ = ch.Close()
		return err
	}
	b.ch = ch
	return nil
}

func declare(ch *amqp.Channel, opts Options) error {
	for _, q := range []string{opts.JobQueue, opts.CancelQueue, opts.CompleteQueue} {
		if q == "" {
			continue
		}
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	return nil
}

func (b *Broker) channel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil && !b.ch.IsClosed() {
		return b.ch, nil
	}
	if err := b.connectLocked(); err != nil {
		return nil, err
	}
	return b.ch, nil
}

func (b *Broker) publish(ctx context.Context, op, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	err = backoff.Retry(func() error {
		ch, err := b.channel()
		if err != nil {
			return err
		}
		err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b.newBackOff(), ctx))
	metrics.BrokerOperationsTotal.WithLabelValues(op, metrics.Status(err)).Inc()
	return err
}

// Enqueue publishes the job of a.
func (b *Broker) Enqueue(ctx context.Context, a *regional.RegionalAnalysis) error {
	return b.publish(ctx, "enqueue", b.opts.JobQueue, NewJobMessage(a))
}

// Cancel publishes a cancel message for id.
func (b *Broker) Cancel(ctx context.Context, id regional.AnalysisID) error {
	return b.publish(ctx, "cancel", b.opts.CancelQueue, CancelMessage{JobID: string(id)})
}

// NewJobMessage maps an analysis to its wire form.
func NewJobMessage(a *regional.RegionalAnalysis) JobMessage {
	return JobMessage{
		JobID:                string(a.ID),
		ProjectID:            a.ProjectID,
		ScenarioID:           a.Request.ScenarioID,
		Zoom:                 a.Zoom,
		West:                 a.West,
		North:                a.North,
		Width:                a.Width,
		Height:               a.Height,
		TravelTimePercentile: a.Request.TravelTimePercentile,
		Params:               a.Request.Params,
		CreatedAt:            a.CreatedAt,
	}
}

var errMalformed = errors.New("malformed completion message")

// DecodeCompletion parses a completion body.
func DecodeCompletion(body []byte) (regional.AnalysisID, error) {
	var m CompleteMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return "", fmt.Errorf("%w: %v", errMalformed, err)
	}
	id := strings.TrimSpace(m.JobID)
	if id == "" {
		return "", fmt.Errorf("%w: empty jobId", errMalformed)
	}
	return regional.AnalysisID(id), nil
}

// CompletionHandler records a finished job.
type CompletionHandler func(ctx context.Context, id regional.AnalysisID) error

// ConsumeCompletions delivers completion messages to handle until ctx ends,
// reconnecting with backoff whenever the session drops.
func (b *Broker) ConsumeCompletions(ctx context.Context, handle CompletionHandler) error {
	bo := b.newBackOff()
	bo.Reset()
	for {
		err := b.consumeSession(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			bo.Reset()
			wait = time.Second
		}
		b.log.Warn("completion consumer stopped, reconnecting", "err", err, "wait", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (b *Broker) consumeSession(ctx context.Context, handle CompletionHandler) error {
	b.mu.Lock()
	if b.conn == nil || b.conn.IsClosed() {
		if err := b.connectLocked(); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	conn := b.conn
	b.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(b.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	if err := declare(ch, b.opts); err != nil {
		return err
	}

	const tag = "transit-analyst-completions"
	deliveries, err := ch.Consume(b.opts.CompleteQueue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.opts.CompleteQueue, err)
	}
	b.log.Info("consuming job completions", "queue", b.opts.CompleteQueue)

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			b.handleDelivery(ctx, d, handle)
		}
	}
}

func (b *Broker) handleDelivery(ctx context.Context, d amqp.Delivery, handle CompletionHandler) {
	id, err := DecodeCompletion(d.Body)
	if err != nil {
		b.log.Warn("dropping completion", "delivery_tag", d.DeliveryTag, "err", err)
		_ = d.Ack(false)
		return
	}
	err = handle(ctx, id)
	metrics.BrokerOperationsTotal.WithLabelValues("complete", metrics.Status(err)).Inc()
	if err != nil {
		b.log.Error("mark analysis complete", "analysis", id, "err", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close shuts the channel and connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
