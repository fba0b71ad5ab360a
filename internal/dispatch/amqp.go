package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/config"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
)

const (
	defaultQueue    = "scan_jobs"
	defaultPrefetch = 2
	maxRetries      = 3
	retryHeader     = "x-retry-count"
	retryDelay      = 5 * time.Second
)

// queueConn owns one connection and channel with the scan queue declared.
type queueConn struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	// channels are not safe for concurrent publishing
	pubMu sync.Mutex
}

func openQueue(cfg *config.DispatchConfig, prefetch int) (*queueConn, error) {
	if cfg.AMQPURL == "" {
		return nil, errors.New("amqp url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = defaultQueue
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &queueConn{conn: conn, ch: ch, queue: queue}, nil
}

func (q *queueConn) publish(ctx context.Context, job Job, retries int32) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ScanID,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if retries > 0 {
		msg.Headers = amqp.Table{retryHeader: retries}
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish scan %s: %w", job.ScanID, err)
	}
	return nil
}

func (q *queueConn) close() error {
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}
	return errors.Join(errs...)
}

// Publisher enqueues scans for workers.
type Publisher struct {
	q *queueConn
}

// NewPublisher connects to RabbitMQ and declares the durable scan queue.
func NewPublisher(cfg *config.DispatchConfig) (*Publisher, error) {
	q, err := openQueue(cfg, 0)
	if err != nil {
		return nil, err
	}
	return &Publisher{q: q}, nil
}

// Dispatch publishes a persistent job for the scan.
func (p *Publisher) Dispatch(ctx context.Context, scanID string) error {
	if err := p.q.publish(ctx, Job{ScanID: scanID, EnqueuedAt: time.Now().UTC()}, 0); err != nil {
		return err
	}
	logger.With(logger.Fields{logger.FieldScanID: scanID}).Debug(ctx, "Scan job published")
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	return p.q.close()
}

// Consumer runs queued scans. Each delivery is acknowledged only after its
// scan returns, so a crashed worker leaves the job for another one.
type Consumer struct {
	q        *queueConn
	runner   Runner
	prefetch int
	tag      string
	logger   *logger.Logger
}

// NewConsumer connects to RabbitMQ with the configured prefetch.
func NewConsumer(cfg *config.DispatchConfig, runner Runner, log *logger.Logger) (*Consumer, error) {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	q, err := openQueue(cfg, prefetch)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Consumer{
		q:        q,
		runner:   runner,
		prefetch: prefetch,
		tag:      fmt.Sprintf("scan-worker-%d", time.Now().UnixNano()),
		logger:   log.WithField(logger.FieldComponent, "consumer"),
	}, nil
}

// Run consumes until ctx is cancelled or the delivery channel closes. It
// waits for in-flight scans before returning.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.q.ch.Consume(c.q.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	c.logger.WithFields(logger.Fields{"queue": c.q.queue, "prefetch": c.prefetch}).Info("Waiting for scan jobs")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			if err := c.q.ch.Cancel(c.tag, false); err != nil {
				c.logger.WithError(err).Warn("Failed to cancel consumer")
			}
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handle(ctx, d)
			}()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	job, err := DecodeJob(d.Body)
	if err != nil {
		c.logger.WithError(err).WithField("message_id", d.MessageId).Warn("Rejecting malformed scan job")
		if err := d.Reject(false); err != nil {
			c.logger.WithError(err).Error("Failed to reject message")
		}
		return
	}

	runCtx := c.logger.WithField(logger.FieldScanID, job.ScanID).WithContext(ctx)
	log := logger.FromContext(runCtx)
	err = c.runner.RunScan(runCtx, job.ScanID)
	if settled(err) {
		if err != nil {
			log.WithError(err).Info("Scan settled")
		}
		if err := d.Ack(false); err != nil {
			log.WithError(err).Error("Failed to ack message")
		}
		return
	}

	if ctx.Err() != nil {
		log.WithError(err).Warn("Worker stopping, returning scan job to the queue")
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Error("Failed to nack message")
		}
		return
	}

	retries := retryCount(d.Headers)
	if retries >= maxRetries {
		log.WithError(err).WithField("retries", retries).Error("Scan job dropped")
		if err := d.Reject(false); err != nil {
			log.WithError(err).Error("Failed to reject message")
		}
		return
	}

	// linear backoff before the retry is published
	delay := time.Duration(retries+1) * retryDelay
	log.WithError(err).WithFields(logger.Fields{"retries": retries + 1, "delay": delay.String()}).Warn("Scan job failed, requeueing")
	select {
	case <-ctx.Done():
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Error("Failed to nack message")
		}
		return
	case <-time.After(delay):
	}
	if err := c.q.publish(ctx, job, retries+1); err != nil {
		log.WithError(err).Error("Failed to requeue scan job")
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Error("Failed to nack message")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("Failed to ack message")
	}
}

// Close closes the channel and connection.
func (c *Consumer) Close() error {
	return c.q.close()
}

func retryCount(headers amqp.Table) int32 {
	switch v := headers[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}
