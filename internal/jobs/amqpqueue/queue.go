// Package amqpqueue carries extraction jobs over RabbitMQ: a durable direct
// exchange bound to one durable queue, JSON bodies and manual acks.
package amqpqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-capture/internal/jobs"
	"github.com/dvloznov/finance-capture/internal/metrics"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp091.Channel the queue uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Queue publishes and consumes jobs.ExtractJob messages.
type Queue struct {
	conn         *amqp091.Connection
	ch           channel
	exchangeName string
	queueName    string
	consumerTag  string
	store        jobs.JobStore

	workers     int
	backoffUnit time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	publishMu sync.Mutex
	mu        sync.Mutex
	started   bool
	closed    bool
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

type Option func(*Queue)

// WithWorkers sets how many deliveries are handled concurrently. It is also
// the channel prefetch count.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoffUnit sets the linear delay unit before a failed job is republished.
func WithBackoffUnit(d time.Duration) Option {
	return func(q *Queue) { q.backoffUnit = d }
}

// WithStore records job state transitions in store.
func WithStore(store jobs.JobStore) Option {
	return func(q *Queue) { q.store = store }
}

func WithLogger(l zerolog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Dial connects to url and declares the exchange, the queue and their binding.
func Dial(url, exchangeName, queueName string, opts ...Option) (*Queue, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := newQueue(ch, exchangeName, queueName, opts...)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

func newQueue(ch channel, exchangeName, queueName string, opts ...Option) (*Queue, error) {
	q := &Queue{
		ch:           ch,
		exchangeName: exchangeName,
		queueName:    queueName,
		consumerTag:  "finance-capture-" + uuid.NewString(),
		workers:      1,
		backoffUnit:  time.Second,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.setup(); err != nil {
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return q, nil
}

func (q *Queue) setup() error {
	err := q.ch.ExchangeDeclare(
		q.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = q.ch.QueueDeclare(
		q.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Direct exchange: the routing key is the queue name.
	if err := q.ch.QueueBind(q.queueName, q.queueName, q.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// PublishExtract fills in the job defaults and publishes it as a persistent
// JSON message.
func (q *Queue) PublishExtract(ctx context.Context, job *jobs.ExtractJob) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return jobs.ErrQueueClosed
	}

	jobs.Prepare(job, uuid.NewString, time.Now().UTC())
	if err := q.publish(ctx, job); err != nil {
		return err
	}
	q.save(ctx, job)
	q.metrics.IncJob(string(jobs.JobStatusPending))

	q.logger.Debug().
		Str("job_id", job.JobID).
		Str("modality", string(job.Modality)).
		Str("exchange", q.exchangeName).
		Str("queue", q.queueName).
		Msg("Published extract job")
	return nil
}

func (q *Queue) publish(ctx context.Context, job *jobs.ExtractJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	q.publishMu.Lock()
	defer q.publishMu.Unlock()

	err = q.ch.PublishWithContext(
		ctx,
		q.exchangeName, // exchange
		q.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    job.JobID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.JobID, err)
	}
	return nil
}

// Start begins consuming. Each of the workers goroutines handles one
// delivery at a time; Stop waits for them.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return jobs.ErrQueueClosed
	}
	if q.started {
		return errors.New("queue already started")
	}

	if err := q.ch.Qos(q.workers, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := q.ch.Consume(
		q.queueName,   // queue
		q.consumerTag, // consumer
		false,         // auto-ack (we want manual ack)
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	// Stop cancels loopCtx only; handlers keep running on ctx until done.
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(loopCtx, ctx, deliveries, handler)
	}

	q.logger.Info().Str("queue", q.queueName).Int("workers", q.workers).Msg("Started consuming extract jobs")
	return nil
}

func (q *Queue) worker(loopCtx, ctx context.Context, deliveries <-chan amqp091.Delivery, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-loopCtx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			q.handleDelivery(loopCtx, ctx, d, handler)
		}
	}
}

func (q *Queue) handleDelivery(loopCtx, ctx context.Context, d amqp091.Delivery, handler jobs.JobHandler) {
	var job jobs.ExtractJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.JobID == "" {
		q.logger.Error().Err(err).Str("message_id", d.MessageId).Msg("Dropping undecodable job")
		_ = d.Nack(false, false) // reject and don't requeue
		return
	}

	log := q.logger.With().
		Str("job_id", job.JobID).
		Str("modality", string(job.Modality)).
		Int("retry_count", job.RetryCount).
		Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	job.CompletedAt = nil
	q.save(ctx, &job)

	err := handler(ctx, &job)
	retry := jobs.Finish(&job, err, time.Now().UTC())
	q.metrics.IncJob(string(job.Status))
	q.save(ctx, &job)

	if !retry {
		if job.Status == jobs.JobStatusCompleted {
			log.Info().Str("transaction_id", job.TransactionID).Msg("Job completed")
			_ = d.Ack(false)
			return
		}
		log.Error().Err(err).Msg("Job failed")
		_ = d.Nack(false, false)
		return
	}

	backoff := jobs.Backoff(q.backoffUnit, job.RetryCount)
	log.Warn().Err(err).Dur("backoff", backoff).Msg("Job failed, retrying")

	timer := time.NewTimer(backoff)
	select {
	case <-loopCtx.Done():
		// Shutting down: hand the job back now rather than after the backoff.
		timer.Stop()
	case <-timer.C:
	}
	q.requeue(ctx, d, &job, log)
}

// requeue republishes job, which already carries the advanced retry count,
// and acks the original delivery. When the publish fails the original message
// goes back to the broker and the stored job is rolled back to its count.
func (q *Queue) requeue(ctx context.Context, d amqp091.Delivery, job *jobs.ExtractJob, log zerolog.Logger) {
	job.Status = jobs.JobStatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
	if err := q.publish(ctx, job); err != nil {
		log.Error().Err(err).Msg("Could not republish job, requeueing original")
		job.RetryCount--
		q.save(ctx, job)
		_ = d.Nack(false, true)
		return
	}
	q.save(ctx, job)
	_ = d.Ack(false)
}

func (q *Queue) save(ctx context.Context, job *jobs.ExtractJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to save job")
	}
}

// Stop cancels the consumer and waits for in-flight deliveries.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = false
	cancel := q.cancel
	q.mu.Unlock()

	if err := q.ch.Cancel(q.consumerTag, false); err != nil {
		q.logger.Warn().Err(err).Msg("Cancelling consumer")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops consuming and closes the channel and connection.
func (q *Queue) Close() error {
	if err := q.Stop(context.Background()); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

var _ jobs.Queue = (*Queue)(nil)
