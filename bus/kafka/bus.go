// Package kafka provides Kafka-backed transports implementing the eventflow
// bus contracts using segmentio/kafka-go.
//
// Topology mapping: every command queue is a topic consumed by a single
// consumer group per bounded context, the event surface is one broadcast
// topic consumed by one consumer group per subscriber (fan-out), and a
// single dead-letter topic holds every message a consumer could not process.
// Delivery is at-least-once: offsets are committed only after a message was
// handled or dead-lettered, so a crash between fetch and commit redelivers.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	cqrs "github.com/commercekit/eventflow"
)

var (
	messagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventflow_kafka_messages_published_total",
		Help: "The total number of messages published to Kafka",
	}, []string{"topic"})
	publishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventflow_kafka_publish_errors_total",
		Help: "The total number of failed publish attempts",
	}, []string{"topic"})
	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventflow_kafka_messages_consumed_total",
		Help: "The total number of messages consumed from Kafka",
	}, []string{"topic"})
	messagesDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventflow_kafka_messages_dead_lettered_total",
		Help: "The total number of messages moved to the dead-letter topic",
	}, []string{"topic"})
)

// Config carries the broker endpoints and topic names for both transports.
type Config struct {
	Brokers []string

	// EventsTopic is the broadcast surface all domain events are published
	// to. Each event subscriber consumes it under its own group id.
	EventsTopic string

	// DeadLetterTopic receives unprocessable messages from every consumer.
	DeadLetterTopic string

	// StartOffset selects where a new consumer group begins: "earliest"
	// (default) or "latest".
	StartOffset string
}

func (c Config) startOffset() int64 {
	if strings.EqualFold(strings.TrimSpace(c.StartOffset), "latest") {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
}

func newReader(cfg Config, topic, groupID string) *kafka.Reader {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false,
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		Dialer:      dialer,
		StartOffset: cfg.startOffset(),
	})
}

// deadLetterWriter serializes access to the shared dead-letter topic.
type deadLetterWriter struct {
	mu     sync.Mutex
	writer *kafka.Writer
}

func (d *deadLetterWriter) move(ctx context.Context, source, reason string, headers []kafka.Header, key, body []byte) error {
	headers = append(headers,
		kafka.Header{Key: "x-dead-letter-source", Value: []byte(source)},
		kafka.Header{Key: "x-dead-letter-reason", Value: []byte(reason)},
	)

	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.writer.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   body,
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("write dead letter from %q: %w", source, err)
	}
	messagesDeadLettered.WithLabelValues(source).Inc()
	return nil
}

func eventHeaders(env cqrs.Envelope) []kafka.Header {
	headers := []kafka.Header{
		{Key: cqrs.HeaderEventType, Value: []byte(env.EventType)},
		{Key: cqrs.HeaderAggregateType, Value: []byte(env.AggregateType)},
		{Key: cqrs.HeaderCorrelationID, Value: []byte(env.CorrelationID)},
	}
	if env.CausationID != "" {
		headers = append(headers, kafka.Header{Key: cqrs.HeaderCausationID, Value: []byte(env.CausationID)})
	}
	if env.TenantID != "" {
		headers = append(headers, kafka.Header{Key: cqrs.HeaderTenantID, Value: []byte(env.TenantID)})
	}
	return headers
}

func commandHeaders(env cqrs.CommandEnvelope) []kafka.Header {
	headers := []kafka.Header{
		{Key: cqrs.HeaderCommandType, Value: []byte(env.Command.CommandType())},
		{Key: cqrs.HeaderCorrelationID, Value: []byte(env.CorrelationID)},
	}
	if env.CausationID != "" {
		headers = append(headers, kafka.Header{Key: cqrs.HeaderCausationID, Value: []byte(env.CausationID)})
	}
	if env.TenantID != "" {
		headers = append(headers, kafka.Header{Key: cqrs.HeaderTenantID, Value: []byte(env.TenantID)})
	}
	return headers
}

type eventBus struct {
	cfg    Config
	writer *kafka.Writer
	dlq    *deadLetterWriter

	mu      sync.Mutex
	readers []*kafka.Reader
	names   map[string]struct{}
	errs    chan error
	closed  bool
	cancel  context.CancelFunc
	runCtx  context.Context
	wg      sync.WaitGroup
}

// NewEventBus creates a Kafka-backed event bus.
func NewEventBus(cfg Config) cqrs.EventBus {
	runCtx, cancel := context.WithCancel(context.Background())
	return &eventBus{
		cfg:    cfg,
		writer: newWriter(cfg.Brokers, cfg.EventsTopic),
		dlq:    &deadLetterWriter{writer: newWriter(cfg.Brokers, cfg.DeadLetterTopic)},
		names:  make(map[string]struct{}),
		errs:   make(chan error, 64),
		runCtx: runCtx,
		cancel: cancel,
	}
}

// Publish writes the envelope to the events topic, keyed by aggregate id so
// one aggregate's stream stays in a single partition, preserving raise order
// for consumers. It returns on broker acknowledgment of receipt.
func (b *eventBus) Publish(ctx context.Context, env cqrs.Envelope) error {
	body, err := cqrs.MarshalEnvelope(env)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:     []byte(env.AggregateID),
		Value:   body,
		Headers: eventHeaders(env),
	}

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		publishErrors.WithLabelValues(b.cfg.EventsTopic).Inc()
		return &cqrs.TransportError{Op: "publish event " + env.EventType, Err: err}
	}

	messagesPublished.WithLabelValues(b.cfg.EventsTopic).Inc()
	return nil
}

// Subscribe starts a consumer group named after the subscription. All current
// subscribers eventually receive every event published to the topic; the
// handler's ErrSkippedEvent return filters types it does not care about.
func (b *eventBus) Subscribe(ctx context.Context, name string, handler cqrs.EventHandler, _ ...cqrs.SubscriberOption) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}
	if _, exists := b.names[name]; exists {
		return fmt.Errorf("handler with name %q already registered", name)
	}
	b.names[name] = struct{}{}

	reader := newReader(b.cfg, b.cfg.EventsTopic, name)
	b.readers = append(b.readers, reader)

	b.wg.Add(1)
	go b.run(name, reader, handler)

	return nil
}

// run is the consume loop for one subscription. A single bad message never
// halts the consumer: deserialization failures and handler errors move the
// message to dead-letter and the loop continues with the next offset.
func (b *eventBus) run(name string, reader *kafka.Reader, handler cqrs.EventHandler) {
	defer b.wg.Done()

	ctx := b.runCtx
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.report(fmt.Errorf("subscriber %q: fetch: %w", name, err))
			time.Sleep(1 * time.Second)
			continue
		}

		messagesConsumed.WithLabelValues(b.cfg.EventsTopic).Inc()

		env, err := cqrs.UnmarshalEnvelope(msg.Value)
		if err != nil {
			b.moveToDeadLetter(ctx, name, msg, err)
			b.commit(ctx, name, reader, msg)
			continue
		}

		if err := handler.Handle(ctx, env); err != nil {
			var skipped *cqrs.ErrSkippedEvent
			if !errors.As(err, &skipped) {
				b.moveToDeadLetter(ctx, name, msg, err)
				b.report(fmt.Errorf("subscriber %q: handle %q: %w", name, env.EventType, err))
			}
		}

		b.commit(ctx, name, reader, msg)
	}
}

func (b *eventBus) moveToDeadLetter(ctx context.Context, name string, msg kafka.Message, cause error) {
	if err := b.dlq.move(ctx, name, cause.Error(), msg.Headers, msg.Key, msg.Value); err != nil {
		b.report(err)
	}
}

func (b *eventBus) commit(ctx context.Context, name string, reader *kafka.Reader, msg kafka.Message) {
	if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		b.report(fmt.Errorf("subscriber %q: commit: %w", name, err))
	}
}

func (b *eventBus) report(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

func (b *eventBus) Errors() <-chan error {
	return b.errs
}

// Close stops all consumer loops, waits for them, and closes the writers.
func (b *eventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	b.mu.Unlock()

	b.cancel()
	for _, r := range readers {
		r.Close()
	}
	b.wg.Wait()

	err := b.writer.Close()
	if cerr := b.dlq.writer.Close(); err == nil {
		err = cerr
	}
	close(b.errs)
	return err
}

type commandBus struct {
	cfg Config
	dlq *deadLetterWriter

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
	queues  map[string]struct{}
	errs    chan error
	closed  bool
	cancel  context.CancelFunc
	runCtx  context.Context
	wg      sync.WaitGroup
}

// NewCommandBus creates a Kafka-backed command bus. Writers are created
// lazily per destination queue.
func NewCommandBus(cfg Config) cqrs.CommandBus {
	runCtx, cancel := context.WithCancel(context.Background())
	return &commandBus{
		cfg:     cfg,
		dlq:     &deadLetterWriter{writer: newWriter(cfg.Brokers, cfg.DeadLetterTopic)},
		writers: make(map[string]*kafka.Writer),
		queues:  make(map[string]struct{}),
		errs:    make(chan error, 64),
		runCtx:  runCtx,
		cancel:  cancel,
	}
}

// Publish writes the envelope to the topic named after the queue, keyed by
// aggregate id. It returns on broker acknowledgment of receipt, not
// processing; a broker failure surfaces immediately for caller-driven retry.
func (b *commandBus) Publish(ctx context.Context, queue string, env cqrs.CommandEnvelope) error {
	body, err := cqrs.MarshalCommandEnvelope(env)
	if err != nil {
		return err
	}

	writer := b.writerFor(queue)
	msg := kafka.Message{
		Key:     []byte(env.Command.AggregateID()),
		Value:   body,
		Headers: commandHeaders(env),
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		publishErrors.WithLabelValues(queue).Inc()
		return &cqrs.TransportError{Op: "publish command " + env.Command.CommandType(), Err: err}
	}

	messagesPublished.WithLabelValues(queue).Inc()
	return nil
}

func (b *commandBus) writerFor(queue string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.writers[queue]; ok {
		return w
	}
	w := newWriter(b.cfg.Brokers, queue)
	b.writers[queue] = w
	return w
}

// Subscribe starts the consume loop for a queue. The consumer group id is the
// queue name, so horizontally scaled replicas of a bounded context share the
// queue while each message is processed by one of them.
func (b *commandBus) Subscribe(ctx context.Context, queue string, processor cqrs.CommandProcessor, _ ...cqrs.SubscriberOption) error {
	if processor == nil {
		return errors.New("processor cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("command bus is closed")
	}
	if _, exists := b.queues[queue]; exists {
		return fmt.Errorf("queue %q already has a consumer", queue)
	}
	b.queues[queue] = struct{}{}

	reader := newReader(b.cfg, queue, queue)
	b.readers = append(b.readers, reader)

	b.wg.Add(1)
	go b.run(queue, reader, processor)

	return nil
}

func (b *commandBus) run(queue string, reader *kafka.Reader, processor cqrs.CommandProcessor) {
	defer b.wg.Done()

	ctx := b.runCtx
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.report(fmt.Errorf("queue %q: fetch: %w", queue, err))
			time.Sleep(1 * time.Second)
			continue
		}

		messagesConsumed.WithLabelValues(queue).Inc()

		env, err := cqrs.UnmarshalCommandEnvelope(msg.Value)
		if err != nil {
			b.moveToDeadLetter(ctx, queue, msg, err)
			b.commit(ctx, queue, reader, msg)
			continue
		}

		if err := b.process(ctx, processor, env); err != nil {
			b.moveToDeadLetter(ctx, queue, msg, err)
			b.report(fmt.Errorf("queue %q: process %q: %w", queue, env.Command.CommandType(), err))
		}

		b.commit(ctx, queue, reader, msg)
	}
}

func (b *commandBus) process(ctx context.Context, processor cqrs.CommandProcessor, env cqrs.CommandEnvelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in processor: %v", r)
		}
	}()
	return processor.Process(ctx, env)
}

func (b *commandBus) moveToDeadLetter(ctx context.Context, queue string, msg kafka.Message, cause error) {
	if err := b.dlq.move(ctx, queue, cause.Error(), msg.Headers, msg.Key, msg.Value); err != nil {
		b.report(err)
	}
}

func (b *commandBus) commit(ctx context.Context, queue string, reader *kafka.Reader, msg kafka.Message) {
	if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		b.report(fmt.Errorf("queue %q: commit: %w", queue, err))
	}
}

func (b *commandBus) report(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

func (b *commandBus) Errors() <-chan error {
	return b.errs
}

// Close stops all consumer loops, waits for them, and closes the writers.
func (b *commandBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	readers := b.readers
	writers := b.writers
	b.mu.Unlock()

	b.cancel()
	for _, r := range readers {
		r.Close()
	}
	b.wg.Wait()

	var err error
	for _, w := range writers {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := b.dlq.writer.Close(); err == nil {
		err = cerr
	}
	close(b.errs)
	return err
}
