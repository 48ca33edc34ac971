package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lucmuss/audio-transcriber/pkg/models"
)

// RabbitMQQueue is a durable queue shared by several API and worker
// processes. One consumer feeds every worker goroutine; the prefetch count
// bounds how many unacknowledged jobs a process holds.
type RabbitMQQueue struct {
	url       string
	queueName string
	prefetch  int
	closed    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	publishConn    *amqp.Connection
	publishChannel *amqp.Channel
	publishMutex   sync.Mutex

	consumeConn    *amqp.Connection
	consumeChannel *amqp.Channel
	deliveries     <-chan amqp.Delivery

	// amqp channels are not safe for concurrent acks
	ackMutex sync.Mutex
}

// NewRabbitMQQueue connects, declares the queue and starts consuming.
func NewRabbitMQQueue(url, queueName string, prefetch int) (*RabbitMQQueue, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	rq := &RabbitMQQueue{
		url:       url,
		queueName: queueName,
		prefetch:  prefetch,
		closed:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := rq.setupPublisher(); err != nil {
		cancel()
		return nil, fmt.Errorf("setup publisher: %w", err)
	}
	if err := rq.setupConsumer(); err != nil {
		cancel()
		rq.closePublisher()
		return nil, fmt.Errorf("setup consumer: %w", err)
	}

	log.Printf("✓ RabbitMQ queue ready (queue: %s)", queueName)
	return rq, nil
}

func (rq *RabbitMQQueue) declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		rq.queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	return err
}

func (rq *RabbitMQQueue) setupPublisher() error {
	conn, err := amqp.Dial(rq.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := rq.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}

	rq.publishConn = conn
	rq.publishChannel = ch
	return nil
}

func (rq *RabbitMQQueue) setupConsumer() error {
	conn, err := amqp.Dial(rq.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := rq.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(rq.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		rq.queueName,
		"",    // consumer tag, generated
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("consume: %w", err)
	}

	rq.consumeConn = conn
	rq.consumeChannel = ch
	rq.deliveries = deliveries
	log.Printf("✓ RabbitMQ consumer started (prefetch=%d)", rq.prefetch)
	return nil
}

// Enqueue publishes the job as a persistent JSON message.
func (rq *RabbitMQQueue) Enqueue(job *models.TranscriptionJob) error {
	select {
	case <-rq.closed:
		return ErrQueueClosed
	default:
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	rq.publishMutex.Lock()
	defer rq.publishMutex.Unlock()

	ctx, cancel := context.WithTimeout(rq.ctx, 5*time.Second)
	defer cancel()

	err = rq.publishChannel.PublishWithContext(ctx,
		"", // default exchange
		rq.queueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.JobID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish job %s: %w", job.JobID, err)
	}
	return nil
}

// Dequeue waits for the next delivery. Messages that do not decode are
// rejected without requeue.
func (rq *RabbitMQQueue) Dequeue(ctx context.Context) (*models.TranscriptionJob, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rq.closed:
		return nil, ErrQueueClosed
	case delivery, ok := <-rq.deliveries:
		if !ok {
			return nil, ErrQueueClosed
		}

		var job models.TranscriptionJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			rq.nack(delivery.DeliveryTag, false)
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		job.DeliveryTag = delivery.DeliveryTag
		job.RabbitMQDelivery = &delivery
		return &job, nil
	}
}

// Ack confirms the delivery the job came from.
func (rq *RabbitMQQueue) Ack(job *models.TranscriptionJob) error {
	if job.RabbitMQDelivery == nil {
		return nil
	}
	rq.ackMutex.Lock()
	defer rq.ackMutex.Unlock()
	return rq.consumeChannel.Ack(job.DeliveryTag, false)
}

// Nack rejects the delivery the job came from.
func (rq *RabbitMQQueue) Nack(job *models.TranscriptionJob, requeue bool) error {
	if job.RabbitMQDelivery == nil {
		return nil
	}
	return rq.nack(job.DeliveryTag, requeue)
}

func (rq *RabbitMQQueue) nack(tag uint64, requeue bool) error {
	rq.ackMutex.Lock()
	defer rq.ackMutex.Unlock()
	return rq.consumeChannel.Nack(tag, false, requeue)
}

// Stats reports the broker's message and consumer counts.
func (rq *RabbitMQQueue) Stats() (messages, consumers int, err error) {
	rq.publishMutex.Lock()
	defer rq.publishMutex.Unlock()

	q, err := rq.publishChannel.QueueDeclarePassive(rq.queueName, true, false, false, false, nil)
	if err != nil {
		return 0, 0, err
	}
	return q.Messages, q.Consumers, nil
}

// Close shuts down both connections. It is safe to call more than once.
func (rq *RabbitMQQueue) Close() error {
	select {
	case <-rq.closed:
		return nil
	default:
	}
	close(rq.closed)
	rq.cancel()

	if rq.consumeChannel != nil {
		rq.consumeChannel.Close()
	}
	if rq.consumeConn != nil {
		rq.consumeConn.Close()
	}
	rq.closePublisher()

	log.Println("✓ RabbitMQ queue closed")
	return nil
}

func (rq *RabbitMQQueue) closePublisher() {
	if rq.publishChannel != nil {
		rq.publishChannel.Close()
	}
	if rq.publishConn != nil {
		rq.publishConn.Close()
	}
}
