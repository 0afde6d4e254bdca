// Package kafka implements queue.Broker on Kafka topics. Pushes go through a
// synchronous producer; pops are served from a consumer group that hands
// each message to exactly one waiting Pop before marking it consumed.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/phrazzld/vista-api/internal/config"
	"github.com/phrazzld/vista-api/internal/queue"
)

// DefaultGroupID is the consumer group shared by all workers.
const DefaultGroupID = "vista-workers"

const consumeRetryDelay = time.Second

// TopicName maps a queue name to a legal Kafka topic name.
func TopicName(queueName string) string {
	return strings.ReplaceAll(queueName, ":", ".")
}

// Broker implements queue.Broker over Kafka.
type Broker struct {
	producer sarama.SyncProducer
	newGroup func() (sarama.ConsumerGroup, error)
	ping     func() error
	closeFn  func() error
	logger   *slog.Logger

	topics []string
	inbox  map[string]chan string

	startOnce sync.Once
	startErr  error
	group     sarama.ConsumerGroup
	cancel    context.CancelFunc
	done      chan struct{}

	errMu      sync.RWMutex
	consumeErr error

	closeOnce sync.Once
	closed    chan struct{}
}

var _ queue.Broker = (*Broker)(nil)

// NewBroker connects to the configured brokers. queues lists every queue
// this process may Pop from.
func NewBroker(cfg config.KafkaConfig, queues []string, logger *slog.Logger) (*Broker, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest

	client, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w: %v", queue.ErrUnavailable, err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	groupID := cfg.GroupID
	if groupID == "" {
		groupID = DefaultGroupID
	}

	b := newBroker(producer, func() (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroupFromClient(groupID, client)
	}, queues, logger)
	b.ping = func() error {
		if client.Closed() {
			return sarama.ErrClosedClient
		}
		return client.RefreshMetadata()
	}
	b.closeFn = client.Close
	return b, nil
}

func newBroker(
	producer sarama.SyncProducer,
	newGroup func() (sarama.ConsumerGroup, error),
	queues []string,
	logger *slog.Logger,
) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		producer: producer,
		newGroup: newGroup,
		ping:     func() error { return nil },
		closeFn:  func() error { return nil },
		logger:   logger.With(slog.String("component", "kafka_broker")),
		inbox:    make(map[string]chan string, len(queues)),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	for _, q := range queues {
		topic := TopicName(q)
		if _, ok := b.inbox[topic]; ok {
			continue
		}
		b.topics = append(b.topics, topic)
		b.inbox[topic] = make(chan string)
	}
	return b
}

func isUnavailable(err error) bool {
	return errors.Is(err, sarama.ErrOutOfBrokers) ||
		errors.Is(err, sarama.ErrNotConnected) ||
		errors.Is(err, sarama.ErrClosedClient) ||
		errors.Is(err, sarama.ErrShuttingDown)
}

func wrap(op, name string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s %s: %w: %v", op, name, queue.ErrUnavailable, err)
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}

// Push implements queue.Broker. The task ID is both key and value.
func (b *Broker) Push(_ context.Context, name, taskID string) error {
	select {
	case <-b.closed:
		return queue.ErrClosed
	default:
	}

	msg := &sarama.ProducerMessage{
		Topic: TopicName(name),
		Key:   sarama.StringEncoder(taskID),
		Value: sarama.StringEncoder(taskID),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return wrap("push", name, err)
	}
	return nil
}

// Pop implements queue.Broker. The first Pop joins the consumer group.
func (b *Broker) Pop(ctx context.Context, name string, timeout time.Duration) (string, error) {
	inbox, ok := b.inbox[TopicName(name)]
	if !ok {
		return "", fmt.Errorf("pop %s: queue not consumed by this broker", name)
	}
	if err := b.startConsuming(); err != nil {
		return "", err
	}
	if err := b.lastConsumeErr(); err != nil {
		return "", wrap("pop", name, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-inbox:
		return id, nil
	case <-timer.C:
		return "", queue.ErrEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.closed:
		return "", queue.ErrClosed
	}
}

func (b *Broker) startConsuming() error {
	b.startOnce.Do(func() {
		group, err := b.newGroup()
		if err != nil {
			b.startErr = wrap("join group", strings.Join(b.topics, ","), err)
			close(b.done)
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		b.group = group
		b.cancel = cancel
		go b.consume(ctx)
	})
	return b.startErr
}

func (b *Broker) consume(ctx context.Context) {
	defer close(b.done)
	handler := &groupHandler{broker: b}

	for {
		err := b.group.Consume(ctx, b.topics, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.setConsumeErr(err)
			b.logger.Warn("kafka consume failed, retrying", slog.Any("error", err))
			select {
			case <-time.After(consumeRetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Broker) setConsumeErr(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	b.consumeErr = err
}

func (b *Broker) lastConsumeErr() error {
	b.errMu.RLock()
	defer b.errMu.RUnlock()
	return b.consumeErr
}

// Ping implements queue.Broker by refreshing cluster metadata.
func (b *Broker) Ping(_ context.Context) error {
	if err := b.ping(); err != nil {
		return fmt.Errorf("ping kafka: %w: %v", queue.ErrUnavailable, err)
	}
	return nil
}

// Close leaves the consumer group and closes the producer and client.
func (b *Broker) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		close(b.closed)
		// Prevent a later Pop from joining the group.
		b.startOnce.Do(func() { close(b.done) })
		if b.cancel != nil {
			b.cancel()
		}
		<-b.done
		if b.group != nil {
			errs = append(errs, b.group.Close())
		}
		errs = append(errs, b.producer.Close(), b.closeFn())
	})
	return errors.Join(errs...)
}

// groupHandler hands claimed messages to waiting Pops.
type groupHandler struct {
	broker *Broker
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.broker.setConsumeErr(nil)
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks a message only after a Pop has taken it, so messages
// not handed out before a rebalance are redelivered to the next owner.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	inbox := h.broker.inbox[claim.Topic()]
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case inbox <- string(msg.Value):
				sess.MarkMessage(msg, "")
			case <-sess.Context().Done():
				return nil
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}
