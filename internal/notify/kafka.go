package notify

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"spotex/pkg/retry"
	"spotex/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// messageWriter - подмножество *kafka.Writer, подменяется в тестах
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig - параметры публикации
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BufferSize   int
	WriteTimeout time.Duration
}

// KafkaPublisher публикует события в Kafka из отдельной горутины
//
// Publish только кладёт событие в буфер. Если буфер полон, событие
// отбрасывается и учитывается в Dropped: движок никогда не ждёт брокер.
// Ключ сообщения - символ для публичных событий и owner_id для личных,
// поэтому события одного пользователя попадают в одну партицию по порядку.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	retry   retry.Config
	logger  *utils.Logger

	events  chan Event
	dropped atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewKafkaPublisher создаёт publisher поверх kafka.Writer и запускает воркер
func NewKafkaPublisher(cfg KafkaConfig, logger *utils.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaPublisher(w, cfg, logger)
}

func newKafkaPublisher(w messageWriter, cfg KafkaConfig, logger *utils.Logger) *KafkaPublisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = utils.L()
	}

	p := &KafkaPublisher{
		writer:  w,
		timeout: cfg.WriteTimeout,
		retry:   retry.PublishConfig(),
		logger:  logger.WithComponent("kafka"),
		events:  make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	p.wg.Add(1)
	go p.loop()
	return p
}

// Publish implements Notifier
func (p *KafkaPublisher) Publish(_ context.Context, event Event) {
	select {
	case <-p.done:
		p.dropped.Add(1)
		return
	default:
	}

	select {
	case p.events <- event:
	default:
		p.dropped.Add(1)
		RecordDroppedEvent("kafka")
	}
}

// Dropped возвращает число отброшенных событий
func (p *KafkaPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close дописывает накопленный буфер и закрывает writer
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return p.writer.Close()
}

func (p *KafkaPublisher) loop() {
	defer p.wg.Done()

	for {
		select {
		case ev := <-p.events:
			p.write(ev)
		case <-p.done:
			// дописываем то, что уже в буфере
			for {
				select {
				case ev := <-p.events:
					p.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) write(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode event", utils.Status(string(ev.Type)), utils.Symbol(ev.Symbol))
		return
	}

	msg := kafka.Message{
		Key:   eventKey(ev),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
		Time: ev.Timestamp,
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err = retry.Do(ctx, func() error {
		err := p.writer.WriteMessages(ctx, msg)
		if errors.Is(err, kafka.MessageSizeTooLarge) {
			return retry.Permanent(err)
		}
		return err
	}, p.retry)
	if err != nil {
		p.dropped.Add(1)
		RecordDroppedEvent("kafka")
		p.logger.Warn("failed to publish event",
			utils.Status(string(ev.Type)),
			utils.Symbol(ev.Symbol),
			utils.UserID(ev.OwnerID),
		)
	}
}

func eventKey(ev Event) []byte {
	if ev.OwnerID != 0 {
		return []byte(strconv.FormatInt(ev.OwnerID, 10))
	}
	return []byte(ev.Symbol)
}

var _ Notifier = (*KafkaPublisher)(nil)
