package realtime

import (
	"encoding/json"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const exportQueueSize = 1024

// NewKafkaProducer creates a sync producer keyed by session id, so events of
// one session land on one partition in publish order.
func NewKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_0_0_0
	config.ClientID = clientID
	config.Producer.MaxMessageBytes = 1000000

	return sarama.NewSyncProducer(brokers, config)
}

// KafkaExporter implements Exporter by producing every envelope to a topic.
// Export never blocks the publisher: envelopes are queued and produced by one
// goroutine; when the queue is full the envelope is dropped and logged.
type KafkaExporter struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	queue    chan Envelope
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
}

// NewKafkaExporter starts the export loop. Call Close to flush and stop it.
func NewKafkaExporter(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &KafkaExporter{
		producer: producer,
		topic:    topic,
		logger:   logger,
		queue:    make(chan Envelope, exportQueueSize),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

// Export implements Exporter.
func (e *KafkaExporter) Export(env Envelope) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- env:
	default:
		e.logger.Warn("kafka export queue full, event dropped", zap.String("event", env.Event), zap.String("session_id", env.SessionID.String()))
	}
}

func (e *KafkaExporter) run() {
	defer close(e.done)
	for env := range e.queue {
		body, err := json.Marshal(env)
		if err != nil {
			e.logger.Error("marshal export envelope", zap.Error(err))
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: e.topic,
			Key:   sarama.StringEncoder(env.SessionID.String()),
			Value: sarama.ByteEncoder(body),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event"), Value: []byte(env.Event)},
			},
		}
		if _, _, err := e.producer.SendMessage(msg); err != nil {
			e.logger.Warn("kafka export failed", zap.String("event", env.Event), zap.Error(err))
		}
	}
}

// Close drains queued envelopes and closes the producer.
func (e *KafkaExporter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.done
	return e.producer.Close()
}
