package sink

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/model"
	"context"
	"errors"

	sarama "github.com/Shopify/sarama"
	"github.com/sirupsen/logrus"
)

const (
	defaultKafkaTopic   = "deeptrace-flows"
	defaultKafkaVersion = "2.8.0"
)

func init() {
	Register("kafka", NewKafkaSink)
}

// KafkaSink produces one message per record, keyed by the flow's 5-tuple so both
// records of a long-lived connection land on the same partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	log      logrus.FieldLogger
}

// NewKafkaSink creates a synchronous producer against the configured brokers.
func NewKafkaSink(cfg config.SinkConfig, log logrus.FieldLogger) (model.Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}

	version, err := sarama.ParseKafkaVersion(defaultKafkaVersion)
	if err != nil {
		return nil, err
	}
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = version
	kafkaConfig.ClientID = "deeptrace-sniffer"
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	kafkaConfig.Net.DialTimeout = dialTimeout(cfg)

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to Kafka brokers %v", cfg.Brokers)
	return newKafkaSink(producer, cfg.Topic, log), nil
}

func newKafkaSink(producer sarama.SyncProducer, topic string, log logrus.FieldLogger) *KafkaSink {
	if topic == "" {
		topic = defaultKafkaTopic
	}
	return &KafkaSink{producer: producer, topic: topic, log: log}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(_ context.Context, flows []model.ExportedFlow) error {
	flows = deliverable(flows)
	if len(flows) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, len(flows))
	for i, f := range flows {
		msgs[i] = &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.ByteEncoder(f.FiveTuple.Key()),
			Value: sarama.ByteEncoder(f.Payload),
		}
	}
	if err := s.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			s.log.Warnf("%d of %d kafka messages failed", len(perrs), len(msgs))
			err = perrs[0].Err
		}
		return &DeliveryError{Sink: s.Name(), Err: err}
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
