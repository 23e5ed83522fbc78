package probe

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/engine/serializer"
	"DeepTrace/internal/model"
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RecordHandler is a function that processes a received flow record.
type RecordHandler func(rec *model.FeatureRecord)

// Decoder turns a published payload back into a record.
type Decoder func(data []byte) (*model.FeatureRecord, error)

// DecoderFor returns the decoder matching a serialization format.
func DecoderFor(format string) (Decoder, error) {
	switch format {
	case "", "json":
		return serializer.Decode, nil
	case "protobuf":
		return serializer.DecodeProtobuf, nil
	default:
		return nil, fmt.Errorf("unknown format: '%s'", format)
	}
}

// Subscriber listens on a NATS subject or a Redis channel and hands every decoded record
// to a handler.
type Subscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	rdb    *redis.Client
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	topic  string
	decode Decoder
	log    logrus.FieldLogger
}

// NewSubscriber connects to the broker of the given sink definition. Only "nats" and
// "redis" sinks can be subscribed to.
func NewSubscriber(cfg config.SinkConfig, format string, log logrus.FieldLogger) (*Subscriber, error) {
	decode, err := DecoderFor(format)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{decode: decode, log: log, topic: cfg.Topic}

	switch cfg.Type {
	case "nats":
		url := cfg.Addr
		if url == "" {
			url = nats.DefaultURL
		}
		if s.topic == "" {
			s.topic = "deeptrace.flows"
		}
		nc, err := nats.Connect(url)
		if err != nil {
			return nil, err
		}
		log.Infof("Connected to NATS server at %s", url)
		s.nc = nc
	case "redis":
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		if s.topic == "" {
			s.topic = "network_traffic"
		}
		s.rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
		log.Infof("Using Redis server at %s", addr)
	default:
		return nil, fmt.Errorf("cannot subscribe to sink type '%s'", cfg.Type)
	}
	return s, nil
}

// Start subscribes and starts processing messages with the provided handler.
func (s *Subscriber) Start(handler RecordHandler) error {
	if s.nc != nil {
		sub, err := s.nc.Subscribe(s.topic, func(msg *nats.Msg) {
			s.handle(msg.Data, handler)
		})
		if err != nil {
			return err
		}
		s.sub = sub
		s.log.Infof("Subscribed to '%s'. Waiting for messages...", s.topic)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.rdb.Subscribe(ctx, s.topic)
	// Wait for the subscription confirmation so connection errors surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return err
	}
	s.pubsub = pubsub
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for msg := range pubsub.Channel() {
			s.handle([]byte(msg.Payload), handler)
		}
	}()
	s.log.Infof("Subscribed to '%s'. Waiting for messages...", s.topic)
	return nil
}

func (s *Subscriber) handle(data []byte, handler RecordHandler) {
	rec, err := s.decode(data)
	if err != nil {
		s.log.WithError(err).Warn("Error decoding flow record")
		return
	}
	handler(rec)
}

// Close unsubscribes and closes the connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.log.Info("NATS connection closed.")
	}
	if s.pubsub != nil {
		s.pubsub.Close()
		s.cancel()
		<-s.done
	}
	if s.rdb != nil {
		s.rdb.Close()
		s.log.Info("Redis connection closed.")
	}
}
