package sink

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/model"
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const defaultNATSSubject = "deeptrace.flows"

func init() {
	Register("nats", NewNATSSink)
}

// NATSSink is responsible for publishing flow records to a NATS subject.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	log     logrus.FieldLogger
}

// NewNATSSink creates a new NATS publisher.
func NewNATSSink(cfg config.SinkConfig, log logrus.FieldLogger) (model.Sink, error) {
	url := cfg.Addr
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Topic
	if subject == "" {
		subject = defaultNATSSubject
	}

	nc, err := nats.Connect(url, nats.Name("deeptrace-sniffer"), nats.Timeout(dialTimeout(cfg)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	log.Infof("Connected to NATS server at %s", url)
	return &NATSSink{nc: nc, subject: subject, log: log}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Write publishes every record and waits for the server to acknowledge the batch.
func (s *NATSSink) Write(ctx context.Context, flows []model.ExportedFlow) error {
	flows = deliverable(flows)
	if len(flows) == 0 {
		return nil
	}

	var firstErr error
	for _, f := range flows {
		if err := s.nc.Publish(s.subject, f.Payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		if _, ok := ctx.Deadline(); ok {
			firstErr = s.nc.FlushWithContext(ctx)
		} else {
			firstErr = s.nc.Flush()
		}
	}
	if firstErr != nil {
		return &DeliveryError{Sink: s.Name(), Err: firstErr}
	}
	return nil
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	s.log.Info("NATS connection drained and closed.")
	return err
}
