package sink

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/engine/serializer"
	"DeepTrace/internal/model"
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

func init() {
	Register("file", NewFileSink)
}

// FileSink writes one JSON record per line to a file, or to stdout when Path is empty or "-".
type FileSink struct {
	mu   sync.Mutex
	w    *bufio.Writer
	file *os.File
	enc  serializer.Encoder
	log  logrus.FieldLogger
}

// NewFileSink opens the destination in append mode.
func NewFileSink(cfg config.SinkConfig, log logrus.FieldLogger) (model.Sink, error) {
	enc, err := serializer.New("json")
	if err != nil {
		return nil, err
	}

	s := &FileSink{enc: enc, log: log}
	var w io.Writer = os.Stdout
	if cfg.Path != "" && cfg.Path != "-" {
		file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		s.file = file
		w = file
		log.Infof("Writing flow records to %s", cfg.Path)
	}
	s.w = bufio.NewWriter(w)
	return s, nil
}

func (s *FileSink) Name() string { return "file" }

// Write appends every encodable record and flushes once per batch.
func (s *FileSink) Write(_ context.Context, flows []model.ExportedFlow) error {
	flows = deliverable(flows)
	if len(flows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for i := range flows {
		line, err := s.enc.Encode(&flows[i].Record)
		if err == nil {
			if _, err = s.w.Write(line); err == nil {
				err = s.w.WriteByte('\n')
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.w.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return &DeliveryError{Sink: s.Name(), Err: firstErr}
	}
	return nil
}

// Close flushes buffered output and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.file != nil {
		if closeErr := s.file.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
