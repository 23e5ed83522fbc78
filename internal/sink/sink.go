// Package sink delivers exported flow records to external systems.
package sink

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/model"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownSink is returned when no factory is registered for a sink type.
	ErrUnknownSink = errors.New("unknown sink type")
	// ErrDelivery tags every error returned from a sink's Write.
	ErrDelivery = errors.New("sink delivery error")
)

// DeliveryError wraps a driver-specific error with its sink name.
type DeliveryError struct {
	Sink string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s for %s sink", e.Err.Error(), e.Sink)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}

// Factory builds a sink from its configuration.
type Factory func(cfg config.SinkConfig, log logrus.FieldLogger) (model.Sink, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register registers a new sink type with its factory function.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	registry[name] = factory
}

// Types returns the registered sink types in sorted order.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// New creates a single sink.
func New(cfg config.SinkConfig, log logrus.FieldLogger) (model.Sink, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownSink, cfg.Type)
	}

	s, err := factory(cfg, log.WithField("sink", cfg.Type))
	if err != nil {
		return nil, fmt.Errorf("error creating sink '%s': %w", cfg.Type, err)
	}
	return s, nil
}

// NewAll creates every configured sink. Sinks created before a failure are closed.
func NewAll(cfgs []config.SinkConfig, log logrus.FieldLogger) ([]model.Sink, error) {
	sinks := make([]model.Sink, 0, len(cfgs))
	for _, cfg := range cfgs {
		log.Infof("Creating sink of type: '%s'", cfg.Type)
		s, err := New(cfg, log)
		if err != nil {
			CloseAll(sinks, log)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// CloseAll closes every sink, logging failures.
func CloseAll(sinks []model.Sink, log logrus.FieldLogger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.WithError(err).WithField("sink", s.Name()).Warn("Failed to close sink")
		}
	}
}

// deliverable filters out flows whose record could not be encoded.
func deliverable(flows []model.ExportedFlow) []model.ExportedFlow {
	out := flows[:0:0]
	for _, f := range flows {
		if f.Err == nil && f.Payload != nil {
			out = append(out, f)
		}
	}
	return out
}
