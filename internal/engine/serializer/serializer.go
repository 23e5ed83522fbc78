// Package serializer encodes exported feature records into their wire formats.
package serializer

import (
	"DeepTrace/internal/model"
	"fmt"
	"sort"
	"sync"
)

// Encoder turns a feature record into bytes ready for a sink.
type Encoder interface {
	Name() string
	Encode(rec *model.FeatureRecord) ([]byte, error)
}

// EncoderFactory builds a new encoder instance.
type EncoderFactory func() Encoder

var (
	registry = make(map[string]EncoderFactory)
	lock     sync.RWMutex
)

// Register makes an encoder available under name.
func Register(name string, factory EncoderFactory) {
	lock.Lock()
	defer lock.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("encoder '%s' already registered", name))
	}
	registry[name] = factory
}

// New returns the encoder registered under format.
func New(format string) (Encoder, error) {
	lock.RLock()
	factory, ok := registry[format]
	lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown record format: '%s'", format)
	}
	return factory(), nil
}

// Formats lists the registered format names.
func Formats() []string {
	lock.RLock()
	defer lock.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
