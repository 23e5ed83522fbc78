package model

import "context"

// Eviction reasons attached to exported flows.
const (
	ReasonIdle     = "idle"
	ReasonOverflow = "overflow"
	ReasonShutdown = "shutdown"
)

// ExportedFlow is a flow removed from the table together with its serialized form.
// Err is set when the record could not be encoded; Payload is nil in that case.
type ExportedFlow struct {
	FiveTuple FiveTuple
	Reason    string
	Record    FeatureRecord
	Payload   []byte
	Err       error
}

// Sink defines a destination for exported flow records.
type Sink interface {
	// Name returns the configured sink type, used in logs and metrics.
	Name() string

	// Write delivers a batch of exported flows. Implementations should try every
	// flow in the batch and report the first failure.
	Write(ctx context.Context, flows []ExportedFlow) error

	// Close flushes pending data and releases connections.
	Close() error
}
