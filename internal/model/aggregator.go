package model

// Aggregator defines the flow table contract shared by the exporter and the API.
type Aggregator interface {
	// Ingest folds a single packet event into its flow.
	Ingest(ev *PacketEvent) error

	// Sweep removes every flow idle for longer than ttlUS at nowUS and returns it serialized.
	Sweep(nowUS, ttlUS int64) []ExportedFlow

	// Flush removes every remaining flow regardless of age.
	Flush() []ExportedFlow

	// Snapshot returns copies of up to limit live records (limit <= 0 means all).
	Snapshot(limit int) []FeatureRecord

	// Len returns the number of live flows.
	Len() int
}
