package serializer

import (
	"DeepTrace/internal/model"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

func init() {
	Register("json", func() Encoder { return &JSONEncoder{} })
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONEncoder writes a record as a JSON object with keys in schema order.
type JSONEncoder struct{}

// Name returns "json".
func (e *JSONEncoder) Name() string {
	return "json"
}

// Encode marshals the record. Non-finite feature values are rejected.
func (e *JSONEncoder) Encode(rec *model.FeatureRecord) ([]byte, error) {
	data, err := jsonAPI.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %s:%d->%s: %w", rec.SrcIP, rec.SrcPort, rec.DstIP, err)
	}
	return data, nil
}

// Decode parses a JSON record produced by JSONEncoder.
func Decode(data []byte) (*model.FeatureRecord, error) {
	var rec model.FeatureRecord
	if err := jsonAPI.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}
