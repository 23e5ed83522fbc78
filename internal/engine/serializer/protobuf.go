package serializer

import (
	"DeepTrace/internal/model"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	Register("protobuf", func() Encoder { return &ProtobufEncoder{} })
}

// ProtobufEncoder writes a record as a binary google.protobuf.Struct keyed by the schema names.
type ProtobufEncoder struct{}

// Name returns "protobuf".
func (e *ProtobufEncoder) Name() string {
	return "protobuf"
}

// Encode converts the record to a Struct and marshals it.
func (e *ProtobufEncoder) Encode(rec *model.FeatureRecord) ([]byte, error) {
	msg, err := ToStruct(rec)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protobuf record: %w", err)
	}
	return data, nil
}

// ToStruct maps every schema field onto a Struct value.
func ToStruct(rec *model.FeatureRecord) (*structpb.Struct, error) {
	values := rec.Values()
	fields := make(map[string]*structpb.Value, len(values))
	for i, name := range model.FieldNames {
		switch v := values[i].(type) {
		case float64:
			fields[name] = structpb.NewNumberValue(v)
		case uint64:
			fields[name] = structpb.NewNumberValue(float64(v))
		case uint32:
			fields[name] = structpb.NewNumberValue(float64(v))
		case uint16:
			fields[name] = structpb.NewNumberValue(float64(v))
		case uint8:
			fields[name] = structpb.NewNumberValue(float64(v))
		case int64:
			fields[name] = structpb.NewNumberValue(float64(v))
		case string:
			fields[name] = structpb.NewStringValue(v)
		default:
			return nil, fmt.Errorf("unsupported type %T for field '%s'", v, name)
		}
	}
	return &structpb.Struct{Fields: fields}, nil
}

// DecodeProtobuf parses a record produced by ProtobufEncoder.
func DecodeProtobuf(data []byte) (*model.FeatureRecord, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf record: %w", err)
	}
	// Round trip through JSON so numbers land in their integer fields.
	asJSON, err := jsonAPI.Marshal(msg.AsMap())
	if err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return Decode(asJSON)
}
