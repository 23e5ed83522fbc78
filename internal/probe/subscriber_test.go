package probe

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/engine/serializer"
	"DeepTrace/internal/model"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderFor(t *testing.T) {
	rec := &model.FeatureRecord{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1234, DestinationPort: 80, TotalFwdPackets: 3}

	for _, format := range []string{"json", "protobuf"} {
		t.Run(format, func(t *testing.T) {
			enc, err := serializer.New(format)
			require.NoError(t, err)
			data, err := enc.Encode(rec)
			require.NoError(t, err)

			decode, err := DecoderFor(format)
			require.NoError(t, err)
			got, err := decode(data)
			require.NoError(t, err)
			assert.Equal(t, rec, got)
		})
	}

	_, err := DecoderFor("xml")
	assert.Error(t, err)
}

func TestNewSubscriber_UnsupportedSink(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewSubscriber(config.SinkConfig{Type: "kafka"}, "json", logger)
	assert.Error(t, err)
	_, err = NewSubscriber(config.SinkConfig{Type: "redis"}, "yaml", logger)
	assert.Error(t, err)
}

func TestSubscriber_Handle(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := &Subscriber{decode: serializer.Decode, log: logger}

	var got []*model.FeatureRecord
	handler := func(rec *model.FeatureRecord) { got = append(got, rec) }

	s.handle([]byte(`{"src_ip":"10.0.0.1","Total Fwd Packets":2}`), handler)
	s.handle([]byte(`not json`), handler)

	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.1", got[0].SrcIP)
	assert.Equal(t, uint64(2), got[0].TotalFwdPackets)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Error decoding flow record", hook.LastEntry().Message)
}
