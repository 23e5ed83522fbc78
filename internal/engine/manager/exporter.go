package manager

import (
	"DeepTrace/internal/metrics"
	"DeepTrace/internal/model"
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultWriteTimeout = 5 * time.Second

// Exporter hands exported flows to every sink. A failing sink never keeps the others
// from receiving the batch.
type Exporter struct {
	sinks        []model.Sink
	writeTimeout time.Duration
	log          logrus.FieldLogger
}

// NewExporter creates an exporter over the given sinks.
func NewExporter(sinks []model.Sink, writeTimeout time.Duration, log logrus.FieldLogger) *Exporter {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Exporter{sinks: sinks, writeTimeout: writeTimeout, log: log}
}

// Export logs and delivers one batch. It returns the number of sinks that failed.
func (e *Exporter) Export(flows []model.ExportedFlow) int {
	if len(flows) == 0 {
		return 0
	}

	ok := 0
	for i := range flows {
		f := &flows[i]
		entry := e.log.WithFields(logrus.Fields{
			"flow":   f.FiveTuple.String(),
			"reason": f.Reason,
		})
		if f.Err != nil {
			entry.WithError(f.Err).Warn("Failed to encode flow record")
			continue
		}
		ok++
		entry.WithField("packets", f.Record.TotalFwdPackets).Debug("Exporting flow")
	}
	if ok == 0 {
		return 0
	}

	failed := 0
	for _, s := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
		err := s.Write(ctx, flows)
		cancel()
		if err != nil {
			failed++
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			e.log.WithError(err).WithField("sink", s.Name()).Errorf("Failed to deliver %d flows", ok)
			continue
		}
		metrics.SinkRecords.WithLabelValues(s.Name()).Add(float64(ok))
	}
	return failed
}
