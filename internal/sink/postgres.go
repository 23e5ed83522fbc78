package sink

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/engine/serializer"
	"DeepTrace/internal/model"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const defaultPostgresTable = "flow_records"

const createPostgresTable = `
CREATE TABLE IF NOT EXISTS %s (
	id          bigserial PRIMARY KEY,
	exported_at timestamptz NOT NULL DEFAULT now(),
	reason      text NOT NULL,
	src_ip      inet NOT NULL,
	dst_ip      inet NOT NULL,
	src_port    integer NOT NULL,
	dst_port    integer NOT NULL,
	protocol    smallint NOT NULL,
	record      jsonb NOT NULL
)`

func init() {
	Register("postgres", NewPostgresSink)
}

// PostgresSink stores each record as JSON alongside its 5-tuple.
type PostgresSink struct {
	db     *sql.DB
	insert string
	enc    serializer.Encoder
	log    logrus.FieldLogger
}

// NewPostgresSink opens the database and ensures the table exists.
func NewPostgresSink(cfg config.SinkConfig, log logrus.FieldLogger) (model.Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres sink requires a dsn")
	}
	table := cfg.Table
	if table == "" {
		table = defaultPostgresTable
	}
	quoted := pq.QuoteIdentifier(table)

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout(cfg))
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(createPostgresTable, quoted)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	enc, err := serializer.New("json")
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("Connected to PostgreSQL, writing to table %s", quoted)
	return &PostgresSink{db: db, insert: postgresInsert(quoted), enc: enc, log: log}, nil
}

func postgresInsert(quotedTable string) string {
	return "INSERT INTO " + quotedTable +
		" (reason, src_ip, dst_ip, src_port, dst_port, protocol, record) VALUES ($1, $2, $3, $4, $5, $6, $7)"
}

func (s *PostgresSink) Name() string { return "postgres" }

// Write inserts the batch in a single transaction.
func (s *PostgresSink) Write(ctx context.Context, flows []model.ExportedFlow) error {
	flows = deliverable(flows)
	if len(flows) == 0 {
		return nil
	}
	if err := s.write(ctx, flows); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			s.log.WithField("code", pqErr.Code).Warn(pqErr.Message)
		}
		return &DeliveryError{Sink: s.Name(), Err: err}
	}
	return nil
}

func (s *PostgresSink) write(ctx context.Context, flows []model.ExportedFlow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range flows {
		f := &flows[i]
		record, err := s.enc.Encode(&f.Record)
		if err != nil {
			return err
		}
		ft := f.FiveTuple
		if _, err := stmt.ExecContext(ctx, f.Reason, ft.SrcIP, ft.DstIP,
			int(ft.SrcPort), int(ft.DstPort), int(ft.Protocol), string(record)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
