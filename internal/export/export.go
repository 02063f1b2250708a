// Package export pushes sample states into an external Postgres/Timescale
// database for lab-wide dashboards.
package export

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/cyclab/aurora/internal/models"
)

// Sink writes sample states into a Postgres table.
type Sink struct {
	db    *sql.DB
	table string
}

// Open connects to the DSN and returns a sink writing into table.
func Open(dsn, table string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open export db: %w", err)
	}
	return NewSink(db, table), nil
}

// NewSink wraps an existing connection, mainly for tests.
func NewSink(db *sql.DB, table string) *Sink {
	return &Sink{db: db, table: table}
}

// Close releases the database connection.
func (s *Sink) Close() error {
	return s.db.Close()
}

// WriteBatch inserts the states in one statement inside a transaction.
// Re-exports are idempotent: the state ID is the conflict key.
func (s *Sink) WriteBatch(states []models.SampleState) error {
	if len(states) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	b.WriteString(" (id, sample_id, job_id, measurements, recorded_at) VALUES ")

	args := make([]any, 0, len(states)*5)
	for i, st := range states {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5))

		measurements, err := json.Marshal(st.Measurements)
		if err != nil {
			return fmt.Errorf("marshal measurements: %w", err)
		}
		args = append(args, st.ID, st.SampleID, st.JobID, measurements, st.RecordedAt)
	}
	b.WriteString(" ON CONFLICT (id) DO NOTHING")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin export tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(b.String(), args...); err != nil {
		return fmt.Errorf("insert states: %w", err)
	}
	return tx.Commit()
}
