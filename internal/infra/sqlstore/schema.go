package sqlstore

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// CreateSchema creates the attempt tables for the connection's dialect. It is
// idempotent and shared by the Postgres migration and the SQLite bootstrap.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	schema := schemaSQLite
	if db.Dialect().Name() == dialect.PG {
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// DropSchema removes the attempt tables.
func DropSchema(ctx context.Context, db bun.IDB) error {
	_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS attempt_answers; DROP TABLE IF EXISTS attempts;`)
	return err
}

// The partial unique index is what makes "one in_progress attempt per
// student and quiz" hold under concurrent starts.
const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  quiz_id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  status TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  started_at TIMESTAMP NOT NULL,
  submitted_at TIMESTAMP,
  time_limit_seconds INTEGER,
  final_score REAL,
  scoring_version TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
  ON attempts (student_id, quiz_id) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS attempts_student_quiz ON attempts (student_id, quiz_id);
CREATE INDEX IF NOT EXISTS attempts_status ON attempts (status, started_at);

CREATE TABLE IF NOT EXISTS attempt_answers (
  attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
  question_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  selected_option_ids TEXT,
  text_value TEXT,
  points_awarded REAL,
  is_correct BOOLEAN,
  answered_at TIMESTAMP NOT NULL,
  PRIMARY KEY (attempt_id, question_id)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  quiz_id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  status TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  submitted_at TIMESTAMPTZ,
  time_limit_seconds INTEGER,
  final_score DOUBLE PRECISION,
  scoring_version TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
  ON attempts (student_id, quiz_id) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS attempts_student_quiz ON attempts (student_id, quiz_id);
CREATE INDEX IF NOT EXISTS attempts_status ON attempts (status, started_at);

CREATE TABLE IF NOT EXISTS attempt_answers (
  attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
  question_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  selected_option_ids JSONB,
  text_value TEXT,
  points_awarded DOUBLE PRECISION,
  is_correct BOOLEAN,
  answered_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (attempt_id, question_id)
);
`
