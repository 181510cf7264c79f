package cardano

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SqliteJournal struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Journal = &SqliteJournal{}

func NewSqliteJournal(path string) (journal *SqliteJournal, err error) {
	Log().Info().Msgf("opening sqlite journal at: '%s'", path)

	sqldb, err := sql.Open("sqlite3", path)
	if err != nil {
		err = errors.Wrap(err, "failed to open database")
		return
	}

	if err = sqldb.Ping(); err != nil {
		_ = sqldb.Close()
		err = errors.Wrap(err, "failed to ping database")
		return
	}

	journal = &SqliteJournal{db: sqldb}
	if err = journal.initTables(); err != nil {
		_ = sqldb.Close()
		journal = nil
		err = errors.Wrap(err, "failed to init tables")
		return
	}

	return
}

func (s *SqliteJournal) initTables() (err error) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS submission (
			txid TEXT PRIMARY KEY,
			status INTEGER NOT NULL,
			reasons TEXT,
			endpoint TEXT,
			submitted_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submission_time ON submission(submitted_at)`,
	}

	for i, query := range queries {
		if _, err = s.db.Exec(query); err != nil {
			err = errors.Wrapf(err, "failed to execute query: %d", i)
			return
		}
	}

	return
}

func (s *SqliteJournal) Record(ctx context.Context, record *SubmissionRecord) (err error) {
	reasons, err := json.Marshal(record.Reasons)
	if err != nil {
		return errors.WithStack(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submission (txid, status, reasons, endpoint, submitted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(txid) DO UPDATE SET
			status = excluded.status,
			reasons = excluded.reasons,
			endpoint = excluded.endpoint,
			submitted_at = excluded.submitted_at`,
		record.TxId.String(),
		int(record.Status),
		string(reasons),
		record.Endpoint,
		record.SubmittedAt.UnixNano())

	return errors.WithStack(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (record *SubmissionRecord, err error) {
	var (
		txid      string
		status    int
		reasons   sql.NullString
		endpoint  sql.NullString
		timestamp int64
	)
	if err = row.Scan(&txid, &status, &reasons, &endpoint, &timestamp); err != nil {
		return
	}

	record = &SubmissionRecord{
		Status:      SubmitStatus(status),
		Endpoint:    endpoint.String,
		SubmittedAt: time.Unix(0, timestamp).UTC(),
	}
	if record.TxId, err = ParseHash32(txid); err != nil {
		return nil, err
	}
	if reasons.Valid && reasons.String != "" && reasons.String != "null" {
		if err = json.Unmarshal([]byte(reasons.String), &record.Reasons); err != nil {
			return nil, errors.Wrap(err, "failed to decode reasons")
		}
	}
	return
}

func (s *SqliteJournal) Get(ctx context.Context, id TxId) (record *SubmissionRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT txid, status, reasons, endpoint, submitted_at FROM submission WHERE txid = ?",
		id.String())

	record, err = scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = errors.Wrapf(ErrSubmissionNotFound, "no submission of %s", id)
		return
	}
	err = errors.WithStack(err)
	return
}

func (s *SqliteJournal) Recent(ctx context.Context, limit int) (records []*SubmissionRecord, err error) {
	if limit <= 0 {
		limit = -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT txid, status, reasons, endpoint, submitted_at
		FROM submission
		ORDER BY submitted_at DESC
		LIMIT ?`,
		limit)
	if err != nil {
		err = errors.Wrap(err, "failed to query submissions")
		return
	}
	defer rows.Close()

	for rows.Next() {
		record, err2 := scanSubmission(rows)
		if err2 != nil {
			err = errors.Wrap(err2, "failed to scan row")
			return
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		err = errors.Wrap(err, "error during row iteration")
		return
	}

	return
}

func (s *SqliteJournal) Close() error {
	return errors.WithStack(s.db.Close())
}
