package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"jobhost/internal/errors"
	logx "jobhost/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

// sqliteStore never deletes rows; every read filters deleted_at IS NULL.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.InvalidArgumentf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create storage dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendExecution(ctx context.Context, r ExecutionRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(fire_id, job_name, job_group, trigger_name, trigger_group, manual,
		   scheduled_at, started_at, finished_at, duration_ms, attempts, success, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(fire_id) DO NOTHING`,
		r.FireID, r.JobName, r.JobGroup, r.TriggerName, r.TriggerGroup, boolInt(r.Manual),
		r.Scheduled.UnixMilli(), r.Started.UnixMilli(), r.Finished.UnixMilli(), r.Duration.Milliseconds(),
		r.Attempts, boolInt(r.Success), nullStr(r.Error),
	)
	return errors.Wrap(err, "insert execution")
}

func (s *sqliteStore) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT fire_id, job_name, job_group, trigger_name, trigger_group, manual,
		        scheduled_at, started_at, finished_at, duration_ms, attempts, success, err
		   FROM executions
		  WHERE deleted_at IS NULL
		  ORDER BY id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query executions")
	}
	defer rows.Close()

	out := make([]ExecutionRecord, 0, limit)
	for rows.Next() {
		var (
			r                          ExecutionRecord
			manual, success            int
			sched, started, fin, durMS int64
			msg                        sql.NullString
		)
		if err := rows.Scan(&r.FireID, &r.JobName, &r.JobGroup, &r.TriggerName, &r.TriggerGroup, &manual,
			&sched, &started, &fin, &durMS, &r.Attempts, &success, &msg); err != nil {
			return nil, errors.Wrap(err, "scan execution")
		}
		r.Manual = manual != 0
		r.Success = success != 0
		r.Scheduled = time.UnixMilli(sched).UTC()
		r.Started = time.UnixMilli(started).UTC()
		r.Finished = time.UnixMilli(fin).UTC()
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.Error = msg.String
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate executions")
}

func (s *sqliteStore) SoftDeleteExecutions(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET deleted_at = ? WHERE deleted_at IS NULL AND finished_at < ?`,
		s.now().UnixMilli(), before.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "soft delete executions")
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		s.log.Debug("execution history soft-deleted", logx.Int64("rows", n), logx.Time("before", before))
	}
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
