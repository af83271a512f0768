package storage

import (
	"context"
	"strings"
	"time"

	"jobhost/internal/errors"
	logx "jobhost/pkg/logx"
)

// Store is the execution history API.
type Store interface {
	AppendExecution(ctx context.Context, r ExecutionRecord) error
	// RecentExecutions returns up to limit live records, newest first.
	RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error)
	// SoftDeleteExecutions hides records that finished before the cutoff
	// and reports how many were hidden.
	SoftDeleteExecutions(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when
// storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.InvalidArgumentf("unknown storage driver: %s", driver)
	}
}
