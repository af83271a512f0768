package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"jobhost/internal/errors"
	logx "jobhost/pkg/logx"
)

// fileStore keeps history in plain files.
//
// Files:
//   - <prefix>.executions.jsonl    (append-only JSON Lines)
//   - <prefix>.deleted_before.json (soft-delete watermark, unix millis)
//
// Records that finished before the watermark are treated as deleted.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	execFile      *os.File
	execPath      string
	watermarkPath string
	deletedBefore int64 // unix milli; 0 = none
}

type watermark struct {
	DeletedBefore int64 `json:"deleted_before"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.InvalidArgumentf("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	st := &fileStore{
		log:           log,
		execPath:      prefix + ".executions.jsonl",
		watermarkPath: prefix + ".deleted_before.json",
	}
	if wm, err := loadWatermark(st.watermarkPath); err == nil {
		st.deletedBefore = wm.DeletedBefore
	} else if !os.IsNotExist(err) {
		log.Warn("history watermark unreadable; ignoring", logx.String("path", st.watermarkPath), logx.Err(err))
	}

	f, err := os.OpenFile(st.execPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open history file")
	}
	st.execFile = f
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execFile == nil {
		return nil
	}
	err := s.execFile.Close()
	s.execFile = nil
	return err
}

func (s *fileStore) AppendExecution(_ context.Context, r ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execFile == nil {
		return errors.New("history file closed")
	}
	return json.NewEncoder(s.execFile).Encode(r)
}

func (s *fileStore) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	cut := s.deletedBefore
	s.mu.Unlock()

	f, err := os.Open(s.execPath)
	if err != nil {
		return nil, errors.Wrap(err, "open history file")
	}
	defer f.Close()

	// Keep the last limit live records in a ring.
	ring := make([]ExecutionRecord, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r ExecutionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if cut > 0 && r.Finished.UnixMilli() < cut {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
			continue
		}
		ring[next] = r
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan history file")
	}

	out := make([]ExecutionRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

func (s *fileStore) SoftDeleteExecutions(ctx context.Context, before time.Time) (int64, error) {
	ms := before.UnixMilli()
	s.mu.Lock()
	prev := s.deletedBefore
	s.mu.Unlock()
	if ms <= prev {
		return 0, nil
	}

	n, err := s.countBetween(ctx, prev, ms)
	if err != nil {
		return 0, err
	}
	if err := writeWatermark(s.watermarkPath, watermark{DeletedBefore: ms}); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.deletedBefore = ms
	s.mu.Unlock()
	return n, nil
}

// countBetween counts records finished in [from, to).
func (s *fileStore) countBetween(ctx context.Context, from, to int64) (int64, error) {
	f, err := os.Open(s.execPath)
	if err != nil {
		return 0, errors.Wrap(err, "open history file")
	}
	defer f.Close()
	var n int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var r ExecutionRecord
		if json.Unmarshal(sc.Bytes(), &r) != nil {
			continue
		}
		if ms := r.Finished.UnixMilli(); ms >= from && ms < to {
			n++
		}
	}
	return n, sc.Err()
}

func loadWatermark(path string) (watermark, error) {
	var wm watermark
	b, err := os.ReadFile(path)
	if err != nil {
		return wm, err
	}
	err = json.Unmarshal(b, &wm)
	return wm, err
}

func writeWatermark(path string, wm watermark) error {
	b, err := json.Marshal(wm)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrap(err, "write watermark")
	}
	return errors.Wrap(os.Rename(tmp, path), "commit watermark")
}
