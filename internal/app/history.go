package app

import (
	"context"
	"time"

	"jobhost/internal/eventbus"
	"jobhost/internal/storage"
	"jobhost/internal/task/engine"
	logx "jobhost/pkg/logx"
)

const (
	historyWriteTimeout = 2 * time.Second
	historyPruneEvery   = time.Hour
)

// persistHistory writes every finished execution to the store until ctx
// ends. Write failures are logged and the record is dropped.
func persistHistory(ctx context.Context, bus eventbus.Bus, st storage.Store, log logx.Logger) error {
	events, unsub := bus.Subscribe(256)
	defer unsub()

	write := func(e eventbus.Event) {
		rec, ok := executionRecord(e)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
		err := st.AppendExecution(wctx, rec)
		cancel()
		if err != nil {
			log.Warn("history write failed",
				logx.String("fire_id", rec.FireID),
				logx.String("job", rec.JobGroup+"."+rec.JobName),
				logx.Err(err),
			)
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Flush what was published before shutdown.
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return nil
					}
					write(e)
				default:
					return nil
				}
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			write(e)
		}
	}
}

// pruneHistory soft-deletes records older than retention once at start and
// then every historyPruneEvery until ctx ends.
func pruneHistory(ctx context.Context, st storage.Store, retention time.Duration, log logx.Logger) {
	t := time.NewTicker(historyPruneEvery)
	defer t.Stop()
	for {
		pruneOnce(ctx, st, time.Now().Add(-retention), log)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func pruneOnce(ctx context.Context, st storage.Store, before time.Time, log logx.Logger) int64 {
	n, err := st.SoftDeleteExecutions(ctx, before)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("history prune failed", logx.Err(err))
		}
		return 0
	}
	if n > 0 {
		log.Info("history pruned", logx.Int64("records", n), logx.Time("before", before))
	}
	return n
}

func executionRecord(e eventbus.Event) (storage.ExecutionRecord, bool) {
	if e.Type != eventbus.JobFinished && e.Type != eventbus.JobFailed {
		return storage.ExecutionRecord{}, false
	}
	ev, ok := e.Data.(engine.ExecutionEvent)
	if !ok {
		return storage.ExecutionRecord{}, false
	}
	return storage.ExecutionRecord{
		FireID:       ev.FireID,
		JobName:      ev.Job.Name,
		JobGroup:     ev.Job.Group,
		TriggerName:  ev.Trigger.Name,
		TriggerGroup: ev.Trigger.Group,
		Manual:       ev.Manual,
		Scheduled:    ev.Scheduled,
		Started:      ev.Started,
		Finished:     ev.Started.Add(ev.Duration),
		Duration:     ev.Duration,
		Attempts:     ev.Attempts,
		Success:      e.Type == eventbus.JobFinished,
		Error:        ev.Error,
	}, true
}
