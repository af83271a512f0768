package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "jobhost/pkg/logx"
)

var base = time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

func record(i int) ExecutionRecord {
	at := base.Add(time.Duration(i) * time.Minute)
	r := ExecutionRecord{
		FireID:       fmt.Sprintf("fire-%d", i),
		JobName:      "ExampleJob",
		JobGroup:     "ExampleJob",
		TriggerName:  "ExampleJob_trigger",
		TriggerGroup: "ExampleJob",
		Scheduled:    at,
		Started:      at,
		Finished:     at.Add(time.Second),
		Duration:     time.Second,
		Attempts:     1,
		Success:      i%2 == 0,
	}
	if !r.Success {
		r.Error = "boom"
	}
	return r
}

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver, "history.db")}, logx.Nop())
		require.NoError(t, err, driver)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendExecution(ctx, record(i)))
			}
			got, err := st.RecentExecutions(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "fire-4", got[0].FireID)
			assert.Equal(t, "fire-2", got[2].FireID)
			assert.True(t, got[0].Success)
			assert.Equal(t, "boom", got[1].Error)
			assert.True(t, got[0].Finished.Equal(record(4).Finished))
			assert.Equal(t, time.Second, got[0].Duration)

			all, err := st.RecentExecutions(ctx, 100)
			require.NoError(t, err)
			assert.Len(t, all, 5)
		})
	}
}

func TestSoftDeleteHidesOldRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for driver, st := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				require.NoError(t, st.AppendExecution(ctx, record(i)))
			}
			// Records 0 and 1 finished before this cutoff.
			n, err := st.SoftDeleteExecutions(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			got, err := st.RecentExecutions(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "fire-3", got[0].FireID)
			assert.Equal(t, "fire-2", got[1].FireID)

			n, err = st.SoftDeleteExecutions(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestSQLiteIgnoresDuplicateFireID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "h.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AppendExecution(ctx, record(1)))
	require.NoError(t, st.AppendExecution(ctx, record(1)))
	got, err := st.RecentExecutions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
