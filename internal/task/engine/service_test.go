package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

func newExec(name string, fn func(ctx context.Context, ec *job.ExecutionContext) error) *job.ExecutionContext {
	j := job.Func{Desc: job.Descriptor{Name: name}, Fn: fn}
	d := job.NewDetail(j, nil)
	return &job.ExecutionContext{
		FireID:  name + "-fire",
		Job:     d,
		Trigger: job.Trigger{Key: job.TriggerKeyFor(d.Key), JobKey: d.Key},
	}
}

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx, false)
	})
	return s
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmitRunsAndRecords(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := startEngine(t, Config{Workers: 2}, bus)

	done := make(chan error, 1)
	ec := newExec("hello", func(ctx context.Context, ec *job.ExecutionContext) error {
		ec.SetValue(42)
		return nil
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: ec, OnDone: func(_ *job.ExecutionContext, err error) { done <- err }}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not complete")
	}

	r := ec.Result()
	assert.True(t, r.Done)
	assert.True(t, r.Success)
	assert.Equal(t, 42, r.Value)
	assert.False(t, ec.FireTime.IsZero())

	require.NoError(t, s.Wait(waitCtx(t)))
	h := s.History(0)
	require.Len(t, h, 1)
	assert.Equal(t, "Default.hello", h[0].Job)
	assert.Equal(t, 1, h[0].Attempts)

	got := []string{(<-events).Type, (<-events).Type}
	assert.Equal(t, []string{eventbus.JobStarted, eventbus.JobFinished}, got)
}

func TestConcurrencyCapAndExactlyOnce(t *testing.T) {
	const workers, fires = 3, 12
	s := startEngine(t, Config{Workers: workers}, nil)

	var running, peak atomic.Int32
	var mu sync.Mutex
	counts := map[string]int{}
	gate := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < fires; i++ {
		name := fmt.Sprintf("job%d", i)
		ec := newExec(name, func(ctx context.Context, ec *job.ExecutionContext) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-gate
			running.Add(-1)
			mu.Lock()
			counts[ec.Job.Key.Name]++
			mu.Unlock()
			return nil
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Submit(context.Background(), Task{Exec: ec}))
		}()
	}

	require.Eventually(t, func() bool { return running.Load() == workers }, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, s.Active(), workers)
	close(gate)
	wg.Wait()
	require.NoError(t, s.Wait(waitCtx(t)))

	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Len(t, counts, fires)
	for name, n := range counts {
		assert.Equal(t, 1, n, name)
	}
	assert.Equal(t, uint64(fires), s.Snapshot().Completed)
}

func TestPanicIsContained(t *testing.T) {
	s := startEngine(t, Config{Workers: 1}, nil)

	errs := make(chan error, 2)
	onDone := func(_ *job.ExecutionContext, err error) { errs <- err }

	bad := newExec("bad", func(context.Context, *job.ExecutionContext) error { panic("kaboom") })
	good := newExec("good", func(context.Context, *job.ExecutionContext) error { return nil })
	require.NoError(t, s.Submit(context.Background(), Task{Exec: bad, OnDone: onDone}))
	require.NoError(t, s.Submit(context.Background(), Task{Exec: good, OnDone: onDone}))

	err := <-errs
	var he *HandlerExecutionError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "bad", he.Job.Name)
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "kaboom", pe.Value)
	assert.False(t, bad.Result().Success)

	assert.NoError(t, <-errs, "worker survives the panic")
	assert.Equal(t, uint64(1), s.Snapshot().Panics)
}

func TestRetryWithBackoff(t *testing.T) {
	s := startEngine(t, Config{Workers: 1, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, nil)

	var calls atomic.Int32
	ec := newExec("flaky", func(context.Context, *job.ExecutionContext) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: ec, Opt: TaskOptions{RetryMax: 2}}))
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.True(t, ec.Result().Success)
	assert.Equal(t, 3, ec.Result().Attempts)

	calls.Store(0)
	permanent := newExec("permanent", func(context.Context, *job.ExecutionContext) error {
		calls.Add(1)
		return NoRetry(errors.New("bad input"))
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: permanent, Opt: TaskOptions{RetryMax: 5}}))
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, permanent.Result().Error, "bad input")
}

func TestNoRetriesByDefault(t *testing.T) {
	s := startEngine(t, Config{Workers: 1}, nil)
	var calls atomic.Int32
	ec := newExec("once", func(context.Context, *job.ExecutionContext) error {
		calls.Add(1)
		return errors.New("nope")
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: ec}))
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), s.Snapshot().Failed)
}

func TestStopWaitsForRunningJobs(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	require.NoError(t, s.Start(context.Background()))

	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool
	ec := newExec("slow", func(context.Context, *job.ExecutionContext) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: ec}))
	<-started

	stopCtx := waitCtx(t)
	stopped := make(chan struct{})
	go func() {
		s.Stop(stopCtx, true)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped
	assert.True(t, finished.Load())

	err := s.Submit(context.Background(), Task{Exec: newExec("late", nil)})
	assert.True(t, errors.Is(err, ErrStopped) || errors.Is(err, ErrStopping), "got %v", err)
}

func TestStopWithoutWaitCancelsHandlers(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	require.NoError(t, s.Start(context.Background()))

	started := make(chan struct{})
	canceled := make(chan struct{})
	ec := newExec("blocking", func(ctx context.Context, _ *job.ExecutionContext) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: ec}))
	<-started

	s.Stop(context.Background(), false)
	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("handler context was not canceled")
	}
}

func TestInvalidFireIsDiscarded(t *testing.T) {
	s := startEngine(t, Config{Workers: 1}, nil)
	var ran atomic.Bool
	done := make(chan error, 1)
	ec := newExec("gone", func(context.Context, *job.ExecutionContext) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, s.Submit(context.Background(), Task{
		Exec:   ec,
		Valid:  func() bool { return false },
		OnDone: func(_ *job.ExecutionContext, err error) { done <- err },
	}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDiscarded)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDone not called for discarded fire")
	}
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.False(t, ran.Load())
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Discarded)
	assert.Zero(t, snap.Completed)
	assert.Empty(t, s.History(0))
}

func TestHandlerFailureLoggedAtErrorLevel(t *testing.T) {
	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	w := zerolog.SyncWriter(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	}))
	s := New(Config{Workers: 1}, logx.FromZerolog(zerolog.New(w)), nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background(), false) })

	done := make(chan struct{})
	ec := newExec("broken", func(context.Context, *job.ExecutionContext) error {
		return errors.New("boom")
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: ec, OnDone: func(*job.ExecutionContext, error) { close(done) }}))
	<-done

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	var line string
	for _, l := range strings.Split(out, "\n") {
		if strings.Contains(l, `"message":"job failed"`) {
			line = l
		}
	}
	require.NotEmpty(t, line, out)
	assert.Contains(t, line, `"level":"error"`)
	assert.Contains(t, line, `"job":"broken"`)
	assert.Contains(t, line, `"trigger":"Default.broken_trigger"`)
	assert.Contains(t, line, "boom")
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestStopAbandonsQueuedTasks(t *testing.T) {
	s := New(Config{Workers: 1, QueueSize: 2}, logx.Nop(), nil)
	require.NoError(t, s.Start(context.Background()))

	started := make(chan struct{})
	first := newExec("first", func(ctx context.Context, _ *job.ExecutionContext) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: first}))
	<-started

	var ran atomic.Int32
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		ec := newExec(fmt.Sprintf("queued-%d", i), func(context.Context, *job.ExecutionContext) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, s.Submit(context.Background(), Task{
			Exec:   ec,
			OnDone: func(_ *job.ExecutionContext, err error) { results <- err },
		}))
	}

	s.Stop(context.Background(), false)
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrStopped)
		case <-time.After(5 * time.Second):
			t.Fatal("OnDone not called for queued task")
		}
	}
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Zero(t, ran.Load())
	assert.Equal(t, uint64(2), s.Snapshot().Abandoned)
}

func TestStartFailsWhilePreviousStopRuns(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	require.NoError(t, s.Start(context.Background()))

	started := make(chan struct{})
	release := make(chan struct{})
	ec := newExec("stubborn", func(context.Context, *job.ExecutionContext) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, s.Submit(context.Background(), Task{Exec: ec}))
	<-started
	s.Stop(context.Background(), false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Start(ctx), context.DeadlineExceeded)
	assert.False(t, s.Running())

	close(release)
	require.NoError(t, s.Start(waitCtx(t)))
	assert.True(t, s.Running())
	s.Stop(context.Background(), false)
}

func TestSubmitRejectsEmptyTask(t *testing.T) {
	s := startEngine(t, Config{}, nil)
	assert.ErrorIs(t, s.Submit(context.Background(), Task{}), ErrNoJob)
	assert.Equal(t, 10, s.Config().Workers)
}

func TestBackoffDelayBounds(t *testing.T) {
	opt := TaskOptions{}.withDefaults(Config{})
	d1 := backoffDelay(opt, 1, nil)
	d3 := backoffDelay(opt, 3, nil)
	assert.Equal(t, 500*time.Millisecond, d1)
	assert.Equal(t, 2*time.Second, d3)
	assert.Equal(t, 15*time.Second, backoffDelay(opt, 20, nil))

	hinted := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("429"), time.Minute), nil)
	assert.Equal(t, 15*time.Second, hinted)
}
