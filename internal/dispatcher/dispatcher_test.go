package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-acquirer/internal/pipeline"
	"github.com/JakeFAU/site-acquirer/internal/site"
	"github.com/JakeFAU/site-acquirer/internal/store"
)

type fakeRunner struct {
	mu         sync.Mutex
	prepareErr error
	release    chan struct{}
	executed   chan string
	aborted    []error
}

func (f *fakeRunner) Prepare(_ context.Context, siteName string) (pipeline.Run, error) {
	if f.prepareErr != nil {
		return pipeline.Run{}, f.prepareErr
	}
	return pipeline.Run{
		Job:  store.Job{ID: uuid.New(), SiteName: siteName, Status: store.JobStarted},
		Site: site.Config{Name: siteName},
	}, nil
}

func (f *fakeRunner) Execute(ctx context.Context, run pipeline.Run) (store.Job, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return run.Job, ctx.Err()
		}
	}
	f.executed <- run.Site.Name
	run.Job.Status = store.JobCompleted
	return run.Job, nil
}

func (f *fakeRunner) Abort(_ context.Context, _ pipeline.Run, reason error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, reason)
	return nil
}

func TestDispatcherExecutesSubmittedRuns(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{executed: make(chan string, 2)}
	d, err := New(Config{Workers: 2, QueueDepth: 4}, runner, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	job, err := d.Submit(context.Background(), "books")
	require.NoError(t, err)
	require.Equal(t, store.JobStarted, job.Status)
	_, err = d.Submit(context.Background(), "films")
	require.NoError(t, err)

	got := map[string]bool{}
	for range 2 {
		select {
		case name := <-runner.executed:
			got[name] = true
		case <-time.After(time.Second):
			t.Fatal("run was not executed")
		}
	}
	require.Equal(t, map[string]bool{"books": true, "films": true}, got)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func TestDispatcherSubmitAbortsWhenFull(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{executed: make(chan string, 1)}
	d, err := New(Config{Workers: 1, QueueDepth: 1}, runner, nil)
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, 1, d.Pending())

	job, err := d.Submit(context.Background(), "b")
	require.ErrorIs(t, err, ErrBusy)
	require.NotEqual(t, uuid.Nil, job.ID)
	require.Len(t, runner.aborted, 1)
	require.ErrorIs(t, runner.aborted[0], ErrBusy)
}

func TestDispatcherSubmitSurfacesPrepareErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("invalid site config")
	d, err := New(Config{}, &fakeRunner{prepareErr: boom}, nil)
	require.NoError(t, err)
	_, err = d.Submit(context.Background(), "x")
	require.ErrorIs(t, err, boom)
	require.Zero(t, d.Pending())
}

func TestDispatcherCancelsInFlightRuns(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{executed: make(chan string, 1), release: make(chan struct{})}
	d, err := New(Config{Workers: 1}, runner, nil)
	require.NoError(t, err)
	_, err = d.Submit(context.Background(), "slow")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcherAbortsRunsQueuedAtShutdown(t *testing.T) {
	t.Parallel()

	for range 20 {
		runner := &fakeRunner{executed: make(chan string, 3)}
		d, err := New(Config{Workers: 2, QueueDepth: 3}, runner, nil)
		require.NoError(t, err)
		for _, name := range []string{"a", "b", "c"} {
			_, err := d.Submit(context.Background(), name)
			require.NoError(t, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d.Run(ctx)

		require.Zero(t, d.Pending())
		require.Empty(t, runner.executed)
		runner.mu.Lock()
		require.Len(t, runner.aborted, 3)
		for _, reason := range runner.aborted {
			require.ErrorIs(t, reason, ErrStopped)
		}
		runner.mu.Unlock()
	}
}

func TestNewRequiresRunner(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
}

var _ Runner = (*pipeline.Orchestrator)(nil)
