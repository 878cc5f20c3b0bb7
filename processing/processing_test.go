package processing

import (
	"context"
	"errors"
	"gallery/testutil"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	deferred bool
	ran      bool
	err      error
	calls    int
}

func (s *fakeSweeper) Deferred() bool { return s.deferred }

func (s *fakeSweeper) Sweep(context.Context, bool) (bool, error) {
	s.calls++
	return s.ran, s.err
}

type fakeCleaner struct {
	mu      sync.Mutex
	removed int
	calls   int
	last    time.Duration
}

func (c *fakeCleaner) CleanupStale(_ context.Context, olderThan time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = olderThan
	return c.removed, nil
}

func (c *fakeCleaner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name    string
		sweeper *fakeSweeper
		removed int
		want    map[string]int
	}{
		{
			"immediate mode skips the sweep",
			&fakeSweeper{},
			0,
			map[string]int{"counter-sweep": Skipped, "batch-cleanup": Skipped},
		},
		{
			"deferred sweep inside its interval",
			&fakeSweeper{deferred: true},
			2,
			map[string]int{"counter-sweep": Skipped, "batch-cleanup": Done},
		},
		{
			"deferred sweep runs",
			&fakeSweeper{deferred: true, ran: true},
			0,
			map[string]int{"counter-sweep": Done, "batch-cleanup": Skipped},
		},
		{
			"sweep failure",
			&fakeSweeper{deferred: true, ran: true, err: errors.New("db gone")},
			0,
			map[string]int{"counter-sweep": Failed, "batch-cleanup": Skipped},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleaner := &fakeCleaner{removed: tt.removed}
			r, err := New(testutil.OpenDB(t), Config{Sweeper: tt.sweeper, Cleaner: cleaner, StaleAfter: time.Hour})
			require.NoError(t, err)

			assert.Equal(t, tt.want, r.RunOnce(context.Background()))
			assert.Equal(t, time.Hour, cleaner.last)
			if !tt.sweeper.deferred {
				assert.Zero(t, tt.sweeper.calls)
			}
		})
	}
}

func TestRunOnceStoresStatuses(t *testing.T) {
	sweeper := &fakeSweeper{deferred: true, ran: true, err: errors.New("db gone")}
	r, err := New(testutil.OpenDB(t), Config{Sweeper: sweeper, Cleaner: &fakeCleaner{removed: 1}})
	require.NoError(t, err)
	r.now = func() time.Time { return time.Unix(1700000000, 0) }

	r.RunOnce(context.Background())
	sweeper.err = nil
	r.RunOnce(context.Background())

	statuses, err := r.Statuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "batch-cleanup", statuses[0].Name)
	assert.Equal(t, Done, statuses[0].Status)
	assert.Equal(t, "counter-sweep", statuses[1].Name)
	assert.Equal(t, Done, statuses[1].Status)
	assert.Empty(t, statuses[1].Error)
	assert.Equal(t, int64(2), statuses[1].Runs)
	assert.Equal(t, int64(1700000000), statuses[1].RunAt)
}

func TestStartStopsWithContext(t *testing.T) {
	cleaner := &fakeCleaner{}
	r, err := New(testutil.OpenDB(t), Config{Cleaner: cleaner, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return cleaner.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
