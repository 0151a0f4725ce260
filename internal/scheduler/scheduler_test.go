package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bridgebot/internal/config"
	"github.com/aristath/bridgebot/internal/cycle"
	"github.com/aristath/bridgebot/internal/database"
	"github.com/aristath/bridgebot/internal/domain"
)

type countingJob struct {
	name  string
	err   error
	calls atomic.Int32
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.calls.Add(1)
	return j.err
}

func quietLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestAddJob_RejectsBadSchedule(t *testing.T) {
	s := New(1, quietLogger())
	defer s.Stop()

	err := s.AddJob("every tuesday", &countingJob{name: "bad"})
	assert.Error(t, err)
	assert.NoError(t, s.AddJob("0 */5 * * * *", &countingJob{name: "good"}))
	assert.NoError(t, s.AddJob("@every 1h", &countingJob{name: "hourly"}))
	assert.Len(t, s.cron.Entries(), 2)
}

func TestSubmit_RunsOnPool(t *testing.T) {
	s := New(2, quietLogger())

	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	busy := &countingJob{name: "busy", err: fmt.Errorf("%w: alpha", domain.ErrCycleInFlight)}

	for i := 0; i < 3; i++ {
		require.True(t, s.Submit(ok))
	}
	require.True(t, s.Submit(failing))
	require.True(t, s.Submit(busy))

	s.Stop()
	assert.Equal(t, int32(3), ok.calls.Load())
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), busy.calls.Load())
}

func TestSubmit_SurvivesPanic(t *testing.T) {
	s := New(1, quietLogger())
	after := &countingJob{name: "after"}

	require.True(t, s.Submit(panicJob{}))
	require.True(t, s.Submit(after))

	s.Stop()
	assert.Equal(t, int32(1), after.calls.Load())
}

type panicJob struct{}

func (panicJob) Name() string { return "panic" }
func (panicJob) Run() error   { panic("kaboom") }

func TestRunNow_ReturnsJobError(t *testing.T) {
	s := New(1, quietLogger())
	defer s.Stop()

	boom := errors.New("boom")
	job := &countingJob{name: "now", err: boom}
	assert.ErrorIs(t, s.RunNow(job), boom)
	assert.Equal(t, int32(1), job.calls.Load())
}

type fakeRunner struct {
	mu          sync.Mutex
	strategies  []string
	hadDeadline bool
	err         error
}

func (f *fakeRunner) Run(ctx context.Context, strategy string) (cycle.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strategies = append(f.strategies, strategy)
	_, f.hadDeadline = ctx.Deadline()
	return cycle.Report{Strategy: strategy}, f.err
}

func TestCycleJob(t *testing.T) {
	runner := &fakeRunner{}

	job := NewCycleJob(runner, "alpha", time.Minute)
	assert.Equal(t, "rebalance:alpha", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, []string{"alpha"}, runner.strategies)
	assert.True(t, runner.hadDeadline)

	require.NoError(t, NewCycleJob(runner, "beta", 0).Run())
	assert.False(t, runner.hadDeadline)

	runner.err = domain.ErrCycleInFlight
	assert.ErrorIs(t, job.Run(), domain.ErrCycleInFlight)
}

func TestRegisterStrategies(t *testing.T) {
	s := New(1, quietLogger())
	defer s.Stop()

	strategies := &config.Strategies{List: []config.Strategy{
		{Name: "alpha", Schedule: "0 0 * * *"},
		{Name: "manual"},
		{Name: "beta", Schedule: "30 0 0 * * *"},
	}}
	n, err := RegisterStrategies(s, &fakeRunner{}, strategies, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, s.cron.Entries(), 2)

	bad := &config.Strategies{List: []config.Strategy{{Name: "broken", Schedule: "nope"}}}
	_, err = RegisterStrategies(s, &fakeRunner{}, bad, time.Minute)
	assert.Error(t, err)
}

func TestCheckpointJob(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "portfolio.db"),
		Profile: database.ProfileStandard,
		Name:    database.NamePortfolio,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	job := NewCheckpointJob(quietLogger(), db, nil)
	assert.Equal(t, "wal_checkpoint", job.Name())
	assert.Len(t, job.databases, 1)
	assert.NoError(t, job.Run())
}
