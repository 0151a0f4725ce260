package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/bridgebot/internal/config"
	"github.com/aristath/bridgebot/internal/cycle"
	"github.com/aristath/bridgebot/internal/database"
)

// CycleRunner runs one rebalance cycle
type CycleRunner interface {
	Run(ctx context.Context, strategy string) (cycle.Report, error)
}

// CycleJob triggers the rebalance cycle of one strategy
type CycleJob struct {
	runner   CycleRunner
	strategy string
	timeout  time.Duration
}

// NewCycleJob creates a job. A zero timeout leaves the cycle unbounded.
func NewCycleJob(runner CycleRunner, strategy string, timeout time.Duration) *CycleJob {
	return &CycleJob{runner: runner, strategy: strategy, timeout: timeout}
}

// Name returns the job name
func (j *CycleJob) Name() string {
	return "rebalance:" + j.strategy
}

// Run executes the cycle
func (j *CycleJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	_, err := j.runner.Run(ctx, j.strategy)
	return err
}

// RegisterStrategies adds a cycle job for every strategy with a schedule and
// returns how many were registered
func RegisterStrategies(s *Scheduler, runner CycleRunner, strategies *config.Strategies, timeout time.Duration) (int, error) {
	n := 0
	for _, st := range strategies.List {
		if st.Schedule == "" {
			s.log.Info().Str("strategy", st.Name).Msg("No schedule, manual triggers only")
			continue
		}
		if err := s.AddJob(st.Schedule, NewCycleJob(runner, st.Name, timeout)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// walFrameWarning is the WAL size, in frames, above which a checkpoint is forced
const walFrameWarning = 1000

// CheckpointJob watches the WAL of each database and truncates it when it
// grows large
type CheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewCheckpointJob creates the job. Nil databases are ignored.
func NewCheckpointJob(log zerolog.Logger, dbs ...*database.DB) *CheckpointJob {
	j := &CheckpointJob{log: log.With().Str("job", "wal_checkpoint").Logger()}
	for _, db := range dbs {
		if db != nil {
			j.databases = append(j.databases, db)
		}
	}
	return j
}

// Name returns the job name
func (j *CheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checks every database
func (j *CheckpointJob) Run() error {
	checked := 0
	for _, db := range j.databases {
		// busy, log frames, checkpointed frames
		var busy, frames, checkpointed int
		err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to check WAL checkpoint")
			continue
		}
		checked++

		if frames <= walFrameWarning {
			j.log.Debug().Str("database", db.Name()).Int("wal_frames", frames).Msg("WAL checkpoint status OK")
			continue
		}
		j.log.Warn().
			Str("database", db.Name()).
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, truncating")
		if err := db.WALCheckpoint(""); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Forced checkpoint failed")
		}
	}

	j.log.Debug().Int("checked", checked).Msg("WAL checkpoint check completed")
	return nil
}
