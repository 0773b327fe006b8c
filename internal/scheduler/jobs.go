package scheduler

import "context"

// DropRunner executes one lettuce drop.
type DropRunner interface {
	RunDrop(ctx context.Context) error
}

// LiveCounter reports the number of connected players.
type LiveCounter interface {
	LiveCount() int
}

// CountRecorder stores a connected-player sample.
type CountRecorder interface {
	RecordPlayerCount(ctx context.Context, playersOnline int) error
}

// DropJob wraps a DropRunner as a Job.
func DropJob(runner DropRunner) Job {
	return runner.RunDrop
}

// PlayerCountJob samples counter into recorder.
func PlayerCountJob(counter LiveCounter, recorder CountRecorder) Job {
	return func(ctx context.Context) error {
		return recorder.RecordPlayerCount(ctx, counter.LiveCount())
	}
}
