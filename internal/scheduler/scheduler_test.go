package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeDropRunner struct {
	calls chan struct{}
	err   error
}

func (f *fakeDropRunner) RunDrop(context.Context) error {
	f.calls <- struct{}{}
	return f.err
}

type fakeCounts struct {
	mu      sync.Mutex
	live    int
	samples []int
}

func (f *fakeCounts) LiveCount() int {
	return f.live
}

func (f *fakeCounts) RecordPlayerCount(_ context.Context, playersOnline int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, playersOnline)
	return nil
}

func waitForCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected job to run")
	}
}

func TestTriggerDropRunsJobAsynchronously(t *testing.T) {
	runner := &fakeDropRunner{calls: make(chan struct{}, 4)}
	scheduler := New(Config{})
	if err := scheduler.Register(JobLettuceDrop, "0 0 14 * * *", DropJob(runner)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	scheduler.TriggerDrop()
	scheduler.TriggerDrop()
	waitForCall(t, runner.calls)
	waitForCall(t, runner.calls)
}

func TestScheduleFiresJobs(t *testing.T) {
	runner := &fakeDropRunner{calls: make(chan struct{}, 8)}
	scheduler := New(Config{})
	if err := scheduler.Register(JobLettuceDrop, "* * * * * *", DropJob(runner)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()

	waitForCall(t, runner.calls)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected scheduler to stop")
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	scheduler := New(Config{})
	job := func(context.Context) error { return nil }
	if err := scheduler.Register("broken", "not a spec", job); err == nil {
		t.Fatalf("expected invalid spec error")
	}
	if err := scheduler.Register(JobPlayerCountLog, "0 */5 * * * *", job); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := scheduler.Register(JobPlayerCountLog, "0 */5 * * * *", job); !errors.Is(err, errDuplicateJob) {
		t.Fatalf("expected duplicate job error, got %v", err)
	}
	if err := scheduler.Trigger("missing"); !errors.Is(err, errUnknownJob) {
		t.Fatalf("expected unknown job error, got %v", err)
	}
}

func TestJobFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	runner := &fakeDropRunner{calls: make(chan struct{}, 1), err: errors.New("database unavailable")}
	scheduler := New(Config{Logger: zap.New(core)})
	if err := scheduler.Register(JobLettuceDrop, "0 0 14 * * *", DropJob(runner)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := scheduler.Trigger(JobLettuceDrop); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	scheduler.running.Wait()

	entries := logs.FilterMessage("job failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	if entries[0].ContextMap()["job"] != JobLettuceDrop {
		t.Fatalf("unexpected log fields %v", entries[0].ContextMap())
	}
}

func TestPlayerCountJobRecordsLiveCount(t *testing.T) {
	counts := &fakeCounts{live: 3}
	if err := PlayerCountJob(counts, counts)(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts.samples) != 1 || counts.samples[0] != 3 {
		t.Fatalf("unexpected samples %v", counts.samples)
	}
}
