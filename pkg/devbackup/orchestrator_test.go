package devbackup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

type fakeDestinationProbe struct{ err error }

func (f fakeDestinationProbe) Validate(string) error { return f.err }

type fakeSpaceProbe struct {
	available, estimated uint64
	err                  error
}

func (f fakeSpaceProbe) Estimate(string, []string) (uint64, uint64, error) {
	return f.available, f.estimated, f.err
}

type fakeBatteryProbe struct{ skip bool }

func (f fakeBatteryProbe) ShouldSkip() (bool, error) { return f.skip, nil }

func testConfig(backupRoot string, sources []string) *Config {
	return &Config{
		BackupRoot: backupRoot,
		Sources:    sources,
		LockPath:   filepath.Join(backupRoot, ".test-devbackup.pid"),
		Retry: RetryTuning{
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
			MaxDelay:   time.Millisecond,
			Timeout:    10 * time.Second,
		},
	}
}

func TestRunSkipsOnBatteryBelowThreshold(t *testing.T) {
	root := t.TempDir()
	result, err := Run(OrchestratorParams{
		Config:       testConfig(root, []string{t.TempDir()}),
		BatteryProbe: fakeBatteryProbe{skip: true},
	})
	if err != nil {
		t.Fatalf("expected no error on battery skip, got: %v", err)
	}
	if result.ExitCode != ExitBatterySkip {
		t.Fatalf("expected ExitBatterySkip, got %d", result.ExitCode)
	}
}

func TestRunFailsWhenDestinationUnavailableWithoutQueue(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root, []string{t.TempDir()})
	_, err := Run(OrchestratorParams{
		Config:           cfg,
		DestinationProbe: fakeDestinationProbe{err: fmt.Errorf("unmounted")},
	})
	if err == nil {
		t.Fatal("expected destination error")
	}
	if ExitCodeFor(err) != ExitDestination {
		t.Fatalf("expected ExitDestination, got %d", ExitCodeFor(err))
	}
}

func TestRunQueuesOnDestinationErrorWhenConfigured(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root, []string{t.TempDir()})
	cfg.QueueOnDestinationError = true

	queuePath := filepath.Join(t.TempDir(), "queue.json")
	queue, err := NewBackupQueue(queuePath, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := Run(OrchestratorParams{
		Config:           cfg,
		DestinationProbe: fakeDestinationProbe{err: fmt.Errorf("unmounted")},
		Queue:            queue,
		Now:              time.Now,
	})
	if err == nil {
		t.Fatal("expected destination error to still be returned")
	}
	if !result.Queued {
		t.Fatal("expected the run to be queued")
	}
	if queue.Size() != 1 {
		t.Fatalf("expected one queued item, got %d", queue.Size())
	}
}

func TestRunWaitsForDestinationArrival(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "volume")
	cfg := testConfig(root, []string{filepath.Join(t.TempDir(), "gone")})
	cfg.LockPath = filepath.Join(parent, "devbackup.pid")
	cfg.DestinationWait = 5 * time.Second

	go func() {
		time.Sleep(100 * time.Millisecond)
		os.Mkdir(root, 0o755)
	}()

	// The missing source fails the run after the destination probe, which
	// proves the wait saw the volume arrive.
	_, err := Run(OrchestratorParams{Config: cfg})
	if err == nil {
		t.Fatal("expected missing-source failure")
	}
	if ExitCodeFor(err) != ExitSnapshotError {
		t.Fatalf("expected ExitSnapshotError after the destination appeared, got %d", ExitCodeFor(err))
	}
}

func TestRunFailsWhenAllSourcesMissing(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(t.TempDir(), "gone")
	_, err := Run(OrchestratorParams{
		Config: testConfig(root, []string{missing}),
	})
	if err == nil {
		t.Fatal("expected error when every source is missing")
	}
	if ExitCodeFor(err) != ExitSnapshotError {
		t.Fatalf("expected ExitSnapshotError, got %d", ExitCodeFor(err))
	}
}

func TestRunFailsOnInsufficientSpace(t *testing.T) {
	root := t.TempDir()
	source := t.TempDir()
	os.WriteFile(filepath.Join(source, "a.bin"), make([]byte, 100), 0o644)

	_, err := Run(OrchestratorParams{
		Config:     testConfig(root, []string{source}),
		SpaceProbe: fakeSpaceProbe{available: 10, estimated: 1000},
	})
	if err == nil {
		t.Fatal("expected space error")
	}
	if ExitCodeFor(err) != ExitSpaceError {
		t.Fatalf("expected ExitSpaceError, got %d", ExitCodeFor(err))
	}
}

func TestRunSucceedsAndAppliesRetention(t *testing.T) {
	if _, err := exec.LookPath("rsync"); err != nil {
		t.Skip("rsync not available")
	}
	root := t.TempDir()
	source := t.TempDir()
	os.WriteFile(filepath.Join(source, "a.txt"), []byte("data"), 0o644)

	result, err := Run(OrchestratorParams{
		Config: testConfig(root, []string{source}),
		Now:    time.Now,
	})
	if err != nil {
		t.Fatalf("expected successful run, got: %v", err)
	}
	if result.ExitCode != ExitSuccess || result.SnapshotName == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDrainQueueRequeuesOnRecurringDestinationError(t *testing.T) {
	queuePath := filepath.Join(t.TempDir(), "queue.json")
	queue, err := NewBackupQueue(queuePath, nil)
	if err != nil {
		t.Fatal(err)
	}
	item := QueuedBackup{
		SourceDirectories: []string{t.TempDir()},
		BackupDestination: t.TempDir(),
		Reason:            "destination_unavailable",
	}
	if err := queue.Enqueue(item); err != nil {
		t.Fatal(err)
	}

	result, err := DrainQueue(OrchestratorParams{
		Config:           testConfig(t.TempDir(), nil),
		DestinationProbe: fakeDestinationProbe{err: fmt.Errorf("still unmounted")},
		Queue:            queue,
	}, 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Processed != 1 || !result.Requeued {
		t.Fatalf("expected one processed item re-enqueued, got %+v", result)
	}

	requeued, ok := queue.Peek()
	if !ok {
		t.Fatal("expected the item back in the queue")
	}
	if requeued.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", requeued.RetryCount)
	}
	if requeued.BackupDestination != item.BackupDestination {
		t.Fatalf("expected the same destination re-enqueued, got %q", requeued.BackupDestination)
	}
}

func TestDrainQueueStopsOnEmptyQueue(t *testing.T) {
	queue, err := NewBackupQueue(filepath.Join(t.TempDir(), "queue.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := DrainQueue(OrchestratorParams{
		Config: testConfig(t.TempDir(), nil),
		Queue:  queue,
	}, 10)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected nothing processed from an empty queue, got %+v", result)
	}
}

func TestRunHoldsLockAcrossConcurrentInvocation(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root, []string{t.TempDir()})
	lock := NewLock(cfg.LockPath)
	if err := lock.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, err := Run(OrchestratorParams{
		Config: cfg,
	})
	if err == nil {
		t.Fatal("expected lock conflict")
	}
	if ExitCodeFor(err) != ExitLockError {
		t.Fatalf("expected ExitLockError, got %d", ExitCodeFor(err))
	}
}
