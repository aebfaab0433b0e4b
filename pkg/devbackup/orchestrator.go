package devbackup

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// OrchestratorParams wires the components a Run needs. Probes and Queue
// may be nil: a nil BatteryProbe means NoBattery, a nil DestinationProbe
// means the default destination probe, a nil SpaceProbe skips the
// free-space check, and a nil Queue disables queueing.
type OrchestratorParams struct {
	Config           *Config
	Logger           Logger
	Metrics          *Metrics
	DestinationProbe DestinationProbe
	SpaceProbe       SpaceProbe
	BatteryProbe     BatteryProbe
	Queue            *BackupQueue
	OnProgress       ProgressCallback
	Now              func() time.Time
	Sleep            func(time.Duration)
}

// RunResult summarises one orchestrator invocation.
type RunResult struct {
	RunID               string
	ExitCode            int
	SnapshotName        string
	Queued              bool
	RetentionKept       []string
	RetentionDeleted    []string
	RetentionFreedBytes int64
}

// Run sequences one backup per the orchestrator's strict step order,
// enforcing the two global invariants on every exit path: the signal
// handler is always unregistered and the lock is always released.
func Run(p OrchestratorParams) (*RunResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	result := &RunResult{RunID: uuid.NewString()}

	battery := p.BatteryProbe
	if battery == nil {
		battery = NoBattery()
	}
	skip, err := battery.ShouldSkip()
	if err != nil {
		logger.Warn("battery probe failed, proceeding: %v", err)
	}
	if skip {
		logger.Info("run %s skipped: battery below threshold", result.RunID)
		result.ExitCode = ExitBatterySkip
		p.Metrics.RecordRun("battery_skip")
		return result, nil
	}

	lockPath := p.Config.LockPath
	if lockPath == "" {
		lockPath, err = DefaultLockPath()
		if err != nil {
			result.ExitCode = ExitLockError
			p.Metrics.RecordRun("lock_error")
			return result, &LockError{Err: err}
		}
	}
	lock := NewLock(lockPath)
	if err := lock.Acquire(); err != nil {
		result.ExitCode = ExitLockError
		p.Metrics.RecordRun("lock_error")
		return result, err
	}

	handler := NewSignalHandler(lock, logger, nil)
	handler.Register()
	defer func() {
		handler.Unregister()
		lock.Release()
	}()

	destProbe := p.DestinationProbe
	if destProbe == nil {
		destProbe = NewDestinationProbe()
	}
	if p.Config.DestinationWait > 0 {
		if err := WaitForMount(p.Config.BackupRoot, p.Config.DestinationWait); err != nil {
			logger.Warn("run %s: %v", result.RunID, err)
		}
	}
	if err := destProbe.Validate(p.Config.BackupRoot); err != nil {
		destErr := &DestinationError{Err: err}
		if p.Config.QueueOnDestinationError && p.Queue != nil {
			item := QueuedBackup{
				SourceDirectories: p.Config.Sources,
				BackupDestination: p.Config.BackupRoot,
				QueuedAt:          now().Unix(),
				Reason:            "destination_unavailable",
			}
			if qerr := p.Queue.Enqueue(item); qerr != nil {
				result.ExitCode = ExitDestination
				p.Metrics.RecordRun("destination_error")
				return result, qerr
			}
			result.Queued = true
			logger.Warn("run %s: destination unavailable, queued: %v", result.RunID, err)
		} else {
			logger.Error("run %s: destination unavailable: %v", result.RunID, err)
		}
		result.ExitCode = ExitDestination
		p.Metrics.RecordRun("destination_error")
		return result, destErr
	}

	if _, err := CleanupIncomplete(p.Config.BackupRoot); err != nil {
		logger.Warn("cleanup of incomplete snapshots failed: %v", err)
	}

	validSources := make([]string, 0, len(p.Config.Sources))
	for _, src := range p.Config.Sources {
		if _, err := os.Stat(src); err != nil {
			logger.Warn("source %s is missing, dropping from this run: %v", src, err)
			continue
		}
		validSources = append(validSources, src)
	}
	if len(validSources) == 0 {
		snapErr := &SnapshotError{Err: fmt.Errorf("all configured source directories are missing")}
		result.ExitCode = ExitCodeFor(snapErr)
		p.Metrics.RecordRun("snapshot_error")
		return result, snapErr
	}

	if p.SpaceProbe != nil {
		available, estimated, err := p.SpaceProbe.Estimate(p.Config.BackupRoot, validSources)
		if err != nil {
			spaceErr := &SpaceError{Err: err}
			result.ExitCode = ExitCodeFor(spaceErr)
			p.Metrics.RecordRun("space_error")
			return result, spaceErr
		}
		if available < estimated {
			spaceErr := &SpaceError{Err: fmt.Errorf("insufficient space at %s: available %d bytes, estimated %d bytes", p.Config.BackupRoot, available, estimated)}
			result.ExitCode = ExitCodeFor(spaceErr)
			p.Metrics.RecordRun("space_error")
			return result, spaceErr
		}
	}

	snap, err := CreateSnapshot(CreateSnapshotParams{
		Root:            p.Config.BackupRoot,
		Sources:         validSources,
		ExcludePatterns: p.Config.ExcludePatterns,
		ShowProgress:    p.Config.ShowProgress,
		RetryTuning:     p.Config.Retry,
		Handler:         handler,
		Logger:          logger,
		OnProgress:      p.OnProgress,
		Now:             p.Now,
		Sleep:           p.Sleep,
	})
	if err != nil {
		result.ExitCode = ExitCodeFor(err)
		p.Metrics.RecordRun("snapshot_error")
		return result, err
	}
	result.SnapshotName = snap.Name
	p.Metrics.RecordBytes(snap.Stats.BytesSent)
	logger.Info("run %s: committed snapshot %s (%d files, %d bytes sent)", result.RunID, snap.Name, snap.Stats.FilesTransferred, snap.Stats.BytesSent)

	kept, deleted, freed, retErr := ApplyRetention(p.Config.BackupRoot, p.Config.Retention)
	if retErr != nil {
		logger.Error("run %s: retention failed (non-fatal): %v", result.RunID, retErr)
	} else {
		result.RetentionKept = kept
		result.RetentionDeleted = deleted
		result.RetentionFreedBytes = freed
		p.Metrics.RecordRetention(len(deleted), freed)
	}

	result.ExitCode = ExitSuccess
	p.Metrics.RecordRun("success")
	return result, nil
}

// DrainResult summarises a drain-queue invocation.
type DrainResult struct {
	Processed int
	Succeeded int
	Requeued  bool
}

// DrainQueue repeatedly dequeues and runs queued backups (with queueing
// disabled for each sub-run, to avoid re-enqueue storms), up to maxItems.
// If a destination error recurs, the item's retry count is incremented and
// it is re-enqueued, and draining stops.
func DrainQueue(p OrchestratorParams, maxItems int) (*DrainResult, error) {
	if p.Queue == nil {
		return nil, fmt.Errorf("drain queue: no queue configured")
	}
	result := &DrainResult{}
	for result.Processed < maxItems {
		item, ok, err := p.Queue.Dequeue()
		if err != nil {
			return result, err
		}
		if !ok {
			break
		}

		subConfig := *p.Config
		subConfig.Sources = item.SourceDirectories
		subConfig.BackupRoot = item.BackupDestination
		subConfig.QueueOnDestinationError = false
		subParams := p
		subParams.Config = &subConfig

		runResult, runErr := Run(subParams)
		result.Processed++

		if runResult != nil && runResult.ExitCode == ExitDestination {
			if _, ierr := p.Queue.IncrementRetry(item); ierr != nil {
				return result, ierr
			}
			result.Requeued = true
			break
		}
		if runErr == nil {
			result.Succeeded++
		}
	}
	return result, nil
}
