package devbackup

import (
	"errors"
	"fmt"
)

// Exit codes, stable wire contract for the CLI layer.
const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitLockError     = 2
	ExitDestination   = 3
	ExitSnapshotError = 4
	ExitRetention     = 5
	ExitSpaceError    = 6
	ExitBatterySkip   = 7
	ExitInterrupted   = 130
)

// ConfigError wraps a configuration problem detected by the caller before
// a run starts.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// LockError means another live process already holds the run lock.
type LockError struct{ Err error }

func (e *LockError) Error() string { return fmt.Sprintf("lock error: %v", e.Err) }
func (e *LockError) Unwrap() error { return e.Err }

// DestinationError means the backup root is missing, unmounted, or unwritable.
type DestinationError struct{ Err error }

func (e *DestinationError) Error() string { return fmt.Sprintf("destination error: %v", e.Err) }
func (e *DestinationError) Unwrap() error { return e.Err }

// SnapshotError covers replicator failure after retries and unexpected
// filesystem errors during staging or commit.
type SnapshotError struct{ Err error }

func (e *SnapshotError) Error() string { return fmt.Sprintf("snapshot error: %v", e.Err) }
func (e *SnapshotError) Unwrap() error { return e.Err }

// SpaceError means the destination lacks the estimated free space.
type SpaceError struct{ Err error }

func (e *SpaceError) Error() string { return fmt.Sprintf("space error: %v", e.Err) }
func (e *SpaceError) Unwrap() error { return e.Err }

// RetentionError wraps a non-fatal failure applying the retention policy.
type RetentionError struct{ Err error }

func (e *RetentionError) Error() string { return fmt.Sprintf("retention error: %v", e.Err) }
func (e *RetentionError) Unwrap() error { return e.Err }

// QueueError covers persistence failures in the deferred-run queue.
type QueueError struct{ Err error }

func (e *QueueError) Error() string { return fmt.Sprintf("queue error: %v", e.Err) }
func (e *QueueError) Unwrap() error { return e.Err }

// ExitCodeFor maps a typed core error to the stable exit code from the
// wire contract. Unrecognized errors map to the snapshot code, matching
// the "unexpected errors map to snapshot" rule.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case asConfig(err):
		return ExitConfigError
	case asLock(err):
		return ExitLockError
	case asDestination(err):
		return ExitDestination
	case asSpace(err):
		return ExitSpaceError
	case asRetention(err):
		return ExitRetention
	case asQueue(err):
		return ExitDestination
	default:
		return ExitSnapshotError
	}
}

func asConfig(err error) bool      { var e *ConfigError; return errors.As(err, &e) }
func asLock(err error) bool        { var e *LockError; return errors.As(err, &e) }
func asDestination(err error) bool { var e *DestinationError; return errors.As(err, &e) }
func asSpace(err error) bool       { var e *SpaceError; return errors.As(err, &e) }
func asRetention(err error) bool   { var e *RetentionError; return errors.As(err, &e) }
func asQueue(err error) bool       { var e *QueueError; return errors.As(err, &e) }
