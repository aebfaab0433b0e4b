// Package devbackup implements incremental, hard-linked, atomic snapshots
// of source directory trees to a local or removable backup volume.
package devbackup

import "time"

// Logger is a pluggable logging sink, kept deliberately small so callers
// can adapt whatever structured logger their application already uses.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// nopLogger discards everything; used when no Logger is configured.
type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// ProgressInfo describes replication progress parsed from the external
// tool's output.
type ProgressInfo struct {
	BytesTransferred uint64
	Percent          float64
	RateBytesPerSec  float64
	FilesTransferred int
	TotalFiles       int
	CurrentFile      string
}

// ProgressCallback receives progress updates while a replication is running.
// Implementations must return quickly; they are invoked from the goroutine
// reading the replicator's output.
type ProgressCallback func(ProgressInfo)

// RetryTuning holds the parameters the Retry Driver is parameterised by.
type RetryTuning struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Timeout bounds a single replication attempt's wall-clock duration.
	Timeout time.Duration
}

// DefaultRetryTuning returns the stock retry parameters: three retries,
// five seconds doubling to a five minute cap, one hour per attempt.
func DefaultRetryTuning() RetryTuning {
	return RetryTuning{
		MaxRetries: 3,
		BaseDelay:  5 * time.Second,
		MaxDelay:   300 * time.Second,
		Timeout:    time.Hour,
	}
}

// RetentionPolicy is the hourly/daily/weekly keep-count tuple the
// Retention Manager applies to a snapshot set.
type RetentionPolicy struct {
	Hourly int
	Daily  int
	Weekly int
}
