package devbackup

import (
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryableCodes is the fixed classification set of transient replicator
// exit codes: socket I/O, file I/O, protocol, partial transfer due to
// error, partial transfer due to vanished sources, timeout.
var RetryableCodes = map[int]struct{}{
	10: {}, 11: {}, 12: {}, 23: {}, 24: {}, 30: {},
}

// IsRetryableCode reports whether code is in the retryable classification
// set.
func IsRetryableCode(code int) bool {
	_, ok := RetryableCodes[code]
	return ok
}

// RetryAttempt records one failed, retried attempt.
type RetryAttempt struct {
	Number  int
	Code    int
	Message string
	Delay   time.Duration
}

// RetryResult is the outcome of RunWithRetry.
type RetryResult struct {
	Success       bool
	FinalCode     int
	FinalMessage  string
	Attempts      []RetryAttempt
	TotalAttempts int
}

type retrySentinel struct{ message string }

func (e *retrySentinel) Error() string { return e.message }

// RunWithRetry wraps op with classified-error retry and exponential
// backoff. op must return (0, "", result) on success, or a non-zero
// return_code and a human-readable message on failure.
//
// The backoff schedule is delegated to cenkalti/backoff/v4, configured so
// its exponential growth matches base*2^(attempt-1) capped at MaxDelay with
// no jitter; classification (retryable vs. not) is ours.
func RunWithRetry[T any](tuning RetryTuning, logger Logger, op func() (code int, message string, result T)) (RetryResult, T) {
	if logger == nil {
		logger = nopLogger{}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = tuning.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = tuning.MaxDelay
	eb.MaxElapsedTime = 0 // bounded by WithMaxRetries, not wall-clock elapsed time

	bo := backoff.WithMaxRetries(eb, uint64(tuning.MaxRetries))

	var (
		attempts   []RetryAttempt
		result     T
		finalCode  int
		finalMsg   string
		attemptNum int
	)

	operation := func() error {
		attemptNum++
		code, msg, res := op()
		if code == 0 {
			result = res
			finalCode = 0
			finalMsg = ""
			return nil
		}
		finalCode, finalMsg = code, msg
		if !IsRetryableCode(code) {
			return backoff.Permanent(&retrySentinel{message: msg})
		}
		return &retrySentinel{message: msg}
	}

	notify := func(err error, delay time.Duration) {
		a := RetryAttempt{Number: attemptNum, Code: finalCode, Message: finalMsg, Delay: delay}
		attempts = append(attempts, a)
		logger.Warn("retry attempt %d/%d: code %d - %s, waiting %s", a.Number, tuning.MaxRetries, a.Code, a.Message, delay)
	}

	err := backoff.RetryNotify(operation, bo, notify)

	success := err == nil

	return RetryResult{
		Success:       success,
		FinalCode:     finalCode,
		FinalMessage:  finalMsg,
		Attempts:      attempts,
		TotalAttempts: attemptNum,
	}, result
}
