package devbackup

import (
	"testing"
	"time"
)

func TestIsRetryableCode(t *testing.T) {
	for _, code := range []int{10, 11, 12, 23, 24, 30} {
		if !IsRetryableCode(code) {
			t.Errorf("code %d should be retryable", code)
		}
	}
	for _, code := range []int{0, 1, 2, 13, 99} {
		if IsRetryableCode(code) {
			t.Errorf("code %d should not be retryable", code)
		}
	}
}

func TestRunWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	tuning := RetryTuning{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	result, val := RunWithRetry(tuning, nil, func() (int, string, string) {
		calls++
		return 0, "", "ok"
	})
	if !result.Success || calls != 1 || result.TotalAttempts != 1 || len(result.Attempts) != 0 {
		t.Fatalf("unexpected result: %+v calls=%d val=%q", result, calls, val)
	}
}

func TestRunWithRetrySucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	tuning := RetryTuning{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	result, val := RunWithRetry(tuning, nil, func() (int, string, string) {
		calls++
		if calls < 3 {
			return 23, "partial transfer", ""
		}
		return 0, "", "done"
	})
	if !result.Success || val != "done" {
		t.Fatalf("expected eventual success, got %+v val=%q", result, val)
	}
	if result.TotalAttempts != 3 {
		t.Fatalf("expected 3 total attempts, got %d", result.TotalAttempts)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 recorded retry attempts, got %d", len(result.Attempts))
	}
	for i, a := range result.Attempts {
		if a.Number != i+1 {
			t.Errorf("attempt %d has number %d", i, a.Number)
		}
	}
}

func TestRunWithRetryExhaustsRetries(t *testing.T) {
	calls := 0
	tuning := RetryTuning{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	result, _ := RunWithRetry(tuning, nil, func() (int, string, string) {
		calls++
		return 30, "timed out", ""
	})
	if result.Success {
		t.Fatal("expected failure after exhausting retries")
	}
	if result.TotalAttempts != 3 {
		t.Fatalf("expected 3 total attempts (1 + 2 retries), got %d", result.TotalAttempts)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(result.Attempts))
	}
	if result.FinalCode != 30 {
		t.Fatalf("expected final code 30, got %d", result.FinalCode)
	}
}

func TestRunWithRetryNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	tuning := DefaultRetryTuning()
	result, _ := RunWithRetry(tuning, nil, func() (int, string, string) {
		calls++
		return 1, "syntax error", ""
	})
	if result.Success {
		t.Fatal("expected immediate failure")
	}
	if calls != 1 || result.TotalAttempts != 1 {
		t.Fatalf("expected exactly one attempt, got calls=%d attempts=%d", calls, result.TotalAttempts)
	}
	if len(result.Attempts) != 0 {
		t.Fatalf("non-retryable failure should record zero retry attempts, got %d", len(result.Attempts))
	}
}

func TestRunWithRetryDelaysDoubleAndCap(t *testing.T) {
	calls := 0
	tuning := RetryTuning{MaxRetries: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond}
	result, _ := RunWithRetry(tuning, nil, func() (int, string, string) {
		calls++
		return 23, "retryable", ""
	})
	if len(result.Attempts) != 4 {
		t.Fatalf("expected 4 recorded attempts, got %d", len(result.Attempts))
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}
	for i, a := range result.Attempts {
		if a.Delay != want[i] {
			t.Errorf("attempt %d: delay = %s, want %s", i+1, a.Delay, want[i])
		}
	}
}
