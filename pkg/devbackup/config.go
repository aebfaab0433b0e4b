package devbackup

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// rawRetryTuning mirrors RetryTuning but with durations spelled as
// human strings ("5s", "5m") the way YAML config files are written.
type rawRetryTuning struct {
	MaxRetries int    `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
	MaxDelay   string `yaml:"max_delay"`
	Timeout    string `yaml:"timeout"`
}

// rawConfig is the on-disk shape loaded by gopkg.in/yaml.v3. Config is the
// validated, resolved form the Orchestrator consumes.
type rawConfig struct {
	BackupRoot              string          `yaml:"backup_root"`
	Sources                 []string        `yaml:"sources"`
	ExcludePatterns         []string        `yaml:"exclude_patterns"`
	Retention               RetentionPolicy `yaml:"retention"`
	Retry                   rawRetryTuning  `yaml:"retry"`
	QueuePath               string          `yaml:"queue_path"`
	LockPath                string          `yaml:"lock_path"`
	DestinationWait         string          `yaml:"destination_wait"`
	ShowProgress            bool            `yaml:"show_progress"`
	QueueOnDestinationError bool            `yaml:"queue_on_destination_error"`
}

// Config is the fully resolved, validated configuration the Orchestrator
// treats as immutable for the duration of a run. Config file grammar
// itself is out of the core's scope; LoadConfig is the one place that
// grammar is interpreted.
type Config struct {
	BackupRoot              string
	Sources                 []string
	ExcludePatterns         []string
	Retention               RetentionPolicy
	Retry                   RetryTuning
	QueuePath               string
	LockPath                string
	// DestinationWait, when positive, has a run block this long for the
	// backup root to appear (a removable volume mounting) before the
	// destination probe decides the run's fate.
	DestinationWait         time.Duration
	ShowProgress            bool
	QueueOnDestinationError bool
}

// LoadConfig reads and validates a YAML config file. Parse and validation
// failures are both reported as *ConfigError.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read config %s: %w", path, err)}
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse config %s: %w", path, err)}
	}

	if raw.BackupRoot == "" {
		return nil, &ConfigError{Err: fmt.Errorf("backup_root is required")}
	}
	if len(raw.Sources) == 0 {
		return nil, &ConfigError{Err: fmt.Errorf("sources must list at least one directory")}
	}

	retry, err := raw.Retry.resolve()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	queuePath := raw.QueuePath
	if queuePath == "" {
		queuePath, err = DefaultQueuePath()
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
	}

	var destinationWait time.Duration
	if raw.DestinationWait != "" {
		destinationWait, err = time.ParseDuration(raw.DestinationWait)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parse destination_wait: %w", err)}
		}
	}

	lockPath := raw.LockPath
	if lockPath == "" {
		lockPath, err = DefaultLockPath()
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
	}

	return &Config{
		BackupRoot:              raw.BackupRoot,
		Sources:                 raw.Sources,
		ExcludePatterns:         raw.ExcludePatterns,
		Retention:               raw.Retention,
		Retry:                   retry,
		QueuePath:               queuePath,
		LockPath:                lockPath,
		DestinationWait:         destinationWait,
		ShowProgress:            raw.ShowProgress,
		QueueOnDestinationError: raw.QueueOnDestinationError,
	}, nil
}

func (r rawRetryTuning) resolve() (RetryTuning, error) {
	tuning := DefaultRetryTuning()
	if r.MaxRetries > 0 {
		tuning.MaxRetries = r.MaxRetries
	}
	if r.BaseDelay != "" {
		d, err := time.ParseDuration(r.BaseDelay)
		if err != nil {
			return tuning, fmt.Errorf("parse retry.base_delay: %w", err)
		}
		tuning.BaseDelay = d
	}
	if r.MaxDelay != "" {
		d, err := time.ParseDuration(r.MaxDelay)
		if err != nil {
			return tuning, fmt.Errorf("parse retry.max_delay: %w", err)
		}
		tuning.MaxDelay = d
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return tuning, fmt.Errorf("parse retry.timeout: %w", err)
		}
		tuning.Timeout = d
	}
	return tuning, nil
}
