package devbackup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DestinationProbe validates that a backup root is usable before a run
// stages anything into it. The orchestrator only requires this contract;
// NewDestinationProbe supplies a default filesystem-based implementation.
type DestinationProbe interface {
	Validate(path string) error
}

type defaultDestinationProbe struct{}

// NewDestinationProbe returns the default DestinationProbe: the path must
// exist, be a directory, and accept a temp file write.
func NewDestinationProbe() DestinationProbe { return defaultDestinationProbe{} }

func (defaultDestinationProbe) Validate(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("destination %s: %w", path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("destination %s is not a directory", path)
	}
	probe, err := os.CreateTemp(path, ".devbackup-probe-*")
	if err != nil {
		return fmt.Errorf("destination %s is not writable: %w", path, err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// WaitForMount blocks until path exists (a removable volume's mount point
// appearing, typically) or timeout elapses. It watches path's parent
// directory for create events rather than polling. The orchestrator calls
// it before the destination probe when a wait duration is configured.
func WaitForMount(path string, timeout time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	parent := filepath.Dir(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create mount watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(parent); err != nil {
		return fmt.Errorf("watch %s for mount arrival: %w", parent, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("mount watcher for %s closed unexpectedly", path)
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
		case err := <-watcher.Errors:
			return fmt.Errorf("watch %s: %w", parent, err)
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for %s to appear after %s", path, timeout)
		}
	}
}
