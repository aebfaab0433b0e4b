package devbackup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ReplicationStats are the totals rsync reports in its summary block on
// success.
type ReplicationStats struct {
	TotalFiles       int
	FilesTransferred int
	CreatedFiles     int
	BytesSent        uint64
}

// ReplicateParams describes one replication attempt. ExcludeFile, when
// non-empty, is built once by the caller and reused across retry attempts.
type ReplicateParams struct {
	Sources      []string
	Dest         string
	LinkDest     string
	ExcludeFile  string
	ShowProgress bool
	Timeout      time.Duration
	OnProgress   ProgressCallback
	Handler      *SignalHandler
	Logger       Logger
}

// CreateExcludeFile writes patterns, one per line, to a temp file and
// returns its path and a cleanup function. Used by the Snapshot Engine to
// build the --exclude-from argument once per create-snapshot call.
func CreateExcludeFile(patterns []string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "devbackup-exclude-*.txt")
	if err != nil {
		return "", func() {}, fmt.Errorf("create exclude file: %w", err)
	}
	for _, p := range patterns {
		if _, err := fmt.Fprintln(f, p); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", func() {}, fmt.Errorf("write exclude file: %w", err)
		}
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", func() {}, fmt.Errorf("close exclude file: %w", err)
	}
	return name, func() { os.Remove(name) }, nil
}

func withTrailingSlash(path string) string {
	if strings.HasSuffix(path, string(os.PathSeparator)) {
		return path
	}
	return path + string(os.PathSeparator)
}

// BuildRsyncArgs renders the argument list for a single replication
// attempt, in a fixed order:
// -av --delete --stats [--progress] [--link-dest=<path>]
// [--exclude-from=<file>] <sources.../> <dest>/
func BuildRsyncArgs(p ReplicateParams) []string {
	args := []string{"-av", "--delete", "--stats"}
	if p.ShowProgress {
		args = append(args, "--progress")
	}
	if p.LinkDest != "" {
		args = append(args, "--link-dest="+p.LinkDest)
	}
	if p.ExcludeFile != "" {
		args = append(args, "--exclude-from="+p.ExcludeFile)
	}
	for _, s := range p.Sources {
		args = append(args, withTrailingSlash(s))
	}
	args = append(args, withTrailingSlash(p.Dest))
	return args
}

// Replicate runs one rsync attempt to completion, a timeout, or a signal,
// whichever comes first. It never panics and never returns a Go error for
// an ordinary replication failure; failures are reported via the
// (code, message) pair the Retry Driver consumes.
func Replicate(p ReplicateParams) (code int, message string, stats ReplicationStats) {
	logger := p.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	args := BuildRsyncArgs(p)
	cmd := exec.Command("rsync", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 1, fmt.Sprintf("failed to open rsync stdout: %v", err), stats
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return 1, fmt.Sprintf("failed to start rsync: %v", err), stats
	}

	if p.Handler != nil {
		p.Handler.SetCmd(cmd)
		defer p.Handler.ClearCmd()
	}

	var (
		mu    sync.Mutex
		lines []string
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		filesSeen := 0
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
			if info, ok := parseProgressLine(line); ok {
				if p.OnProgress != nil {
					p.OnProgress(info)
				}
				continue
			}
			if line != "" && !strings.Contains(line, ":") {
				filesSeen++
				if p.OnProgress != nil {
					p.OnProgress(ProgressInfo{FilesTransferred: filesSeen, CurrentFile: line})
				}
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-waitDone:
		wg.Wait()
	case <-timeoutCh:
		logger.Warn("replication exceeded timeout %s, terminating", p.Timeout)
		terminateProcessGroup(cmd, waitDone)
		wg.Wait()
		io.Copy(io.Discard, stdout)
		return 30, fmt.Sprintf("replication timed out after %s", p.Timeout), stats
	}

	mu.Lock()
	allLines := append([]string(nil), lines...)
	mu.Unlock()
	stats = parseRsyncStats(allLines)

	if waitErr == nil {
		return 0, "", stats
	}

	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return 1, fmt.Sprintf("rsync failed to run: %v", waitErr), stats
	}
	exitCode := exitErr.ExitCode()
	msg := lastNonEmpty(allLines)
	if msg == "" {
		msg = fmt.Sprintf("rsync exited with code %d", exitCode)
	}
	return exitCode, msg, stats
}

// terminateProcessGroup sends SIGTERM to the whole process group, then
// escalates to SIGKILL after a short grace period if the process has not
// exited. It returns once it has received cmd.Wait's result from waitDone;
// that result is delivered only once, so a second call for the same
// process blocks.
func terminateProcessGroup(cmd *exec.Cmd, waitDone <-chan error) {
	pgid := cmd.Process.Pid
	syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-waitDone:
		return
	case <-time.After(5 * time.Second):
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-waitDone
	}
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

var progressLineRe = regexp.MustCompile(`^\s*([\d,]+)\s+(\d+)%\s+([\d.]+)(B|kB|MB|GB)/s`)

// parseProgressLine recognizes rsync's --progress per-file line shape:
// "<bytes> <percent>% <rate>/s <eta>". Rate is normalised to bytes/sec.
func parseProgressLine(line string) (ProgressInfo, bool) {
	m := progressLineRe.FindStringSubmatch(line)
	if m == nil {
		return ProgressInfo{}, false
	}
	bytesStr := strings.ReplaceAll(m[1], ",", "")
	bytesVal, err := strconv.ParseUint(bytesStr, 10, 64)
	if err != nil {
		return ProgressInfo{}, false
	}
	percent, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return ProgressInfo{}, false
	}
	rate, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return ProgressInfo{}, false
	}
	switch m[4] {
	case "kB":
		rate *= 1024
	case "MB":
		rate *= 1024 * 1024
	case "GB":
		rate *= 1024 * 1024 * 1024
	}
	return ProgressInfo{
		BytesTransferred: bytesVal,
		Percent:          percent,
		RateBytesPerSec:  rate,
	}, true
}

var (
	reTotalFiles  = regexp.MustCompile(`^Number of files:\s*([\d,]+)`)
	reTransferred = regexp.MustCompile(`^Number of regular files transferred:\s*([\d,]+)`)
	reCreated     = regexp.MustCompile(`^Number of created files:\s*([\d,]+)`)
	reSent        = regexp.MustCompile(`^sent\s+([\d,]+)\s+bytes`)
)

// parseRsyncStats extracts the summary totals rsync prints when run with
// --stats, falling back to counting non-stats lines when the tool's output
// is too minimal to contain a stats block (old rsync, or no verbose lines).
func parseRsyncStats(lines []string) ReplicationStats {
	var stats ReplicationStats
	found := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if m := reTotalFiles.FindStringSubmatch(line); m != nil {
			stats.TotalFiles = atoiComma(m[1])
			found = true
			continue
		}
		if m := reTransferred.FindStringSubmatch(line); m != nil {
			stats.FilesTransferred = atoiComma(m[1])
			found = true
			continue
		}
		if m := reCreated.FindStringSubmatch(line); m != nil {
			stats.CreatedFiles = atoiComma(m[1])
			found = true
			continue
		}
		if m := reSent.FindStringSubmatch(line); m != nil {
			stats.BytesSent = uint64(atoiComma(m[1]))
			found = true
			continue
		}
	}
	if found {
		return stats
	}
	count := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, ":") {
			continue
		}
		count++
	}
	stats.FilesTransferred = count
	stats.TotalFiles = count
	return stats
}

func atoiComma(s string) int {
	n, _ := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	return n
}
