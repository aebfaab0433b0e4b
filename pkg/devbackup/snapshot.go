package devbackup

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// TimestampFormat renders a snapshot's base name.
	TimestampFormat = "2006-01-02-150405"
	// InProgressPrefix marks a staging directory.
	InProgressPrefix = "in_progress_"
	// maxNameAllocationRounds bounds the redesigned full-procedure retry
	// loop (see DESIGN.md: the 99-sequence-exhaustion open question). In
	// practice a single round never fails; this is a safety backstop, not
	// an expected code path.
	maxNameAllocationRounds = 10
)

var snapshotNameRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}-\d{6})(?:-(\d{2}))?$`)

// ParseSnapshotName validates name against either the base or collision
// name form and returns its timestamp and sequence number (0 for the base
// form).
func ParseSnapshotName(name string) (ts time.Time, seq int, ok bool) {
	m := snapshotNameRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, 0, false
	}
	t, err := time.ParseInLocation(TimestampFormat, m[1], time.Local)
	if err != nil {
		return time.Time{}, 0, false
	}
	if m[2] != "" {
		seq, err = strconv.Atoi(m[2])
		if err != nil || seq < 1 || seq > 99 {
			return time.Time{}, 0, false
		}
	}
	return t, seq, true
}

func snapshotNameExists(root, name string) bool {
	if _, err := os.Lstat(filepath.Join(root, name)); err == nil {
		return true
	}
	if _, err := os.Lstat(filepath.Join(root, InProgressPrefix+name)); err == nil {
		return true
	}
	return false
}

// GenerateUniqueSnapshotName allocates a name not already taken by a
// committed or staging directory under root. It tries the base timestamp,
// then suffixes -01..-99 in order; if all are taken it loops back through
// the entire procedure (regenerating the base timestamp) after a one
// second pause, rather than falling back to an unchecked name.
func GenerateUniqueSnapshotName(root string, now func() time.Time, sleep func(time.Duration)) (string, error) {
	for round := 0; round < maxNameAllocationRounds; round++ {
		base := now().Format(TimestampFormat)
		if !snapshotNameExists(root, base) {
			return base, nil
		}
		for seq := 1; seq <= 99; seq++ {
			candidate := fmt.Sprintf("%s-%02d", base, seq)
			if !snapshotNameExists(root, candidate) {
				return candidate, nil
			}
		}
		sleep(time.Second)
	}
	return "", fmt.Errorf("exhausted %d rounds of snapshot name allocation under %s", maxNameAllocationRounds, root)
}

// FindLatestSnapshot returns the lexicographically greatest committed
// snapshot name under root, or "" if none exist.
func FindLatestSnapshot(root string) (string, error) {
	names, err := listCommittedSnapshotNames(root)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[0], nil
}

func listCommittedSnapshotNames(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, InProgressPrefix) || strings.HasPrefix(name, ".") {
			continue
		}
		if _, _, ok := ParseSnapshotName(name); ok {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// CreateSnapshotParams parameterises the central snapshot lifecycle
// operation.
type CreateSnapshotParams struct {
	Root            string
	Sources         []string
	ExcludePatterns []string
	ShowProgress    bool
	RetryTuning     RetryTuning
	Handler         *SignalHandler
	Logger          Logger
	OnProgress      ProgressCallback
	Now             func() time.Time
	Sleep           func(time.Duration)
}

// CreateSnapshotResult describes a successful snapshot.
type CreateSnapshotResult struct {
	Name     string
	Path     string
	Retry    RetryResult
	Stats    ReplicationStats
	Manifest *Manifest
}

// CreateSnapshot runs the full create-snapshot lifecycle: allocate a name,
// stage, replicate through the Retry Driver, commit atomically, and build
// the integrity manifest. On replicator failure the staging directory is
// removed and a *SnapshotError is returned.
func CreateSnapshot(p CreateSnapshotParams) (*CreateSnapshotResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return nil, &SnapshotError{Err: fmt.Errorf("ensure backup root: %w", err)}
	}

	name, err := GenerateUniqueSnapshotName(p.Root, now, sleep)
	if err != nil {
		return nil, &SnapshotError{Err: err}
	}

	stagingPath := filepath.Join(p.Root, InProgressPrefix+name)
	if err := os.Mkdir(stagingPath, 0o755); err != nil {
		return nil, &SnapshotError{Err: fmt.Errorf("create staging directory: %w", err)}
	}
	if p.Handler != nil {
		p.Handler.SetStaging(stagingPath)
	}

	latest, err := FindLatestSnapshot(p.Root)
	if err != nil {
		os.RemoveAll(stagingPath)
		if p.Handler != nil {
			p.Handler.ClearStaging()
		}
		return nil, &SnapshotError{Err: fmt.Errorf("find link-dest target: %w", err)}
	}
	linkDest := ""
	if latest != "" {
		linkDest = filepath.Join(p.Root, latest)
	}

	excludeFile, cleanupExclude, err := CreateExcludeFile(p.ExcludePatterns)
	if err != nil {
		os.RemoveAll(stagingPath)
		if p.Handler != nil {
			p.Handler.ClearStaging()
		}
		return nil, &SnapshotError{Err: err}
	}
	defer cleanupExclude()

	retryResult, stats := RunWithRetry(p.RetryTuning, logger, func() (int, string, ReplicationStats) {
		return Replicate(ReplicateParams{
			Sources:      p.Sources,
			Dest:         stagingPath,
			LinkDest:     linkDest,
			ExcludeFile:  excludeFile,
			ShowProgress: p.ShowProgress,
			Timeout:      p.RetryTuning.Timeout,
			OnProgress:   p.OnProgress,
			Handler:      p.Handler,
			Logger:       logger,
		})
	})

	if !retryResult.Success {
		os.RemoveAll(stagingPath)
		if p.Handler != nil {
			p.Handler.ClearStaging()
		}
		return nil, &SnapshotError{Err: fmt.Errorf("replication failed after %d attempt(s): %s (code %d)",
			retryResult.TotalAttempts, retryResult.FinalMessage, retryResult.FinalCode)}
	}

	finalPath := filepath.Join(p.Root, name)
	if err := os.Rename(stagingPath, finalPath); err != nil {
		os.RemoveAll(stagingPath)
		if p.Handler != nil {
			p.Handler.ClearStaging()
		}
		return nil, &SnapshotError{Err: fmt.Errorf("commit snapshot rename: %w", err)}
	}
	if p.Handler != nil {
		p.Handler.ClearStaging()
	}

	manifest, err := CreateManifest(name, finalPath)
	if err != nil {
		return nil, &SnapshotError{Err: fmt.Errorf("build manifest: %w", err)}
	}
	if err := SaveManifest(finalPath, manifest); err != nil {
		return nil, &SnapshotError{Err: fmt.Errorf("save manifest: %w", err)}
	}

	return &CreateSnapshotResult{
		Name:     name,
		Path:     finalPath,
		Retry:    retryResult,
		Stats:    stats,
		Manifest: manifest,
	}, nil
}

// CleanupIncomplete removes every in_progress_* directory under root,
// repairing state left by a crash or signal. Returns the count removed.
func CleanupIncomplete(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read backup root: %w", err)
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), InProgressPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return count, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		count++
	}
	return count, nil
}

// SnapshotInfo describes a committed snapshot for listing.
type SnapshotInfo struct {
	Name      string
	Path      string
	Time      time.Time
	Seq       int
	SizeBytes int64
	FileCount int
}

// ListSnapshots enumerates committed snapshots under root with their size
// and file count, computed by a symlink-safe walk.
func ListSnapshots(root string) ([]SnapshotInfo, error) {
	names, err := listCommittedSnapshotNames(root)
	if err != nil {
		return nil, err
	}
	infos := make([]SnapshotInfo, 0, len(names))
	for _, name := range names {
		ts, seq, _ := ParseSnapshotName(name)
		path := filepath.Join(root, name)
		size, count, err := directoryStats(path)
		if err != nil {
			return nil, fmt.Errorf("stat snapshot %s: %w", name, err)
		}
		infos = append(infos, SnapshotInfo{
			Name: name, Path: path, Time: ts, Seq: seq,
			SizeBytes: size, FileCount: count,
		})
	}
	return infos, nil
}

func directoryStats(root string) (size int64, count int, err error) {
	visited := map[inodeKey]struct{}{}
	err = walkNoFollow(root, visited, func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			size += info.Size()
			count++
		}
		return nil
	})
	return size, count, err
}

// GetSnapshotByTimestamp returns SnapshotInfo for name iff it is a valid,
// committed snapshot under root.
func GetSnapshotByTimestamp(root, name string) (*SnapshotInfo, error) {
	if _, _, ok := ParseSnapshotName(name); !ok {
		return nil, nil
	}
	path := filepath.Join(root, name)
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !fi.IsDir() {
		return nil, nil
	}
	ts, seq, _ := ParseSnapshotName(name)
	size, count, err := directoryStats(path)
	if err != nil {
		return nil, err
	}
	return &SnapshotInfo{Name: name, Path: path, Time: ts, Seq: seq, SizeBytes: size, FileCount: count}, nil
}

// Restore copies relPath from inside snapshotPath to dest (or, if dest is
// empty, to sourceRootFallback/relPath). Directories overwrite their
// destination; files preserve metadata. Parent directories are created as
// needed.
func Restore(snapshotPath, relPath, dest, sourceRootFallback string) (bool, error) {
	src := filepath.Join(snapshotPath, relPath)
	if dest == "" {
		dest = filepath.Join(sourceRootFallback, relPath)
	}

	info, err := os.Lstat(src)
	if err != nil {
		return false, fmt.Errorf("stat restore source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("create destination parent: %w", err)
	}

	if info.IsDir() {
		if _, err := os.Lstat(dest); err == nil {
			if err := os.RemoveAll(dest); err != nil {
				return false, fmt.Errorf("remove existing destination tree: %w", err)
			}
		}
		if err := copyTree(src, dest); err != nil {
			return false, fmt.Errorf("copy tree: %w", err)
		}
		return true, nil
	}

	if err := copyFile(src, dest, info); err != nil {
		return false, fmt.Errorf("copy file: %w", err)
	}
	return true, nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info)
	})
}

func copyFile(src, dest string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// O_CREATE only applies the mode on creation; an existing dest keeps
	// its old bits unless chmodded explicitly.
	if err := os.Chmod(dest, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}

type fileMeta struct {
	path  string
	size  int64
	mtime time.Time
}

// Diff compares a committed snapshot against the current state of sources,
// classifying every relative path as added, deleted, or modified.
func Diff(snapshotPath string, sources []string) (added, deleted, modified []string, err error) {
	snapshotFiles, err := collectFiles(snapshotPath, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("walk snapshot: %w", err)
	}

	currentFiles := map[string]fileMeta{}
	for _, src := range sources {
		files, err := collectFiles(src, false)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("walk source %s: %w", src, err)
		}
		for rel, meta := range files {
			currentFiles[rel] = meta
		}
	}

	for rel := range currentFiles {
		if _, ok := snapshotFiles[rel]; !ok {
			added = append(added, rel)
		}
	}
	for rel := range snapshotFiles {
		if _, ok := currentFiles[rel]; !ok {
			deleted = append(deleted, rel)
		}
	}
	for rel, cur := range currentFiles {
		prev, ok := snapshotFiles[rel]
		if !ok {
			continue
		}
		if cur.size != prev.size {
			modified = append(modified, rel)
			continue
		}
		if !cur.mtime.Equal(prev.mtime) {
			differ, err := filesDiffer(prev.path, cur.path)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("compare %s: %w", rel, err)
			}
			if differ {
				modified = append(modified, rel)
			}
		}
	}

	sort.Strings(added)
	sort.Strings(deleted)
	sort.Strings(modified)
	return added, deleted, modified, nil
}

func collectFiles(root string, skipManifest bool) (map[string]fileMeta, error) {
	files := map[string]fileMeta{}
	visited := map[inodeKey]struct{}{}
	err := walkNoFollow(root, visited, func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skipManifest && rel == ManifestFilename {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		files[rel] = fileMeta{path: path, size: info.Size(), mtime: info.ModTime()}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return files, nil
}

func filesDiffer(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, checksumChunkSize)
	bufB := make([]byte, checksumChunkSize)
	for {
		na, errA := fa.Read(bufA)
		nb, errB := fb.Read(bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return true, nil
		}
		if errA == io.EOF && errB == io.EOF {
			return false, nil
		}
		if errA != nil && errA != io.EOF {
			return false, errA
		}
		if errB != nil && errB != io.EOF {
			return false, errB
		}
	}
}

// SearchHit is one match from Search.
type SearchHit struct {
	Snapshot  string
	Path      string
	SizeBytes int64
	MTime     string
}

// Search matches pattern against file basenames within snapshotName (or,
// if empty, every committed snapshot) using a symlink-safe walk.
func Search(root, pattern, snapshotName string) ([]SearchHit, error) {
	var names []string
	if snapshotName != "" {
		names = []string{snapshotName}
	} else {
		var err error
		names, err = listCommittedSnapshotNames(root)
		if err != nil {
			return nil, err
		}
	}

	var hits []SearchHit
	for _, name := range names {
		snapRoot := filepath.Join(root, name)
		visited := map[inodeKey]struct{}{}
		err := walkNoFollow(snapRoot, visited, func(path string, d fs.DirEntry) error {
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(snapRoot, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == ManifestFilename {
				return nil
			}
			matched, err := doublestar.Match(pattern, filepath.Base(rel))
			if err != nil || !matched {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			hits = append(hits, SearchHit{
				Snapshot:  name,
				Path:      rel,
				SizeBytes: info.Size(),
				MTime:     info.ModTime().UTC().Format(time.RFC3339),
			})
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("search snapshot %s: %w", name, err)
		}
	}
	return hits, nil
}
