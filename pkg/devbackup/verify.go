package devbackup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ManifestFilename is the well-known name of the integrity manifest stored
// inside every committed snapshot.
const ManifestFilename = ".devbackup_manifest.json"

const checksumChunkSize = 8192

// FileChecksum is one per-file record inside a Manifest.
type FileChecksum struct {
	Path   string  `json:"path"`
	Size   int64   `json:"size"`
	MTime  float64 `json:"mtime"`
	SHA256 string  `json:"sha256"`
}

// Manifest is the integrity record persisted inside a committed snapshot.
type Manifest struct {
	SnapshotName string         `json:"snapshot_name"`
	CreatedAt    string         `json:"created_at"`
	FileCount    int            `json:"file_count"`
	TotalSize    int64          `json:"total_size"`
	Checksums    []FileChecksum `json:"checksums"`
}

// VerificationResult is the outcome of VerifySnapshot.
type VerificationResult struct {
	Success        bool
	FilesVerified  int
	FilesFailed    int
	MissingFiles   []string
	CorruptedFiles []string
	Errors         []string
}

// CreateManifest walks snapshotRoot, skipping the manifest file itself, and
// builds a Manifest whose checksums are SHA-256 over each regular file's
// full contents, streamed in fixed-size chunks to bound memory.
func CreateManifest(snapshotName, snapshotRoot string) (*Manifest, error) {
	checksums := []FileChecksum{}
	var totalSize int64

	visited := map[inodeKey]struct{}{}
	err := walkNoFollow(snapshotRoot, visited, func(path string, d fs.DirEntry) error {
		rel, err := filepath.Rel(snapshotRoot, path)
		if err != nil {
			return err
		}
		if rel == ManifestFilename {
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := sha256File(path)
		if err != nil {
			return err
		}
		checksums = append(checksums, FileChecksum{
			Path:   filepath.ToSlash(rel),
			Size:   info.Size(),
			MTime:  float64(info.ModTime().UnixNano()) / 1e9,
			SHA256: sum,
		})
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk snapshot for manifest: %w", err)
	}

	sort.Slice(checksums, func(i, j int) bool { return checksums[i].Path < checksums[j].Path })

	return &Manifest{
		SnapshotName: snapshotName,
		CreatedAt:    time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		FileCount:    len(checksums),
		TotalSize:    totalSize,
		Checksums:    checksums,
	}, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, checksumChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SaveManifest persists m at snapshotRoot/.devbackup_manifest.json
// atomically: write to a sibling temp file, then rename over the final
// name, which is assumed atomic on the same filesystem.
func SaveManifest(snapshotRoot string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	final := filepath.Join(snapshotRoot, ManifestFilename)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename manifest into place: %w", err)
	}
	return nil
}

// LoadManifest reads and parses the manifest at snapshotRoot. Returns
// (nil, nil) if the manifest file does not exist or cannot be parsed;
// callers distinguish "absent" from "I/O error" by checking err.
func LoadManifest(snapshotRoot string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(snapshotRoot, ManifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil
	}
	return &m, nil
}

// VerifySnapshot recomputes checksums for every manifested file (optionally
// restricted to those matching pattern, see matchesGlob) and compares them
// against the stored manifest. It is read-only and side-effect-free.
func VerifySnapshot(snapshotRoot, pattern string) (VerificationResult, error) {
	m, err := LoadManifest(snapshotRoot)
	if err != nil {
		return VerificationResult{}, err
	}
	if m == nil {
		return VerificationResult{
			Success: false,
			Errors:  []string{"manifest not found"},
		}, nil
	}

	result := VerificationResult{Success: true}
	for _, fc := range m.Checksums {
		if pattern != "" {
			match, err := matchesGlob(pattern, fc.Path)
			if err != nil || !match {
				continue
			}
		}
		full := filepath.Join(snapshotRoot, filepath.FromSlash(fc.Path))
		sum, err := sha256File(full)
		switch {
		case os.IsNotExist(err):
			result.MissingFiles = append(result.MissingFiles, fc.Path)
			result.FilesFailed++
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", fc.Path, err))
			result.FilesFailed++
		case sum != fc.SHA256:
			result.CorruptedFiles = append(result.CorruptedFiles, fc.Path)
			result.FilesFailed++
		default:
			result.FilesVerified++
		}
	}

	result.Success = len(result.MissingFiles) == 0 && len(result.CorruptedFiles) == 0 && len(result.Errors) == 0
	return result, nil
}

// matchesGlob matches pattern against a manifest-relative path. Patterns
// without "**" or "/" are matched against the basename only, preserving
// the original single-segment fnmatch semantics; patterns that use
// doublestar syntax match the full relative path.
func matchesGlob(pattern, relPath string) (bool, error) {
	if !strings.Contains(pattern, "/") && !strings.Contains(pattern, "**") {
		return doublestar.Match(pattern, filepath.Base(relPath))
	}
	return doublestar.Match(pattern, relPath)
}
