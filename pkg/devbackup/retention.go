package devbackup

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// GetSnapshotsToKeep computes the kept set for policy as the union of:
// the H lexicographically-greatest names, the earliest snapshot of each
// of the last D calendar days counted back from the most recent
// snapshot's date, and the earliest snapshot of each of the last W
// Sunday-anchored weeks counted back from the week containing the most
// recent snapshot.
func GetSnapshotsToKeep(snapshots []SnapshotInfo, policy RetentionPolicy) map[string]struct{} {
	kept := map[string]struct{}{}
	if len(snapshots) == 0 {
		return kept
	}

	sorted := append([]SnapshotInfo(nil), snapshots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name > sorted[j].Name })

	for i := 0; i < policy.Hourly && i < len(sorted); i++ {
		kept[sorted[i].Name] = struct{}{}
	}

	mostRecent := sorted[0].Time

	for d := 0; d < policy.Daily; d++ {
		day := mostRecent.AddDate(0, 0, -d)
		y, m, dd := day.Date()
		var earliest *SnapshotInfo
		for i := range sorted {
			sy, sm, sd := sorted[i].Time.Date()
			if sy == y && sm == m && sd == dd {
				if earliest == nil || sorted[i].Time.Before(earliest.Time) {
					earliest = &sorted[i]
				}
			}
		}
		if earliest != nil {
			kept[earliest.Name] = struct{}{}
		}
	}

	mostRecentWeekStart := weekStart(mostRecent)
	for w := 0; w < policy.Weekly; w++ {
		wStart := mostRecentWeekStart.AddDate(0, 0, -7*w)
		wEnd := wStart.AddDate(0, 0, 7)
		var earliest *SnapshotInfo
		for i := range sorted {
			t := sorted[i].Time
			if !t.Before(wStart) && t.Before(wEnd) {
				if earliest == nil || t.Before(earliest.Time) {
					earliest = &sorted[i]
				}
			}
		}
		if earliest != nil {
			kept[earliest.Name] = struct{}{}
		}
	}

	return kept
}

// weekStart returns Sunday 00:00:00 local time of the week containing t.
func weekStart(t time.Time) time.Time {
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return midnight.AddDate(0, 0, -int(midnight.Weekday()))
}

// GetProtectedSnapshots returns the snapshots that must not be deleted
// because an active run depends on them: the most recent committed
// snapshot, but only while at least one in_progress_* directory exists
// under root (it is that run's link-dest target).
func GetProtectedSnapshots(root, mostRecentName string) (map[string]struct{}, error) {
	protected := map[string]struct{}{}
	if mostRecentName == "" {
		return protected, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return protected, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), InProgressPrefix) {
			protected[mostRecentName] = struct{}{}
			break
		}
	}
	return protected, nil
}

// ApplyRetention enumerates committed snapshots, computes the kept and
// protected sets, and deletes everything else recursively. A deletion
// that fails reverts that snapshot to "kept" rather than failing the
// whole operation.
func ApplyRetention(root string, policy RetentionPolicy) (kept, deleted []string, freedBytes int64, err error) {
	infos, err := ListSnapshots(root)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(infos) == 0 {
		return nil, nil, 0, nil
	}

	keptSet := GetSnapshotsToKeep(infos, policy)
	protectedSet, err := GetProtectedSnapshots(root, infos[0].Name)
	if err != nil {
		return nil, nil, 0, err
	}

	for _, info := range infos {
		_, isKept := keptSet[info.Name]
		_, isProtected := protectedSet[info.Name]
		if isKept || isProtected {
			kept = append(kept, info.Name)
			continue
		}
		if err := os.RemoveAll(filepath.Clean(info.Path)); err != nil {
			kept = append(kept, info.Name)
			continue
		}
		deleted = append(deleted, info.Name)
		freedBytes += info.SizeBytes
	}
	return kept, deleted, freedBytes, nil
}
