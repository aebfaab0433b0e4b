package devbackup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetSnapshotsToKeepHourlyOnly(t *testing.T) {
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	var snaps []SnapshotInfo
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		snaps = append(snaps, SnapshotInfo{Name: ts.Format(TimestampFormat), Time: ts})
	}
	kept := GetSnapshotsToKeep(snaps, RetentionPolicy{Hourly: 2})
	if len(kept) != 2 {
		t.Fatalf("expected 2 kept, got %d: %v", len(kept), kept)
	}
	last := snaps[4].Name
	secondLast := snaps[3].Name
	if _, ok := kept[last]; !ok {
		t.Errorf("expected most recent %s kept", last)
	}
	if _, ok := kept[secondLast]; !ok {
		t.Errorf("expected second most recent %s kept", secondLast)
	}
}

func TestGetSnapshotsToKeepDailyAndWeekly(t *testing.T) {
	// One snapshot per day for 20 days, ending on a Wednesday.
	var snaps []SnapshotInfo
	mostRecent := time.Date(2025, 1, 22, 10, 0, 0, 0, time.UTC) // Wednesday
	for i := 0; i < 20; i++ {
		ts := mostRecent.AddDate(0, 0, -i)
		snaps = append(snaps, SnapshotInfo{Name: ts.Format(TimestampFormat), Time: ts})
	}
	kept := GetSnapshotsToKeep(snaps, RetentionPolicy{Daily: 3, Weekly: 2})

	// 3 most recent days should each contribute their (only) snapshot.
	for i := 0; i < 3; i++ {
		name := snaps[i].Name
		if _, ok := kept[name]; !ok {
			t.Errorf("expected day-%d snapshot %s kept", i, name)
		}
	}
	if len(kept) == 0 {
		t.Fatal("expected non-empty kept set")
	}
}

func TestGetProtectedSnapshotsOnlyWhenInProgressExists(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "2025-01-01-000000"), 0o755)

	protected, err := GetProtectedSnapshots(root, "2025-01-01-000000")
	if err != nil {
		t.Fatal(err)
	}
	if len(protected) != 0 {
		t.Fatalf("expected no protection without an in_progress dir, got %v", protected)
	}

	os.MkdirAll(filepath.Join(root, InProgressPrefix+"2025-01-02-000000"), 0o755)
	protected, err = GetProtectedSnapshots(root, "2025-01-01-000000")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := protected["2025-01-01-000000"]; !ok {
		t.Fatalf("expected most recent snapshot protected while in_progress exists, got %v", protected)
	}
}

func TestApplyRetentionScenarioD(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	var names []string
	for i := 4; i >= 0; i-- {
		ts := base.AddDate(0, 0, -i)
		name := ts.Format(TimestampFormat)
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	if err := os.MkdirAll(filepath.Join(root, InProgressPrefix+"current"), 0o755); err != nil {
		t.Fatal(err)
	}

	kept, deleted, _, err := ApplyRetention(root, RetentionPolicy{})
	if err != nil {
		t.Fatalf("apply retention: %v", err)
	}

	mostRecent := names[len(names)-1]
	foundKept := false
	for _, k := range kept {
		if k == mostRecent {
			foundKept = true
		}
	}
	if !foundKept {
		t.Fatalf("expected most recent snapshot %s protected and kept, got kept=%v", mostRecent, kept)
	}
	if len(deleted) != 4 {
		t.Fatalf("expected 4 deletions, got %d: %v", len(deleted), deleted)
	}
	if _, err := os.Stat(filepath.Join(root, InProgressPrefix+"current")); err != nil {
		t.Fatalf("expected in_progress directory untouched by retention: %v", err)
	}
}
