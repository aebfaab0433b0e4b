package devbackup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBackupQueueFIFOAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")

	q, err := NewBackupQueue(path, nil)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	for i := 0; i < 3; i++ {
		item := QueuedBackup{BackupDestination: "/dest", Reason: "destination_unavailable"}
		if err := q.Enqueue(item); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if q.Size() != 3 {
		t.Fatalf("expected size 3, got %d", q.Size())
	}

	// Reopen to confirm durable persistence across instances.
	q2, err := NewBackupQueue(path, nil)
	if err != nil {
		t.Fatalf("reopen queue: %v", err)
	}
	if q2.Size() != 3 {
		t.Fatalf("expected reopened size 3, got %d", q2.Size())
	}

	for i := 0; i < 3; i++ {
		item, ok, err := q2.Dequeue()
		if err != nil || !ok {
			t.Fatalf("dequeue %d: ok=%v err=%v", i, ok, err)
		}
		if item.BackupDestination != "/dest" {
			t.Fatalf("unexpected item: %+v", item)
		}
	}
	if !q2.IsEmpty() {
		t.Fatal("expected queue to be empty after draining")
	}
}

func TestBackupQueueCorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	q, err := NewBackupQueue(path, nil)
	if err != nil {
		t.Fatalf("expected corrupt file to load as empty queue, got err: %v", err)
	}
	if !q.IsEmpty() {
		t.Fatal("expected empty queue from corrupt file")
	}
}

func TestBackupQueueIncrementRetryReappendsAtTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	q, err := NewBackupQueue(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	first := QueuedBackup{BackupDestination: "/a"}
	second := QueuedBackup{BackupDestination: "/b"}
	q.Enqueue(first)
	q.Enqueue(second)

	dequeued, _, _ := q.Dequeue() // first ("/a")
	updated, err := q.IncrementRetry(dequeued)
	if err != nil {
		t.Fatal(err)
	}
	if updated.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", updated.RetryCount)
	}

	all := q.GetAll()
	if len(all) != 2 || all[0].BackupDestination != "/b" || all[1].BackupDestination != "/a" {
		t.Fatalf("expected [/b, /a] after re-append to tail, got %+v", all)
	}
}

func TestBackupQueueRemoveByDestination(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	q, _ := NewBackupQueue(path, nil)
	q.Enqueue(QueuedBackup{BackupDestination: "/a"})
	q.Enqueue(QueuedBackup{BackupDestination: "/b"})
	q.Enqueue(QueuedBackup{BackupDestination: "/a"})

	if err := q.RemoveByDestination("/a"); err != nil {
		t.Fatal(err)
	}
	all := q.GetAll()
	if len(all) != 1 || all[0].BackupDestination != "/b" {
		t.Fatalf("expected only /b remaining, got %+v", all)
	}
}
