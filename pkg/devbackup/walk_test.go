package devbackup

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWalkNoFollowSkipsSymlinkedDirectories(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "loop")
	if err := os.Symlink(root, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	var visitedPaths []string
	visited := map[inodeKey]struct{}{}
	if err := walkNoFollow(root, visited, func(path string, d fs.DirEntry) error {
		visitedPaths = append(visitedPaths, path)
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	found := false
	for _, p := range visitedPaths {
		if p == filepath.Join(sub, "a.txt") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find a.txt, visited: %v", visitedPaths)
	}
	for _, p := range visitedPaths {
		if strings.HasPrefix(p, link+string(os.PathSeparator)) {
			t.Fatalf("expected symlinked directory %s not to be descended, visited %s", link, p)
		}
	}
}

func TestWalkNoFollowCircularSymlink(t *testing.T) {
	root := t.TempDir()
	b := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(b, 0o755); err != nil {
		t.Fatal(err)
	}
	loopLink := filepath.Join(b, "back-to-root")
	if err := os.Symlink(root, loopLink); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	count := 0
	visited := map[inodeKey]struct{}{}
	err := walkNoFollow(root, visited, func(path string, d fs.DirEntry) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
	if count == 0 {
		t.Fatal("expected at least the 'a' directory to be visited")
	}
}
