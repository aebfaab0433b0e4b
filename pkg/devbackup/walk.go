package devbackup

import (
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// inodeKey identifies a directory by device+inode so a walk can detect
// that it has revisited a directory through a circular symlink.
type inodeKey struct {
	dev uint64
	ino uint64
}

func inodeKeyFor(info os.FileInfo) (inodeKey, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return inodeKey{}, false
	}
	return inodeKey{dev: uint64(stat.Dev), ino: stat.Ino}, true
}

// walkNoFollow walks root depth-first without following symbolic links,
// tracking visited directory inodes so a circular symlink cannot cause an
// infinite loop. visited is shared across the whole call and may be
// pre-populated by the caller to continue a walk across multiple roots.
// fn is called for every entry (including directories) except root itself.
func walkNoFollow(root string, visited map[inodeKey]struct{}, fn func(path string, d fs.DirEntry) error) error {
	rootInfo, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if key, ok := inodeKeyFor(rootInfo); ok {
		if _, seen := visited[key]; seen {
			return nil
		}
		visited[key] = struct{}{}
	}
	return walkDir(root, visited, fn)
}

func walkDir(dir string, visited map[inodeKey]struct{}, fn func(path string, d fs.DirEntry) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return err
		}
		isSymlink := info.Mode()&os.ModeSymlink != 0
		if err := fn(path, entry); err != nil {
			return err
		}
		if !entry.IsDir() || isSymlink {
			continue
		}
		if key, ok := inodeKeyFor(info); ok {
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
		}
		if err := walkDir(path, visited, fn); err != nil {
			return err
		}
	}
	return nil
}
