// Package snapshot captures and restores a content copy of the working tree
// for the repair loop's per-attempt rollback. It prefers rsync's incremental
// mirroring when available and falls back to a recursive copy using
// filepath.WalkDir.
package snapshot

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"
)

// DefaultExcludeGlobs are the directories never copied into or restored from
// a snapshot: version control metadata, third-party packages, framework
// build output, and the tool's own artifact directory.
var DefaultExcludeGlobs = []string{
	".git/**",
	"node_modules/**",
	"dist/**",
	"build/**",
	".next/**",
	"coverage/**",
	".quick-gate/**",
}

// Snapshot represents one captured copy of a working tree.
type Snapshot struct {
	Dir          string // the backup directory's path
	Source       string // the working tree it was taken from
	ExcludeGlobs []string
}

// backupDirName follows the fixed "backup-attempt-<N>" naming the repair
// loop's attempt log references.
func backupDirName(attempt int) string {
	return fmt.Sprintf("backup-attempt-%d", attempt)
}

// Take captures cwd into backupRoot/backup-attempt-<attempt>, excluding
// excludeGlobs (relative to cwd, doublestar patterns). A nil excludeGlobs
// uses DefaultExcludeGlobs.
func Take(cwd, backupRoot string, attempt int, excludeGlobs []string) (*Snapshot, error) {
	if excludeGlobs == nil {
		excludeGlobs = DefaultExcludeGlobs
	}
	dest := filepath.Join(backupRoot, backupDirName(attempt))
	if err := os.RemoveAll(dest); err != nil {
		return nil, fmt.Errorf("snapshot: clear stale backup: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create backup dir: %w", err)
	}

	if err := mirror(cwd, dest, excludeGlobs); err != nil {
		return nil, err
	}
	return &Snapshot{Dir: dest, Source: cwd, ExcludeGlobs: excludeGlobs}, nil
}

// Restore overwrites s.Source from s.Dir, leaving excluded paths in Source
// untouched.
func (s *Snapshot) Restore() error {
	return mirror(s.Dir, s.Source, s.ExcludeGlobs)
}

// Checksum returns a blake3 digest over every file in the snapshot (path and
// content, in sorted path order), letting a caller confirm two snapshots are
// byte-identical without diffing the whole tree.
func (s *Snapshot) Checksum() (string, error) {
	var paths []string
	err := filepath.WalkDir(s.Dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("snapshot: checksum walk: %w", err)
	}
	sort.Strings(paths)

	h := blake3.New()
	for _, rel := range paths {
		h.Write([]byte(rel))
		h.Write([]byte{0})
		if err := hashFile(h, filepath.Join(s.Dir, rel)); err != nil {
			return "", fmt.Errorf("snapshot: checksum %s: %w", rel, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// mirror synchronizes dest to match src, excluding any path matching
// excludeGlobs. It prefers rsync when present on PATH for incremental
// copies; otherwise it falls back to a recursive walk-and-copy, pruning
// files that no longer exist in src.
func mirror(src, dest string, excludeGlobs []string) error {
	if _, err := exec.LookPath("rsync"); err == nil {
		return mirrorRsync(src, dest, excludeGlobs)
	}
	return mirrorCopy(src, dest, excludeGlobs)
}

func mirrorRsync(src, dest string, excludeGlobs []string) error {
	args := []string{"-a", "--delete"}
	for _, g := range excludeGlobs {
		// rsync's "dir/**" excludes only the directory's contents; "dir/***"
		// excludes the directory itself as well, as the copy fallback does.
		if strings.HasSuffix(g, "/**") {
			g += "*"
		}
		args = append(args, "--exclude", g)
	}
	args = append(args, strings.TrimSuffix(src, "/")+"/", strings.TrimSuffix(dest, "/")+"/")
	cmd := exec.Command("rsync", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("snapshot: rsync failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func mirrorCopy(src, dest string, excludeGlobs []string) error {
	if err := copyTree(src, dest, excludeGlobs); err != nil {
		return err
	}
	return pruneStale(src, dest, excludeGlobs)
}

func copyTree(src, dest string, excludeGlobs []string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(rel, d.IsDir(), excludeGlobs) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

// pruneStale removes files/directories under dest that no longer exist
// under src, so dest exactly mirrors src (restore semantics require this:
// a file created since the snapshot must be gone after Restore).
func pruneStale(src, dest string, excludeGlobs []string) error {
	return filepath.WalkDir(dest, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, err := filepath.Rel(dest, path)
		if err != nil || rel == "." {
			return nil
		}
		if excluded(rel, d.IsDir(), excludeGlobs) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		srcPath := filepath.Join(src, rel)
		if _, err := os.Stat(srcPath); os.IsNotExist(err) {
			if d.IsDir() {
				_ = os.RemoveAll(path)
				return filepath.SkipDir
			}
			return os.Remove(path)
		}
		return nil
	})
}

func excluded(rel string, isDir bool, excludeGlobs []string) bool {
	candidate := filepath.ToSlash(rel)
	if isDir {
		candidate += "/"
	}
	for _, g := range excludeGlobs {
		if ok, _ := doublestar.Match(g, candidate); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, candidate+"**"); isDir && ok {
			return true
		}
	}
	return false
}

func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

