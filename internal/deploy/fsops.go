package deploy

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
)

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ClearDir removes every top-level entry of dir except hidden ones, so a
// repository's .git survives.
func ClearDir(dir string) (err error) {
	entries, rerr := os.ReadDir(dir)
	if rerr != nil {
		return fmt.Errorf("failed to read %s: %w", dir, rerr)
	}

	for _, e := range entries {
		if isHidden(e.Name()) {
			continue
		}
		err = multierr.Append(err, os.RemoveAll(filepath.Join(dir, e.Name())))
	}
	return
}

// CopyTree copies every non-hidden top-level entry of src into dst,
// recursively. Hidden files below the top level are copied too.
func CopyTree(src, dst string) (err error) {
	entries, rerr := os.ReadDir(src)
	if rerr != nil {
		return fmt.Errorf("failed to read %s: %w", src, rerr)
	}

	for _, e := range entries {
		if isHidden(e.Name()) {
			continue
		}
		err = multierr.Append(err, copyEntry(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())))
	}
	return
}

func copyEntry(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(target, out)
		case d.IsDir():
			return os.MkdirAll(out, info.Mode().Perm()|0o700)
		default:
			return copyFile(p, out, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()

	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return
	}
	return out.Close()
}

// SweepResult lists what one sweep removed and what it failed to remove.
type SweepResult struct {
	Pattern string
	Removed []string
	Err     error
}

// Sweep removes every non-directory under dir whose relative path, written
// as "./rel/path", contains pattern. Directories are left in place.
func Sweep(dir, pattern string) (res SweepResult) {
	res.Pattern = pattern

	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			res.Err = multierr.Append(res.Err, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = "./" + filepath.ToSlash(rel)
		if !strings.Contains(rel, pattern) {
			return nil
		}

		if err := os.Remove(p); err != nil {
			res.Err = multierr.Append(res.Err, err)
			return nil
		}
		res.Removed = append(res.Removed, rel)
		return nil
	})
	res.Err = multierr.Append(res.Err, walkErr)
	return
}

// ListFiles returns the slash-separated paths of all regular files under
// root/sub, relative to root. Each directory lists its own files before those
// of its subdirectories, both in name order. A missing sub yields no files.
func ListFiles(root, sub string) (files []string, err error) {
	base := filepath.Join(root, sub)
	if _, serr := os.Stat(base); os.IsNotExist(serr) {
		return nil, nil
	}

	err = listDir(root, base, &files)
	return
}

func listDir(root, dir string, files *[]string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var subdirs []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			subdirs = append(subdirs, p)
			continue
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		*files = append(*files, filepath.ToSlash(rel))
	}

	for _, d := range subdirs {
		if err := listDir(root, d, files); err != nil {
			return err
		}
	}
	return nil
}
