package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// sourceWatcher triggers a redeploy once the source tree has been quiet for
// the debounce period.
type sourceWatcher struct {
	root     string
	exclude  string
	debounce time.Duration
	add      func(path string) error
	redeploy func()
}

func watchSource(ctx context.Context, srcDir, destDir string, debounce time.Duration, redeploy func()) (err error) {
	var w *fsnotify.Watcher
	if w, err = fsnotify.NewWatcher(); err != nil {
		err = fmt.Errorf("failed to create watcher: %w", err)
		return
	}
	defer w.Close()

	sw := &sourceWatcher{
		root:     absOrSelf(srcDir),
		exclude:  absOrSelf(destDir),
		debounce: debounce,
		add:      w.Add,
		redeploy: redeploy,
	}
	if err = sw.addTree(sw.root); err != nil {
		return
	}

	zap.L().Info("watching source tree", zap.String("root", sw.root), zap.Duration("debounce", debounce))
	return sw.loop(ctx, w.Events, w.Errors)
}

func absOrSelf(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// ignored reports events on hidden paths, inside the destination, or that
// only touch permissions.
func (sw *sourceWatcher) ignored(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return true
	}

	name := absOrSelf(ev.Name)
	if name == sw.exclude || strings.HasPrefix(name, sw.exclude+string(filepath.Separator)) {
		return true
	}

	rel, err := filepath.Rel(sw.root, name)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

func (sw *sourceWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if p == sw.exclude {
			return filepath.SkipDir
		}
		if err := sw.add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func (sw *sourceWatcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("watch stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if sw.ignored(ev) {
				continue
			}
			zap.L().Debug("source changed", zap.String("path", ev.Name), zap.Stringer("op", ev.Op))

			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := sw.addTree(ev.Name); err != nil {
						zap.L().Warn("failed to watch new directory", zap.Error(err))
					}
				}
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(sw.debounce)
			fire = timer.C
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			zap.L().Warn("watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			zap.L().Info("redeploying")
			sw.redeploy()
		}
	}
}
