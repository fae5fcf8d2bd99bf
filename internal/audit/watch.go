package audit

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/csa-dev/csa/internal/csaerr"
)

// debounceWindow coalesces a burst of filesystem events (e.g. a git
// checkout touching hundreds of files) into a single rescan.
const debounceWindow = 500 * time.Millisecond

// Watch watches root for filesystem changes and calls onChange (at most
// once per debounceWindow) until ctx is cancelled. Intended to drive a
// manifest rescan in response to live edits, rather than only on demand.
func Watch(ctx context.Context, root string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return csaerr.Wrap(csaerr.IoError, "create audit file watcher", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, root); err != nil {
		return err
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, statErr := statDir(event.Name); statErr == nil && info {
					_ = watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.AfterFunc(debounceWindow, onChange)
			} else {
				timer.Reset(debounceWindow)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			auditLog.Warn("audit watcher error", "error", watchErr.Error())
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	entries, err := listDirsRecursive(root)
	if err != nil {
		return csaerr.Wrap(csaerr.IoError, "enumerate directories to watch", err)
	}
	for _, dir := range entries {
		if err := watcher.Add(dir); err != nil {
			return csaerr.Wrap(csaerr.IoError, "watch directory "+dir, err)
		}
	}
	return nil
}

func listDirsRecursive(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skippedDirs[d.Name()] {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
