package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/githistory/internal/debounce"
	"github.com/thiagokokada/githistory/internal/git"
)

// Watch reports repository changes on the returned channel until ctx is
// done. Bursts of file system events within the configured watch delay
// arrive as one notification. Only repositories on disk can be watched.
func (e *Engine) Watch(ctx context.Context) (<-chan struct{}, error) {
	gitDir, ok := e.repo.GitDir()
	if !ok {
		return nil, git.NewError(git.KindInternal, "watch repository", e.repo.RepoPath(),
			fmt.Errorf("repository is not stored on disk"))
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, git.NewError(git.KindIOFailure, "watch repository", gitDir, err)
	}
	for _, p := range watchPaths(e.repo.RepoPath(), gitDir) {
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, git.NewError(git.KindIOFailure, "watch repository", p, err)
		}
		slog.Debug("watching path", slog.String("path", p))
	}

	out := make(chan struct{}, 1)
	var (
		mu     sync.Mutex
		closed bool
	)
	notify := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- struct{}{}:
		default:
		}
	}
	changes := debounce.New(e.settings.WatchDelay, func(events int) {
		slog.Debug("repository changed", slog.Int("events", events))
		// refs or the index may have moved
		e.walker.Reset()
		notify()
	})

	go func() {
		defer func() {
			changes.Stop()
			watcher.Close()
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if shouldIgnoreWatchPath(ev.Name) {
					continue
				}
				slog.Debug("fsnotify event",
					slog.String("op", ev.Op.String()),
					slog.String("path", ev.Name),
				)
				changes.Trigger()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("fsnotify error", slog.Any("error", err))
			}
		}
	}()
	return out, nil
}

// watchPaths lists the work tree root, the git directory and the branch
// refs directory. fsnotify does not recurse.
func watchPaths(root, gitDir string) []string {
	var paths []string
	seen := map[string]struct{}{}
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			return
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	add(root)
	add(gitDir)
	add(filepath.Join(gitDir, "refs", "heads"))
	return paths
}

func shouldIgnoreWatchPath(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".lock" || ext == ".ipc"
}
