// Package watch follows an installed build and reacts when it is replaced.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for a burst of writes to settle
const DefaultDebounce = 500 * time.Millisecond

// changeOps are the operations that can mean a build file was replaced
const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// buildWatcher follows a fixed set of build paths. The parent directories
// are watched so a path replaced by rename is still seen.
type buildWatcher struct {
	fs      *fsnotify.Watcher
	targets map[string]bool
	ignored []string
	logger  *zap.Logger
}

func newBuildWatcher(targets, ignored []string, logger *zap.Logger) (*buildWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bw := &buildWatcher{
		targets: make(map[string]bool, len(targets)),
		ignored: ignored,
		logger:  logger,
	}
	for _, t := range targets {
		bw.targets[filepath.Clean(t)] = true
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start fsnotify: %w", err)
	}
	dirs := bw.directories()
	for t := range bw.targets {
		if info, err := os.Stat(t); err == nil && info.IsDir() {
			dirs = append(dirs, t)
		}
	}
	for _, dir := range dirs {
		if err := fs.Add(dir); err != nil {
			fs.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logger.Debug("watching directory", zap.String("dir", dir))
	}
	bw.fs = fs
	return bw, nil
}

// run blocks until ctx is done. Changed targets are gathered into a batch
// that is handed to onBatch once no event has arrived for settle.
func (bw *buildWatcher) run(ctx context.Context, settle time.Duration, onBatch func([]string)) error {
	defer bw.fs.Close()
	if settle <= 0 {
		settle = DefaultDebounce
	}

	pending := make(map[string]struct{})
	quiet := time.NewTimer(settle)
	if !quiet.Stop() {
		<-quiet.C
	}

	for {
		select {
		case <-ctx.Done():
			quiet.Stop()
			return nil

		case ev, ok := <-bw.fs.Events:
			if !ok {
				return nil
			}
			if !bw.relevant(ev) {
				continue
			}
			bw.logger.Debug("build file changed", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			pending[filepath.Clean(ev.Name)] = struct{}{}
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(settle)

		case err, ok := <-bw.fs.Errors:
			if !ok {
				return nil
			}
			bw.logger.Warn("fsnotify error", zap.Error(err))

		case <-quiet.C:
			if len(pending) == 0 {
				continue
			}
			onBatch(drain(pending))
		}
	}
}

// drain empties pending and returns its keys in order
func drain(pending map[string]struct{}) []string {
	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
		delete(pending, f)
	}
	sort.Strings(files)
	return files
}

func (bw *buildWatcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&changeOps == 0 || bw.scratch(ev.Name) {
		return false
	}
	name := filepath.Clean(ev.Name)
	if bw.targets[name] {
		return true
	}
	// anything under a watched side store directory counts
	for t := range bw.targets {
		if strings.HasPrefix(name, t+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// scratch reports editor and installer temporaries
func (bw *buildWatcher) scratch(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, "~") {
		return true
	}
	for _, glob := range bw.ignored {
		if ok, _ := filepath.Match(glob, base); ok {
			return true
		}
	}
	return false
}

// directories returns the distinct parents of the targets, sorted
func (bw *buildWatcher) directories() []string {
	seen := make(map[string]bool)
	var dirs []string
	for t := range bw.targets {
		if d := filepath.Dir(t); !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	sort.Strings(dirs)
	return dirs
}
