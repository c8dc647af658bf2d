package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounceWindow coalesces the burst of write events most editors emit when
// saving a file.
const debounceWindow = 500 * time.Millisecond

// ProjectsWatcher watches the projects YAML file for changes and emits a
// reload signal when it is rewritten. The parent directory is watched
// rather than the file itself so atomic rename-into-place saves are seen.
type ProjectsWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	reload  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewProjectsWatcher creates a watcher for the given projects file. Call
// Start to begin receiving events.
func NewProjectsWatcher(path string) (*ProjectsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &ProjectsWatcher{
		watcher: w,
		path:    filepath.Clean(path),
		reload:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. Reload signals are delivered on Reload().
func (pw *ProjectsWatcher) Start() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(pw.path)
	if err := pw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	pw.running = true

	pw.wg.Add(1)
	go pw.loop()
	return nil
}

// Reload returns the channel signalled when the projects file changes.
func (pw *ProjectsWatcher) Reload() <-chan struct{} {
	return pw.reload
}

// Stop shuts the watcher down and releases its resources.
func (pw *ProjectsWatcher) Stop() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if !pw.running {
		return nil
	}
	close(pw.done)
	pw.wg.Wait()
	pw.running = false
	return pw.watcher.Close()
}

func (pw *ProjectsWatcher) loop() {
	defer pw.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-pw.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != pw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			log.WithField("path", pw.path).Info("projects file changed, signalling reload")
			select {
			case pw.reload <- struct{}{}:
			default:
			}

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("projects watcher error")
		}
	}
}
