package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProjectsWatcher_SignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yml")
	if err := os.WriteFile(path, []byte("projects: []\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	watcher, err := NewProjectsWatcher(path)
	if err != nil {
		t.Fatalf("NewProjectsWatcher() error = %v", err)
	}
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("projects:\n  - adoProjectName: A\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case <-watcher.Reload():
	case <-time.After(3 * time.Second):
		t.Fatal("no reload signal after the projects file was rewritten")
	}
}

func TestProjectsWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yml")
	if err := os.WriteFile(path, []byte("projects: []\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	watcher, err := NewProjectsWatcher(path)
	if err != nil {
		t.Fatalf("NewProjectsWatcher() error = %v", err)
	}
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case <-watcher.Reload():
		t.Fatal("reload signalled for an unrelated file")
	case <-time.After(1 * time.Second):
	}
}

func TestProjectsWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.yml")
	watcher, err := NewProjectsWatcher(path)
	if err != nil {
		t.Fatalf("NewProjectsWatcher() error = %v", err)
	}
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
