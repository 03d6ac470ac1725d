package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const testDebounce = 100 * time.Millisecond

type changes struct {
	mu    sync.Mutex
	paths []string
}

func (c *changes) record(path string) {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
}

func (c *changes) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func startWatcher(t *testing.T, files []string, c *changes) *Watcher {
	t.Helper()
	w := NewWatcher(files, c.record, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Bookmarks")
	if err := writeFile(file, "{}"); err != nil {
		t.Fatal(err)
	}
	c := &changes{}
	startWatcher(t, []string{file}, c)

	for i := 0; i < 5; i++ {
		if err := writeFile(file, `{"roots":{}}`); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(4 * testDebounce)

	got := c.get()
	if len(got) != 1 {
		t.Fatalf("expected one debounced change, got %v", got)
	}
	if got[0] != filepath.Clean(file) {
		t.Errorf("change path = %s, want %s", got[0], file)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Bookmarks")
	if err := writeFile(file, "{}"); err != nil {
		t.Fatal(err)
	}
	c := &changes{}
	startWatcher(t, []string{file}, c)

	if err := writeFile(filepath.Join(dir, "History"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * testDebounce)
	if got := c.get(); len(got) != 0 {
		t.Errorf("expected no changes, got %v", got)
	}
}

func TestWatcher_FollowsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Bookmarks")
	if err := writeFile(file, "{}"); err != nil {
		t.Fatal(err)
	}
	c := &changes{}
	startWatcher(t, []string{file}, c)

	tmp := filepath.Join(dir, "Bookmarks.tmp")
	if err := writeFile(tmp, `{"roots":{}}`); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, file); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * testDebounce)
	if got := c.get(); len(got) != 1 {
		t.Errorf("expected one change after replace, got %v", got)
	}
}

func TestWatcher_AddRemoveFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.html")
	second := filepath.Join(dir, "b.html")
	c := &changes{}
	w := startWatcher(t, []string{first}, c)

	if err := w.AddFile(second); err != nil {
		t.Fatal(err)
	}
	if got := w.Files(); len(got) != 2 || got[0] != first || got[1] != second {
		t.Errorf("Files() = %v", got)
	}

	if err := w.RemoveFile(first); err != nil {
		t.Fatal(err)
	}
	if got := w.Files(); len(got) != 1 || got[0] != second {
		t.Errorf("after remove: %v", got)
	}

	// The directory is still watched for the remaining file.
	if err := writeFile(second, "<dl></dl>"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(first, "<dl></dl>"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * testDebounce)
	got := c.get()
	if len(got) != 1 || got[0] != second {
		t.Errorf("changes = %v, want only %s", got, second)
	}
}

func TestWatcher_StartFailsForMissingDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "missing", "Bookmarks")
	w := NewWatcher([]string{file}, nil)
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for missing directory")
	}
}

func TestWatcher_StopDropsPendingChanges(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Bookmarks")
	c := &changes{}
	w := NewWatcher([]string{file}, c.record, WithDebounce(testDebounce))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(file, "{}"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(testDebounce / 4)
	w.Stop()
	time.Sleep(3 * testDebounce)
	if got := c.get(); len(got) != 0 {
		t.Errorf("expected no changes after Stop, got %v", got)
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
