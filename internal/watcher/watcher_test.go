package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestNewFileWatcherRejectsZeroDelay(t *testing.T) {
	_, err := NewFileWatcher(0)
	assert.Error(t, err)
}

func TestAddRecursive(t *testing.T) {
	watcher, err := NewFileWatcher(100 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Stop()

	tempDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "partials", "nested"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, ".cache"), 0755))

	require.NoError(t, watcher.AddRecursive(tempDir))

	list := watcher.WatchList()
	assert.Contains(t, list, tempDir)
	assert.Contains(t, list, filepath.Join(tempDir, "partials"))
	assert.Contains(t, list, filepath.Join(tempDir, "partials", "nested"))
	assert.NotContains(t, list, filepath.Join(tempDir, ".cache"))

	assert.Error(t, watcher.AddRecursive("/non/existent/path"))
	assert.Error(t, watcher.AddRecursive(""))

	file := filepath.Join(tempDir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.Error(t, watcher.AddRecursive(file))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestFileWatcherDeliversFilteredEvents(t *testing.T) {
	watcher, err := NewFileWatcher(50 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Stop()

	tempDir := t.TempDir()
	require.NoError(t, watcher.AddRecursive(tempDir))
	watcher.AddFilter(ExtensionFilter(".html"))
	watcher.AddFilter(NoHiddenFilter)

	var mu sync.Mutex
	var paths []string
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			paths = append(paths, filepath.Base(e.Path))
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "index.html"), []byte("<p>hi</p>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, ".index.html"), []byte("swap"), 0644))

	ok := waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(paths) > 0
	})
	require.True(t, ok, "expected a debounced batch")

	// allow any trailing batch to land
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "index.html")
	assert.NotContains(t, paths, "notes.txt")
	assert.NotContains(t, paths, ".index.html")
}

func TestFileWatcherPicksUpNewDirectories(t *testing.T) {
	watcher, err := NewFileWatcher(30 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Stop()

	tempDir := t.TempDir()
	require.NoError(t, watcher.AddRecursive(tempDir))
	watcher.AddFilter(ExtensionFilter(".html"))

	var mu sync.Mutex
	seen := map[string]bool{}
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen[filepath.Base(e.Path)] = true
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	sub := filepath.Join(tempDir, "partials")
	require.NoError(t, os.Mkdir(sub, 0755))

	ok := waitFor(t, 2*time.Second, func() bool {
		for _, p := range watcher.WatchList() {
			if p == sub {
				return true
			}
		}
		return false
	})
	require.True(t, ok, "new directory should be watched")

	require.NoError(t, os.WriteFile(filepath.Join(sub, "nav.html"), []byte("<nav></nav>"), 0644))

	ok = waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["nav.html"]
	})
	assert.True(t, ok)
}

func TestFileWatcherHandlerErrorDoesNotStopProcessing(t *testing.T) {
	watcher, err := NewFileWatcher(30 * time.Millisecond)
	require.NoError(t, err)
	defer watcher.Stop()

	tempDir := t.TempDir()
	require.NoError(t, watcher.AddRecursive(tempDir))

	var mu sync.Mutex
	calls := 0
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return fmt.Errorf("handler failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	for i := 0; i < 2; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(tempDir, fmt.Sprintf("f%d.html", i)), []byte("x"), 0644))
		ok := waitFor(t, 2*time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return calls > i
		})
		require.True(t, ok)
	}
}

func TestDebouncer(t *testing.T) {
	debouncer := newDebouncer(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer debouncer.stop()

	go debouncer.start(ctx)

	debouncer.events <- ChangeEvent{Path: "b.html", Type: EventTypeModified}
	debouncer.events <- ChangeEvent{Path: "a.html", Type: EventTypeCreated}
	debouncer.events <- ChangeEvent{Path: "a.html", Type: EventTypeModified}

	select {
	case batch := <-debouncer.output:
		require.Len(t, batch, 2)
		assert.Equal(t, "a.html", batch[0].Path)
		assert.Equal(t, EventTypeModified, batch[0].Type)
		assert.Equal(t, "b.html", batch[1].Path)
	case <-time.After(time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestFileWatcherDoubleStop(t *testing.T) {
	watcher, err := NewFileWatcher(100 * time.Millisecond)
	require.NoError(t, err)

	assert.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}

func TestFilters(t *testing.T) {
	testCases := []struct {
		name     string
		filter   FileFilter
		path     string
		expected bool
	}{
		{"html accepts html", ExtensionFilter(".html"), "app/templates/index.html", true},
		{"html rejects backup", ExtensionFilter(".html"), "index.html~", false},
		{"html rejects css", ExtensionFilter(".html"), "style.css", false},
		{"extension without dot", ExtensionFilter("jinja"), "a.jinja", true},
		{"extension with dot", ExtensionFilter(".tpl"), "a.html", false},
		{"hidden rejected", NoHiddenFilter, "templates/.index.html.swp", false},
		{"visible accepted", NoHiddenFilter, "templates/index.html", true},
		{"git rejected", NoGitFilter, "src/.git/config", false},
		{"git prefix rejected", NoGitFilter, ".git/HEAD", false},
		{"plain accepted", NoGitFilter, "src/main.html", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.filter(tc.path))
		})
	}
}
