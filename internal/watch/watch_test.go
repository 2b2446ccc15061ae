package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/tether/pkg/script"
)

type recorder struct {
	mu   sync.Mutex
	docs []*script.Document
}

func (r *recorder) run(_ context.Context, doc *script.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

func (r *recorder) last() *script.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[len(r.docs)-1]
}

func TestWatcherRerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("main:\n  - args: \"echo one\"\n"), 0644))

	rec := &recorder{}
	w, err := New(path, rec.run, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond,
		"document runs once at start")

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("main: []\n"), 0644))

	require.NoError(t, os.WriteFile(path, []byte("main:\n  - args: \"echo two\"\n"), 0644))
	require.Eventually(t, func() bool { return rec.count() == 2 }, 3*time.Second, 10*time.Millisecond)

	entries := rec.last().Entries(script.PhaseMain)
	require.Len(t, entries, 1)
	assert.Equal(t, script.Args{"echo two"}, entries[0].Args)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, rec.count(), "one debounced run per change")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherSurvivesBadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("main: ["), 0644))

	rec := &recorder{}
	w, err := New(path, rec.run, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count())

	require.NoError(t, os.WriteFile(path, []byte("main:\n  - args: \"true\"\n"), 0644))
	require.Eventually(t, func() bool { return rec.count() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestNewMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope", "x.yaml"), (&recorder{}).run)
	assert.Error(t, err)
}
