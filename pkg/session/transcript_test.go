package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTranscript_Creation(t *testing.T) {
	tr := NewMemoryTranscript("test-session")

	assert.Equal(t, "test-session", tr.ID())
	assert.Empty(t, tr.History())
}

func TestMemoryTranscript_Record(t *testing.T) {
	tr := NewMemoryTranscript("test")

	tr.Record(Exchange{Kind: KindExec, Input: "ls", Output: "a\n"})

	history := tr.History()
	require.Len(t, history, 1)
	assert.Equal(t, "ls", history[0].Input)

	history[0].Input = "mutated"
	assert.Equal(t, "ls", tr.History()[0].Input, "History returns a copy")
}

func TestMemoryTranscript_State(t *testing.T) {
	tr := NewMemoryTranscript("test")

	tr.SetState("key1", "value1")
	tr.SetState("key2", 42)

	val1, ok1 := tr.GetState("key1")
	assert.True(t, ok1)
	assert.Equal(t, "value1", val1)

	_, ok3 := tr.GetState("nonexistent")
	assert.False(t, ok3)

	state := tr.State()
	state["key3"] = true
	_, ok := tr.GetState("key3")
	assert.False(t, ok, "State returns a copy")
}

func TestMemoryTranscript_Clear(t *testing.T) {
	tr := NewMemoryTranscript("test")

	tr.Record(Exchange{Kind: KindSend, Input: "x"})
	require.NotEmpty(t, tr.History())

	tr.Clear()

	assert.Empty(t, tr.History())
}

func TestFileTranscript_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tr, err := NewFileTranscript("db/primary", tmpDir)
	require.NoError(t, err)

	tr.Record(Exchange{Kind: KindExec, Input: "select 1", Output: "1\n"})
	tr.SetState("version", "1.0")
	require.NoError(t, tr.Save())

	path := tr.Path()
	assert.Equal(t, tmpDir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "db_primary-"))
	assert.FileExists(t, path)

	loaded, err := NewFileTranscript("db/primary", tmpDir)
	require.NoError(t, err)

	require.Len(t, loaded.History(), 1)
	assert.Equal(t, "select 1", loaded.History()[0].Input)
	val, _ := loaded.GetState("version")
	assert.Equal(t, "1.0", val)
}

func TestFileTranscript_SimilarIdentitiesDoNotCollide(t *testing.T) {
	dir := t.TempDir()

	slash, err := NewFileTranscript("a/b", dir)
	require.NoError(t, err)
	under, err := NewFileTranscript("a_b", dir)
	require.NoError(t, err)
	assert.NotEqual(t, slash.Path(), under.Path())

	slash.Record(Exchange{Kind: KindExec, Input: "from slash"})
	require.NoError(t, slash.Save())
	under.Record(Exchange{Kind: KindExec, Input: "from underscore"})
	require.NoError(t, under.Save())

	reloaded, err := NewFileTranscript("a/b", dir)
	require.NoError(t, err)
	require.Len(t, reloaded.History(), 1)
	assert.Equal(t, "from slash", reloaded.History()[0].Input)
}

func TestFileTranscript_LoadNonexistent(t *testing.T) {
	tr, err := NewFileTranscript("new-session", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, tr.History())
}

func TestFileTranscript_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(TranscriptPath(dir, "bad"), []byte("{"), 0600))

	_, err := NewFileTranscript("bad", dir)
	assert.Error(t, err)
}

func TestTranscript_TableDriven(t *testing.T) {
	tests := []struct {
		name      string
		exchanges int
		wantLen   int
	}{
		{name: "empty transcript", exchanges: 0, wantLen: 0},
		{name: "single exchange", exchanges: 1, wantLen: 1},
		{name: "multiple exchanges", exchanges: 5, wantLen: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewMemoryTranscript(tt.name)

			for i := 0; i < tt.exchanges; i++ {
				tr.Record(Exchange{Kind: KindSync, Output: "line"})
			}

			assert.Len(t, tr.History(), tt.wantLen)
		})
	}
}
