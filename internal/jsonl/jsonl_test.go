package jsonl

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func TestSink_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "out.jsonl")
	s, err := OpenSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(rec{ID: "1", Text: "a"}))
	require.NoError(t, s.Append(rec{ID: "2", Text: "b\nwith newline"}))
	require.NoError(t, s.Close())

	got, stats, err := Read[rec](path)
	require.NoError(t, err)
	assert.Equal(t, []rec{{"1", "a"}, {"2", "b\nwith newline"}}, got)
	assert.Equal(t, Stats{Lines: 2, Parsed: 2}, stats)
}

func TestRead_MissingFile(t *testing.T) {
	got, stats, err := Read[rec](filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, stats.Lines)
}

func TestRead_TornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	content := `{"id":"1","text":"a"}` + "\n" + `{"id":"2","te`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, stats, err := Read[rec](path)
	require.NoError(t, err)
	assert.Equal(t, []rec{{"1", "a"}}, got)
	assert.Equal(t, 1, stats.Corrupt)
	assert.True(t, stats.TornTail)
}

func TestRead_CorruptMiddleLineIsNotTorn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	content := "garbage\n\n" + `{"id":"2","text":"b"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, stats, err := Read[rec](path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 2, stats.Lines)
	assert.Equal(t, 1, stats.Corrupt)
	assert.False(t, stats.TornTail)
}

func TestOpenSink_TerminatesTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"1","text":"a"}`+"\n"+`{"id":"2"`), 0o644))

	s, err := OpenSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(rec{ID: "2", Text: "redo"}))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `{"id":"1","text":"a"}`+"\n"+`{"id":"2"`+"\n"), "prior bytes must be preserved")

	got, stats, err := Read[rec](path)
	require.NoError(t, err)
	assert.Equal(t, []rec{{"1", "a"}, {"2", "redo"}}, got)
	assert.Equal(t, 1, stats.Corrupt)
	assert.False(t, stats.TornTail)
}

func TestSink_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := OpenSink(path)
	require.NoError(t, err)

	long := strings.Repeat("x", 8192)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(rec{ID: string(rune('a' + i%26)), Text: long}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	_, stats, err := Read[rec](path)
	require.NoError(t, err)
	assert.Equal(t, 50, stats.Parsed)
	assert.Zero(t, stats.Corrupt)
}

func TestSink_AppendAfterClose(t *testing.T) {
	s, err := OpenSink(filepath.Join(t.TempDir(), "out.jsonl"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Append(rec{ID: "1"}))
	assert.NoError(t, s.Close())
}

func TestCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"1\"}\n{bad\n{\"id\":\"2\"}\n"), 0o644))
	n, err := Count[rec](path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
