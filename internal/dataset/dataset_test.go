package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/peerjudge/internal/schema"
)

func item(id string, paperLen, gtLen int) schema.Item {
	return schema.Item{ID: id, PaperText: strings.Repeat("p", paperLen), GroundTruth: strings.Repeat("g", gtLen)}
}

func TestBuild_QualityGates(t *testing.T) {
	raw := []schema.Item{
		item("1", 2000, 300),
		item("2", 100, 300),
		item("3", 2000, 50),
		item("", 2000, 300),
		item("1", 2000, 300),
		item(" 4 ", 2000, 300),
	}
	got, rep := Build(raw, BuildOptions{MinPaperChars: 1500, MinGroundTruthChars: 200})
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "4", got[1].ID)
	assert.Equal(t, BuildReport{Read: 6, MissingID: 1, Duplicates: 1, ShortPaper: 1, ShortGroundTruth: 1, PassedQualityGates: 2, Kept: 2}, rep)
}

func TestBuild_ClipsPaperText(t *testing.T) {
	got, _ := Build([]schema.Item{item("1", 100, 10)}, BuildOptions{PaperMaxChars: 40})
	require.Len(t, got, 1)
	assert.Len(t, got[0].PaperText, 40)
}

func TestSample_DeterministicAndOrdered(t *testing.T) {
	var items []schema.Item
	for i := 0; i < 50; i++ {
		items = append(items, item(string(rune('a'+i%26))+strings.Repeat("x", i/26), 1, 1))
	}
	a := Sample(items, 10, 42)
	b := Sample(items, 10, 42)
	require.Len(t, a, 10)
	assert.Equal(t, a, b)

	pos := make(map[string]int, len(items))
	for i, it := range items {
		pos[it.ID] = i
	}
	for i := 1; i < len(a); i++ {
		assert.Less(t, pos[a[i-1].ID], pos[a[i].ID], "sample must keep source order")
	}

	c := Sample(items, 10, 7)
	assert.NotEqual(t, a, c, "a different seed should pick a different subset")
}

func TestSample_NoOp(t *testing.T) {
	items := []schema.Item{item("1", 1, 1), item("2", 1, 1)}
	assert.Equal(t, items, Sample(items, 0, 1))
	assert.Equal(t, items, Sample(items, 5, 1))
}

func TestWriteLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed", "pairs.jsonl")
	items := []schema.Item{item("1", 3, 2), item("2", 4, 1)}
	require.NoError(t, Write(path, items))

	got, stats, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, items, got)
	assert.Equal(t, 2, stats.Parsed)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be gone")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Load(filepath.Join(dir, "missing.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, _, err = Load(empty)
	assert.True(t, errors.Is(err, ErrEmpty))

	dup := filepath.Join(dir, "dup.jsonl")
	require.NoError(t, os.WriteFile(dup, []byte(`{"paper_id":"1"}`+"\n"+`{"paper_id":"1"}`+"\n"), 0o644))
	_, _, err = Load(dup)
	assert.ErrorContains(t, err, "duplicate")

	noID := filepath.Join(dir, "noid.jsonl")
	require.NoError(t, os.WriteFile(noID, []byte(`{"paper_text":"x"}`+"\n"), 0o644))
	_, _, err = Load(noID)
	assert.ErrorContains(t, err, "empty paper_id")
}

func TestLoad_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.jsonl")
	body := `{"paper_id":"1","paper_text":"a","ground_truth":"b"}` + "\n" + `{"paper_id":` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	got, stats, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, stats.Corrupt)
}
