package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type doc struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags,omitempty"`
}

func TestPutGetRoundtrip(t *testing.T) {
	s := openTestStore(t)

	in := doc{Name: "one", Count: 3, Tags: []string{"a", "b"}}
	require.NoError(t, s.Put("sources/1", in))

	var out doc
	ok, err := s.Get("sources/1", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestGet_absentKey(t *testing.T) {
	s := openTestStore(t)
	var out doc
	ok, err := s.Get("sources/missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_replacesAtomically(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("channels/src1", doc{Name: "old", Count: 1}))
	require.NoError(t, s.Put("channels/src1", doc{Name: "new", Count: 2}))

	var out doc
	ok, err := s.Get("channels/src1", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", out.Name)
	assert.Equal(t, 2, out.Count)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("sources/1", doc{Name: "x"}))
	require.NoError(t, s.Delete("sources/1"))
	ok, err := s.Get("sources/1", &doc{})
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is fine.
	assert.NoError(t, s.Delete("sources/1"))
}

func TestList_prefixScoped(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(KeySource("1"), doc{Name: "a"}))
	require.NoError(t, s.Put(KeySource("2"), doc{Name: "b"}))
	require.NoError(t, s.Put(KeyEPGSource("3"), doc{Name: "c"}))

	raw, err := s.List(PrefixSources)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	var out doc
	require.NoError(t, Decode(raw[KeySource("1")], &out))
	assert.Equal(t, "a", out.Name)
}

func TestOpen_emptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestOpen_reopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("sync/data", doc{Name: "kept"}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	var out doc
	ok, err := s2.Get("sync/data", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "kept", out.Name)
}
