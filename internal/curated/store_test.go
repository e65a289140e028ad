package curated

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOnlyFallback(t *testing.T) {
	s, err := Open("", []string{"CA1", " ca1 ", "CA2", ""})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.ReadOnly())
	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"CA1", "CA2"}, list)

	_, err = s.Add("CA3")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestSeedAndAppendOrder(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "curated"), []string{"SeedA", "SeedB"})
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.ReadOnly())
	added, err := s.Add("NewC")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add("seeda")
	require.NoError(t, err)
	assert.False(t, added, "case-folded duplicate")

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"SeedA", "SeedB", "NewC"}, list)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curated")

	s, err := Open(path, []string{"SeedA"})
	require.NoError(t, err)
	_, err = s.Add("X1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, []string{"SeedA", "OtherSeed"})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add("X2")
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"SeedA", "X1", "X2"}, list, "seeding only happens on a fresh database")
}

func TestAddEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "curated"), nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add("  ")
	assert.Error(t, err)

	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}
