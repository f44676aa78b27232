package identity

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_GeneratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")

	actor, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, actor)
	_, err = uuid.Parse(actor)
	assert.NoError(t, err, "actor id should be a uuid")
}

func TestLoad_StableAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")

	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoad_DistinctPerDevice(t *testing.T) {
	dir := t.TempDir()
	a, err := Load(filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	b, err := Load(filepath.Join(dir, "b.db"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLoad_BadPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing", "deep", "identity.db"))
	assert.Error(t, err)
}
