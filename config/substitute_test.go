package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

func storeWith(t *testing.T, values map[string]interface{}) *Store {
	t.Helper()
	dir := t.TempDir()
	loader := NewLoader(dir)
	for k, v := range values {
		loader.Set(k, v)
	}
	store, err := loader.Load()
	require.NoError(t, err)
	return store
}

func TestSubstituteResolvesPlaceholders(t *testing.T) {
	store := storeWith(t, map[string]interface{}{
		"server.host": "db.internal",
		"server.port": 5432,
	})

	out, err := store.Substitute("postgres://${server.host}:${server.port}/app")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal:5432/app", out)
}

func TestSubstituteDefaultUsedWhenKeyAbsent(t *testing.T) {
	store := storeWith(t, nil)

	out, err := store.Substitute("${a.b:x}")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestSubstituteMissingKeyWithoutDefaultFails(t *testing.T) {
	store := storeWith(t, nil)

	_, err := store.Substitute("${a.b}")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindConfiguration))
}

func TestSubstituteRecursesIntoResolvedValues(t *testing.T) {
	store := storeWith(t, map[string]interface{}{
		"greeting": "hello ${name}",
		"name":     "world",
	})

	out, err := store.Substitute("${greeting}")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestSubstituteDetectsCycles(t *testing.T) {
	store := storeWith(t, map[string]interface{}{
		"a": "${b}",
		"b": "${a}",
	})

	_, err := store.Substitute("${a}")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindConfiguration))
	assert.Contains(t, err.Error(), "circular")
}

func TestSubstituteSelfReferenceFails(t *testing.T) {
	store := storeWith(t, map[string]interface{}{
		"loop": "${loop}",
	})

	_, err := store.Substitute("${loop}")
	require.Error(t, err)
}

func TestSubstituteUnterminatedPlaceholderFails(t *testing.T) {
	store := storeWith(t, nil)

	_, err := store.Substitute("prefix ${never.closed")
	require.Error(t, err)
}

func TestSubstituteNestedDefaultPlaceholder(t *testing.T) {
	store := storeWith(t, map[string]interface{}{
		"fallback.host": "backup.internal",
	})

	out, err := store.Substitute("${primary.host:${fallback.host}}")
	require.NoError(t, err)
	assert.Equal(t, "backup.internal", out)
}

func TestSubstitutePlainTextPassesThrough(t *testing.T) {
	store := storeWith(t, nil)

	out, err := store.Substitute("no placeholders here")
	require.NoError(t, err)
	assert.Equal(t, "no placeholders here", out)
}
