package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectorRecord struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
}

func engines(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			return s
		},
		"yaml": func(t *testing.T) Store {
			s, err := OpenYAMLFile(filepath.Join(t.TempDir(), "state.yaml"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreEngines(t *testing.T) {
	ctx := context.Background()

	for name, open := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			var missing int
			ok, err := s.Read(ctx, "modules.vendor/a", &missing)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Write(ctx, "modules.vendor/a", 2))
			require.NoError(t, s.Write(ctx, "modules.vendor/b", 1))
			require.NoError(t, s.Write(ctx, "collectors.widgets", collectorRecord{Type: "*app.Widgets", Description: "Widgets"}))

			state, err := ReadInt(ctx, s, "modules.vendor/a", 0)
			require.NoError(t, err)
			assert.Equal(t, 2, state)

			var rec collectorRecord
			ok, err = s.Read(ctx, "collectors.widgets", &rec)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "*app.Widgets", rec.Type)
			assert.Equal(t, "Widgets", rec.Description)

			keys, err := s.Keys(ctx, "modules.")
			require.NoError(t, err)
			assert.Equal(t, []string{"modules.vendor/a", "modules.vendor/b"}, keys)

			require.NoError(t, s.Write(ctx, "modules.vendor/a", 0))
			state, err = ReadInt(ctx, s, "modules.vendor/a", 5)
			require.NoError(t, err)
			assert.Equal(t, 0, state)

			require.NoError(t, s.Delete(ctx, "modules.vendor/b"))
			require.NoError(t, s.Delete(ctx, "modules.never-written"))
			state, err = ReadInt(ctx, s, "modules.vendor/b", 7)
			require.NoError(t, err)
			assert.Equal(t, 7, state)

			assert.ErrorIs(t, s.Write(ctx, "", 1), ErrEmptyKey)
		})
	}
}

func TestYAMLFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	s, err := OpenYAMLFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "modules.vendor/a", 1))
	require.NoError(t, s.Write(ctx, "app.installed", true))

	reopened, err := OpenYAMLFile(path)
	require.NoError(t, err)

	state, err := ReadInt(ctx, reopened, "modules.vendor/a", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, state)

	installed, err := ReadOr(ctx, reopened, "app.installed", false)
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestSQLiteSharedBetweenHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer first.Close()
	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Write(ctx, "modules.vendor/a", 2))
	state, err := ReadInt(ctx, second, "modules.vendor/a", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, state)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(ctx, Config{Engine: "sqlite"})
	assert.ErrorIs(t, err, ErrPathRequired)

	_, err = Open(ctx, Config{Engine: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownEngine)

	s, err = Open(ctx, Config{Engine: "yaml", Path: filepath.Join(t.TempDir(), "s.yaml")})
	require.NoError(t, err)
	assert.IsType(t, &YAMLFile{}, s)
}
