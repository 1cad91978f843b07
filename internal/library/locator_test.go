package library

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSource is an in-memory EntitySource.
type mapSource map[string]Entity

func (m mapSource) Get(id string) (*Entity, error) {
	e, ok := m[id]
	if !ok {
		return nil, ErrUnknownEntity
	}

	return &e, nil
}

func (m mapSource) List() ([]Entity, error) {
	out := make([]Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}

	return out, nil
}

func touch(t *testing.T, fsys afero.Fs, p string) {
	t.Helper()

	require.NoError(t, fsys.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, afero.WriteFile(fsys, p, []byte("x"), 0o644))
}

func TestLocator_MatchesStemAndExtension(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	src := mapSource{"1": {ID: "1", FileName: "Zelda (USA).sfc", System: "snes", Emulator: "snes9x"}}

	root := filepath.FromSlash("/roms/saves")
	snes := filepath.Join(root, "snes")

	touch(t, fsys, filepath.Join(snes, "Zelda (USA).srm"))
	touch(t, fsys, filepath.Join(snes, "Zelda (USA).RTC"))
	touch(t, fsys, filepath.Join(snes, "Zelda (USA).txt"))
	touch(t, fsys, filepath.Join(snes, "Mario.srm"))
	touch(t, fsys, filepath.Join(snes, "sub", "Zelda (USA).srm"))

	l := NewLocator(fsys, src, root, nil, testLogger(t))

	files, err := l.LocateSaveFiles("1")
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.FileName)
		assert.Equal(t, filepath.Join(snes, f.FileName), f.Path)
	}

	assert.ElementsMatch(t, []string{"Zelda (USA).srm", "Zelda (USA).RTC"}, names)

	dir, err := l.SaveDirectoryFor("1")
	require.NoError(t, err)
	assert.Equal(t, snes, dir)

	emu, sys := l.Labels("1")
	assert.Equal(t, "snes9x", emu)
	assert.Equal(t, "snes", sys)
}

func TestLocator_SaveDirOverrideAndCustomExtensions(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	custom := filepath.FromSlash("/custom/psx")
	src := mapSource{"9": {ID: "9", FileName: "FF7.cue", System: "psx", SaveDir: custom}}

	touch(t, fsys, filepath.Join(custom, "FF7.mcd"))
	touch(t, fsys, filepath.Join(custom, "FF7.srm"))

	l := NewLocator(fsys, src, "/ignored", []string{"MCD"}, testLogger(t))

	files, err := l.LocateSaveFiles("9")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "FF7.mcd", files[0].FileName)

	dir, err := l.SaveDirectoryFor("9")
	require.NoError(t, err)
	assert.Equal(t, custom, dir)
}

func TestLocator_MissingDirectoryIsEmpty(t *testing.T) {
	t.Parallel()

	src := mapSource{"1": {ID: "1", FileName: "a.gba", System: "gba"}}
	l := NewLocator(afero.NewMemMapFs(), src, "/saves", nil, testLogger(t))

	files, err := l.LocateSaveFiles("1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocator_UnknownEntity(t *testing.T) {
	t.Parallel()

	l := NewLocator(afero.NewMemMapFs(), mapSource{}, "/saves", nil, testLogger(t))

	_, err := l.LocateSaveFiles("x")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = l.SaveDirectoryFor("x")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	emu, sys := l.Labels("x")
	assert.Empty(t, emu)
	assert.Empty(t, sys)
}

func TestLocator_InstalledEntitiesFromRegistry(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	require.NoError(t, r.Put(Entity{ID: "b", FileName: "b.gb", System: "gb"}))
	require.NoError(t, r.Put(Entity{ID: "a", FileName: "a.gb", System: "gb"}))

	l := NewLocator(afero.NewMemMapFs(), r, "/saves", nil, testLogger(t))

	ids, err := l.InstalledEntities()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
