package importer_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mizutama/loreforge/server/importer"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"github.com/mizutama/loreforge/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePacks lays out a packs directory: manifest.json plus one file per
// record under <category>/.
func writePacks(t *testing.T, manifest map[string][]string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644))

	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func featJSON(id, name string, level int, traits ...string) string {
	rec := map[string]interface{}{
		"name": name,
		"system": map[string]interface{}{
			"level":  map[string]int{"value": level},
			"traits": map[string][]string{"value": traits},
		},
	}
	if id != "" {
		rec["_id"] = id
	}
	raw, _ := json.Marshal(rec)
	return string(raw)
}

func newImporter(t *testing.T, dir string) (*importer.Importer, *store.Store) {
	t.Helper()
	st := testutil.SetupTestStore(t, nil)
	return importer.New(st, dir, "manifest.json", nil, nil), st
}

func TestImportCategory(t *testing.T) {
	dir := writePacks(t,
		map[string][]string{"feat": {"power-attack.json", "dodge.json"}},
		map[string]string{
			"feat/power-attack.json": featJSON("abc123", "Power Attack", 1, "fighter"),
			"feat/dodge.json":        featJSON("", "Dodge", 1, "general"),
		})
	im, st := newImporter(t, dir)

	n, err := im.ImportCategory("feat")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	db, err := st.DB()
	require.NoError(t, err)

	var rules []model.Rule
	require.NoError(t, db.Order("name").Find(&rules).Error)
	require.Len(t, rules, 2)
	assert.Equal(t, "feat-dodge", rules[0].ID) // synthesized from category + name
	assert.Equal(t, "abc123", rules[1].ID)     // source _id preserved
	assert.Equal(t, 1, rules[1].Level)
	assert.Equal(t, "|fighter|", rules[1].Traits)
}

func TestImportIdempotent(t *testing.T) {
	dir := writePacks(t,
		map[string][]string{"feat": {"a.json", "b.json"}},
		map[string]string{
			"feat/a.json": featJSON("f1", "Cleave", 2),
			"feat/b.json": featJSON("", "Sidestep", 1),
		})
	im, st := newImporter(t, dir)

	n1, err := im.ImportCategory("feat")
	require.NoError(t, err)
	n2, err := im.ImportCategory("feat")
	require.NoError(t, err)
	assert.Equal(t, n1, n2)

	db, err := st.DB()
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&model.Rule{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestImportSkipsBadFiles(t *testing.T) {
	dir := writePacks(t,
		map[string][]string{"feat": {"good.json", "broken.json", "missing.json"}},
		map[string]string{
			"feat/good.json":   featJSON("f1", "Cleave", 2),
			"feat/broken.json": "{this is not json",
			// missing.json deliberately not written
		})
	im, st := newImporter(t, dir)

	n, err := im.ImportCategory("feat")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	db, err := st.DB()
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&model.Rule{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestImportUnknownCategory(t *testing.T) {
	dir := writePacks(t, map[string][]string{}, nil)
	im, _ := newImporter(t, dir)

	_, err := im.ImportCategory("vehicle")
	assert.Error(t, err)
}

func TestImportMissingManifest(t *testing.T) {
	im, _ := newImporter(t, t.TempDir())

	_, err := im.ImportCategory("feat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
}

func TestImportProgressSequence(t *testing.T) {
	dir := writePacks(t,
		map[string][]string{"feat": {"a.json"}},
		map[string]string{"feat/a.json": featJSON("f1", "Cleave", 2)})
	im, _ := newImporter(t, dir)

	var events []importer.Progress
	im.OnProgress(func(p importer.Progress) { events = append(events, p) })

	_, err := im.ImportCategory("feat")
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, importer.StatusLoading, events[0].Status)
	last := events[len(events)-1]
	assert.Equal(t, importer.StatusComplete, last.Status)
	assert.Equal(t, 1, last.Loaded)
	assert.Equal(t, 1, last.Total)
}

func TestImportProgressCallbackPanicTolerated(t *testing.T) {
	dir := writePacks(t,
		map[string][]string{"feat": {"a.json"}},
		map[string]string{"feat/a.json": featJSON("f1", "Cleave", 2)})
	im, _ := newImporter(t, dir)

	im.OnProgress(func(importer.Progress) { panic("observer bug") })

	n, err := im.ImportCategory("feat")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImportAllCoreSetsFlag(t *testing.T) {
	// Manifest lists every core category; most are empty, one has content and
	// one fails. The flag must still be set after all were attempted.
	manifest := map[string][]string{}
	for _, cat := range model.CoreCategories {
		manifest[cat] = nil
	}
	manifest["feat"] = []string{"a.json"}
	delete(manifest, "spell") // unlisted category fails its import

	dir := writePacks(t, manifest,
		map[string]string{"feat/a.json": featJSON("f1", "Cleave", 2)})
	im, st := newImporter(t, dir)

	n, err := im.ImportAllCore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, _, err := st.DataLoaded()
	require.NoError(t, err)
	assert.True(t, loaded)
}

func TestImportOptionalLeavesFlagAlone(t *testing.T) {
	dir := writePacks(t,
		map[string][]string{"creature": {"a.json"}},
		map[string]string{"creature/a.json": featJSON("m1", "Goblin Warrior", 1)})
	im, st := newImporter(t, dir)

	n, err := im.ImportOptional(context.Background(), []string{"creature"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, _, err := st.DataLoaded()
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "feat-power-attack", importer.Slug("feat-Power Attack"))
	assert.Equal(t, "a-b-c", importer.Slug("A__B--C!"))
	assert.Equal(t, "", importer.Slug("!!!"))
}
