package rest_test

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/api/rest"
	"github.com/mizutama/loreforge/server/importer"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/store"
	"github.com/mizutama/loreforge/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImportRouter(t *testing.T) (*gin.Engine, *store.Store) {
	st := testutil.SetupTestStore(t, nil)

	// Minimal packs dir: every core category empty except feat.
	dir := t.TempDir()
	manifest := map[string][]string{}
	for _, cat := range model.CoreCategories {
		manifest[cat] = nil
	}
	manifest["feat"] = []string{"cleave.json"}
	raw, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "feat"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feat", "cleave.json"),
		[]byte(`{"_id":"f1","name":"Cleave","system":{"level":{"value":2}}}`), 0o644))

	im := importer.New(st, dir, "manifest.json", nil, nil)
	h := rest.NewImportHandler(st, im, nil, nil)
	r := gin.New()
	r.GET("/api/import/status", h.Status)
	r.POST("/api/import", h.Trigger)
	r.POST("/api/import/reimport", h.Reimport)
	r.POST("/api/import/optional", h.Optional)
	return r, st
}

func waitForLoaded(t *testing.T, st *store.Store) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		loaded, _, err := st.DataLoaded()
		require.NoError(t, err)
		if loaded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("import never completed")
}

func TestImportStatusInitiallyUnloaded(t *testing.T) {
	r, _ := newImportRouter(t)

	w := getJSON(r, "/api/import/status")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["loaded"])
}

func TestImportTrigger(t *testing.T) {
	r, st := newImportRouter(t)

	w := postJSON(r, "/api/import", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForLoaded(t, st)

	db, err := st.DB()
	require.NoError(t, err)
	var n int64
	require.NoError(t, db.Model(&model.Rule{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	// Already loaded: trigger becomes a no-op.
	w = postJSON(r, "/api/import", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReimportWipesAndReloads(t *testing.T) {
	r, st := newImportRouter(t)

	w := postJSON(r, "/api/import", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForLoaded(t, st)

	// Plant an orphan rule; re-import must clear it.
	db, err := st.DB()
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.Rule{ID: "stale", Category: "feat", Name: "Stale"}).Error)

	w = postJSON(r, "/api/import/reimport", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	waitForLoaded(t, st)

	var n int64
	require.NoError(t, db.Model(&model.Rule{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestImportOptionalRejectsUnknown(t *testing.T) {
	r, _ := newImportRouter(t)

	w := postJSON(r, "/api/import/optional", map[string]interface{}{
		"categories": []string{"vehicle"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
