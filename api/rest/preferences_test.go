package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mizutama/loreforge/server/api/rest"
	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/query"
	"github.com/mizutama/loreforge/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPreferencesRouter(t *testing.T) *gin.Engine {
	st := testutil.SetupTestStore(t, nil)
	h := rest.NewPreferencesHandler(query.NewPreferences(st, nil))
	r := gin.New()
	r.GET("/api/preferences", h.Get)
	r.PATCH("/api/preferences", h.Update)
	return r
}

func patchJSON(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPatch, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPreferencesGetDefaults(t *testing.T) {
	r := newPreferencesRouter(t)

	w := getJSON(r, "/api/preferences")
	require.Equal(t, http.StatusOK, w.Code)
	var prefs model.Preferences
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	assert.Equal(t, "parchment", prefs.Theme)
	assert.True(t, prefs.AutoSave)
}

func TestPreferencesPatch(t *testing.T) {
	r := newPreferencesRouter(t)

	w := patchJSON(r, "/api/preferences", map[string]interface{}{
		"theme":        "midnight",
		"auto_save":    false,
		"sync_enabled": true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var prefs model.Preferences
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	assert.Equal(t, "midnight", prefs.Theme)
	assert.False(t, prefs.AutoSave)
	assert.True(t, prefs.SyncEnabled)
	// Unpatched field keeps its default.
	assert.Equal(t, "medium", prefs.FontSize)

	// Persisted across reads.
	w = getJSON(r, "/api/preferences")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prefs))
	assert.Equal(t, "midnight", prefs.Theme)
}
