package query_test

import (
	"testing"

	"github.com/mizutama/loreforge/server/model"
	"github.com/mizutama/loreforge/server/query"
	"github.com/mizutama/loreforge/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesDefaultOnFirstAccess(t *testing.T) {
	st := testutil.SetupTestStore(t, nil)
	q := query.NewPreferences(st, nil)

	prefs, err := q.Get()
	require.NoError(t, err)
	assert.Equal(t, model.PreferencesID, prefs.ID)
	assert.Equal(t, "parchment", prefs.Theme)
	assert.Equal(t, "system", prefs.ColorScheme)
	assert.Equal(t, "medium", prefs.FontSize)
	assert.True(t, prefs.AutoSave)
	assert.False(t, prefs.SyncEnabled)
	assert.Equal(t, "off", prefs.AIMode)

	// The default is persisted, not recomputed.
	db, err := st.DB()
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&model.Preferences{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPreferencesPartialUpdate(t *testing.T) {
	st := testutil.SetupTestStore(t, nil)
	q := query.NewPreferences(st, nil)

	theme := "midnight"
	sync := true
	endpoint := "https://sync.example.net"
	updated, err := q.Update(query.PreferencesPatch{
		Theme:        &theme,
		SyncEnabled:  &sync,
		SyncEndpoint: &endpoint,
	})
	require.NoError(t, err)
	assert.Equal(t, "midnight", updated.Theme)
	assert.True(t, updated.SyncEnabled)
	assert.Equal(t, endpoint, updated.SyncEndpoint)
	// Untouched fields keep their defaults.
	assert.Equal(t, "medium", updated.FontSize)
	assert.True(t, updated.AutoSave)

	// Survives a fresh read.
	again, err := q.Get()
	require.NoError(t, err)
	assert.Equal(t, "midnight", again.Theme)
	assert.True(t, again.SyncEnabled)
}

func TestPreferencesUpdateOnlySingleton(t *testing.T) {
	st := testutil.SetupTestStore(t, nil)
	q := query.NewPreferences(st, nil)

	sound := false
	_, err := q.Update(query.PreferencesPatch{Sound: &sound})
	require.NoError(t, err)

	db, err := st.DB()
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&model.Preferences{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
