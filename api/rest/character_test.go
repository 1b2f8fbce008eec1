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

func newCharacterRouter(t *testing.T) *gin.Engine {
	st := testutil.SetupTestStore(t, nil)
	h := rest.NewCharacterHandler(query.NewCharacters(st, nil), nil)
	r := gin.New()
	r.GET("/api/characters", h.List)
	r.POST("/api/characters", h.Create)
	r.GET("/api/characters/:id", h.Get)
	r.PUT("/api/characters/:id", h.Update)
	r.DELETE("/api/characters/:id", h.Delete)
	return r
}

func doRequest(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createCharacter(t *testing.T, r *gin.Engine, name string) model.Character {
	t.Helper()
	w := doRequest(r, http.MethodPost, "/api/characters", map[string]interface{}{
		"name": name, "level": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var char model.Character
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &char))
	return char
}

func TestCharacterCreateAndGet(t *testing.T) {
	r := newCharacterRouter(t)
	created := createCharacter(t, r, "Mira")
	assert.NotEmpty(t, created.ID)

	w := getJSON(r, "/api/characters/"+created.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.Character
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Mira", got.Name)
}

func TestCharacterCreateRequiresName(t *testing.T) {
	r := newCharacterRouter(t)
	w := doRequest(r, http.MethodPost, "/api/characters", map[string]interface{}{"level": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCharacterGetMissing(t *testing.T) {
	r := newCharacterRouter(t)
	w := getJSON(r, "/api/characters/char-nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCharacterUpdate(t *testing.T) {
	r := newCharacterRouter(t)
	created := createCharacter(t, r, "Toren")

	w := doRequest(r, http.MethodPut, "/api/characters/"+created.ID, map[string]interface{}{
		"name": "Toren the Bold", "level": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var updated model.Character
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Toren the Bold", updated.Name)
	assert.Equal(t, 2, updated.Level)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
}

func TestCharacterUpdateMissing(t *testing.T) {
	r := newCharacterRouter(t)
	w := doRequest(r, http.MethodPut, "/api/characters/char-nope", map[string]interface{}{
		"name": "Ghost",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCharacterDelete(t *testing.T) {
	r := newCharacterRouter(t)
	created := createCharacter(t, r, "Doomed")

	w := doRequest(r, http.MethodDelete, "/api/characters/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = getJSON(r, "/api/characters/"+created.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Deleting an absent character is still a success.
	w = doRequest(r, http.MethodDelete, "/api/characters/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCharacterListWithFilters(t *testing.T) {
	r := newCharacterRouter(t)
	createCharacter(t, r, "One")
	w := doRequest(r, http.MethodPost, "/api/characters", map[string]interface{}{
		"name": "Two", "level": 7, "class_id": "class-wizard",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = getJSON(r, "/api/characters")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Characters []model.Character `json:"characters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Characters, 2)

	w = getJSON(r, "/api/characters?min_level=5&class_id=class-wizard")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Characters, 1)
	assert.Equal(t, "Two", resp.Characters[0].Name)
}
