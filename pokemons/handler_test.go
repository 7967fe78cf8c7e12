package pokemons

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestModule(t *testing.T) (*Module, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_DSN", filepath.Join(t.TempDir(), "pokedex.db"))
	t.Setenv("ASSET_DIR", t.TempDir())
	// Point at a closed port so the cache stays disabled during tests.
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")

	router := gin.New()
	module, err := RegisterRoutes(router)
	require.NoError(t, err)
	t.Cleanup(func() { _ = module.Close() })

	return module, router
}

func performJSON(router *gin.Engine, method, path string, payload string) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != "" {
		body = strings.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

type pokemonEnvelope struct {
	Message string  `json:"message"`
	Pokemon Pokemon `json:"pokemon"`
}

type listEnvelope struct {
	Data       []Pokemon  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func TestCreatePokemonAssignsIDAndDefaults(t *testing.T) {
	module, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Test"},"type":["Grass"],"base":{}}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	var envelope pokemonEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))

	assert.Equal(t, uint64(1), envelope.Pokemon.ID)
	assert.Equal(t, "Test", envelope.Pokemon.Name.Data().French)
	assert.Equal(t, []string{"Grass"}, []string(envelope.Pokemon.Types))
	assert.Equal(t, BaseStats{
		HP: 50, Attack: 50, Defense: 50,
		SpecialAttack: 50, SpecialDefense: 50, Speed: 50,
	}, envelope.Pokemon.Base.Data())
	assert.True(t, strings.HasSuffix(envelope.Pokemon.Image, "/1.png"))

	// No image source was given, so no asset file should exist.
	_, err := os.Stat(filepath.Join(module.SpriteDir(), "1.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreatePokemonValidation(t *testing.T) {
	_, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"english":"Test"},"type":["Grass"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Test"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performJSON(router, http.MethodPost, "/pokemons", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreatePokemonZeroStatGetsDefault(t *testing.T) {
	_, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Test"},"type":["Grass"],"base":{"HP":0,"Attack":65}}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	var envelope pokemonEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, 50, envelope.Pokemon.Base.Data().HP)
	assert.Equal(t, 65, envelope.Pokemon.Base.Data().Attack)
}

func TestCreatePokemonUnreachableImageURL(t *testing.T) {
	module, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Test"},"type":["Grass"],"base":{},"image":"http://127.0.0.1:1/sprite.png"}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	var envelope pokemonEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.True(t, strings.HasSuffix(envelope.Pokemon.Image, "/1.png"))

	_, err := os.Stat(filepath.Join(module.SpriteDir(), "1.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreatePokemonMultipartUpload(t *testing.T) {
	module, router := newTestModule(t)

	payload := []byte("fake-png-bytes")

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("name", `{"french":"Pikachu","english":"Pikachu"}`))
	require.NoError(t, writer.WriteField("type", `["Electric"]`))
	require.NoError(t, writer.WriteField("base", `{"HP":35,"Attack":55}`))
	part, err := writer.CreateFormFile("imageFile", "pikachu.png")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/pokemons", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var envelope pokemonEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	assert.Equal(t, "Pikachu", envelope.Pokemon.Name.Data().French)
	assert.Equal(t, 35, envelope.Pokemon.Base.Data().HP)

	stored, err := os.ReadFile(filepath.Join(module.SpriteDir(), fmt.Sprintf("%d.png", envelope.Pokemon.ID)))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestNextIDSequence(t *testing.T) {
	module, router := newTestModule(t)
	ctx := context.Background()

	id, err := nextID(ctx, module.db)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Un"},"type":["Grass"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	resp = performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Deux"},"type":["Fire"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	// Deleting a non-max record leaves a gap that is never refilled.
	resp = performJSON(router, http.MethodDelete, "/pokemons/1", "")
	require.Equal(t, http.StatusOK, resp.Code)

	id, err = nextID(ctx, module.db)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}

func TestGetPokemonByID(t *testing.T) {
	_, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Test"},"type":["Grass"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = performJSON(router, http.MethodGet, "/pokemons/1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var pokemon Pokemon
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &pokemon))
	assert.Equal(t, uint64(1), pokemon.ID)

	resp = performJSON(router, http.MethodGet, "/pokemons/42", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	// A non-numeric id matches no record rather than erroring.
	resp = performJSON(router, http.MethodGet, "/pokemons/abc", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetPokemonByNameExactMatch(t *testing.T) {
	_, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"english":"Bulbasaur","french":"Bulbizarre"},"type":["Grass"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = performJSON(router, http.MethodGet, "/pokemons/name/Bulbizarre", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var pokemon Pokemon
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &pokemon))
	assert.Equal(t, "Bulbasaur", pokemon.Name.Data().English)

	resp = performJSON(router, http.MethodGet, "/pokemons/name/Bulbasaur", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = performJSON(router, http.MethodGet, "/pokemons/name/bulbizarre", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = performJSON(router, http.MethodGet, "/pokemons/name/Missingno", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestUpdatePokemonMergeSemantics(t *testing.T) {
	_, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"english":"Bulbasaur","french":"Bulbizarre"},"type":["Grass","Poison"],"base":{"Attack":80}}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	// A zero stat is ignored while a non-zero stat applies.
	resp = performJSON(router, http.MethodPut, "/pokemons/1",
		`{"base":{"Attack":0,"Defense":70}}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope pokemonEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, 80, envelope.Pokemon.Base.Data().Attack)
	assert.Equal(t, 70, envelope.Pokemon.Base.Data().Defense)
	assert.Equal(t, "Bulbizarre", envelope.Pokemon.Name.Data().French)
	assert.Equal(t, []string{"Grass", "Poison"}, []string(envelope.Pokemon.Types))

	// A type-only patch replaces the whole array and leaves the rest alone.
	resp = performJSON(router, http.MethodPut, "/pokemons/1", `{"type":["Water"]}`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, []string{"Water"}, []string(envelope.Pokemon.Types))
	assert.Equal(t, 80, envelope.Pokemon.Base.Data().Attack)
	assert.Equal(t, "Bulbizarre", envelope.Pokemon.Name.Data().French)
}

func TestUpdatePokemonErrors(t *testing.T) {
	_, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Test"},"type":["Grass"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = performJSON(router, http.MethodPut, "/pokemons/1", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performJSON(router, http.MethodPut, "/pokemons/1", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performJSON(router, http.MethodPut, "/pokemons/99", `{"type":["Water"]}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDeletePokemon(t *testing.T) {
	_, router := newTestModule(t)

	resp := performJSON(router, http.MethodPost, "/pokemons",
		`{"name":{"french":"Test"},"type":["Grass"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = performJSON(router, http.MethodDelete, "/pokemons/1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var envelope pokemonEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, uint64(1), envelope.Pokemon.ID)

	resp = performJSON(router, http.MethodDelete, "/pokemons/1", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = performJSON(router, http.MethodGet, "/pokemons/1", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListPokemonsPagination(t *testing.T) {
	module, router := newTestModule(t)

	for i := 1; i <= 25; i++ {
		pokemon := Pokemon{
			ID:    uint64(i),
			Name:  datatypes.NewJSONType(NameSet{French: fmt.Sprintf("Pokemon-%d", i)}),
			Types: datatypes.NewJSONSlice([]string{"Normal"}),
			Base:  datatypes.NewJSONType(fillBaseDefaults(BaseStats{})),
			Image: fmt.Sprintf("/assets/%d.png", i),
		}
		require.NoError(t, module.db.Create(&pokemon).Error)
	}

	resp := performJSON(router, http.MethodGet, "/pokemons?page=3&limit=10", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope listEnvelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 5)
	assert.Equal(t, 3, envelope.Pagination.CurrentPage)
	assert.Equal(t, 3, envelope.Pagination.TotalPages)
	assert.False(t, envelope.Pagination.HasNextPage)
	assert.True(t, envelope.Pagination.HasPrevPage)
	assert.Equal(t, uint64(21), envelope.Data[0].ID)

	// Invalid params behave like page=1&limit=20.
	resp = performJSON(router, http.MethodGet, "/pokemons?page=abc&limit=-1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 20)
	assert.Equal(t, 1, envelope.Pagination.CurrentPage)
	assert.Equal(t, 2, envelope.Pagination.TotalPages)
	assert.True(t, envelope.Pagination.HasNextPage)
	assert.False(t, envelope.Pagination.HasPrevPage)
	assert.Equal(t, uint64(1), envelope.Data[0].ID)

	// A page beyond the last yields an empty set with a well-formed envelope.
	resp = performJSON(router, http.MethodGet, "/pokemons?page=9&limit=10", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 0)
	assert.Equal(t, 9, envelope.Pagination.CurrentPage)
}

func TestHealthz(t *testing.T) {
	_, router := newTestModule(t)

	resp := performJSON(router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}
