package catalogversion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/refrange/internal/platform/apperr"
)

func newTestHandler(t *testing.T) (*Handler, *Service, *mockSource) {
	t.Helper()
	svc, _, src := newTestService(sampleCatalog().params)
	return NewHandler(svc), svc, src
}

func TestHandler_CommitVersion(t *testing.T) {
	h, _, _ := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/catalog/versions", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.CommitVersion(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var res CommitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Version)

	rec = httptest.NewRecorder()
	require.NoError(t, h.CommitVersion(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_CommitVersion_DryRun(t *testing.T) {
	h, svc, _ := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/catalog/versions?dry_run=true", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.CommitVersion(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := svc.Latest(context.Background())
	assert.Error(t, err)
}

func TestHandler_CommitVersion_InvalidDryRun(t *testing.T) {
	h, svc, _ := newTestHandler(t)
	e := echo.New()

	for _, raw := range []string{"yes", "maybe", "2"} {
		req := httptest.NewRequest(http.MethodPost, "/catalog/versions?dry_run="+raw, nil)
		err := h.CommitVersion(e.NewContext(req, httptest.NewRecorder()))
		var he *echo.HTTPError
		require.ErrorAs(t, err, &he, raw)
		assert.Equal(t, http.StatusBadRequest, he.Code, raw)
	}

	_, err := svc.Latest(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNotFound, "no version may be committed")
}

func TestHandler_GetLatest_Empty(t *testing.T) {
	h, _, _ := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/catalog/versions/latest", nil)
	err := h.GetLatest(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.Code)
}

func TestHandler_GetVersion(t *testing.T) {
	h, svc, _ := newTestHandler(t)
	e := echo.New()
	_, err := svc.Commit(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("number")
	c.SetParamValues("1")
	require.NoError(t, h.GetVersion(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var v CatalogVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 1, v.VersionNumber)
	assert.NotEmpty(t, v.Snapshot)

	for value, code := range map[string]int{"2": http.StatusNotFound, "0": http.StatusBadRequest, "x": http.StatusBadRequest} {
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("number")
		c.SetParamValues(value)
		var he *echo.HTTPError
		require.ErrorAs(t, h.GetVersion(c), &he, value)
		assert.Equal(t, code, he.Code, value)
	}
}

func TestHandler_ListVersions(t *testing.T) {
	h, svc, src := newTestHandler(t)
	e := echo.New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		src.params = sampleCatalog().params
		src.params[0].Ranges[0].Lower = fptr(float64(i))
		_, err := svc.Commit(ctx)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/catalog/versions?limit=2", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.ListVersions(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data    []CatalogVersion `json:"data"`
		Total   int              `json:"total"`
		HasMore bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.True(t, body.HasMore)
	require.Len(t, body.Data, 2)
	assert.Equal(t, 3, body.Data[0].VersionNumber)
	assert.Empty(t, body.Data[0].Snapshot)
}
