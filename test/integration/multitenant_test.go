package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/refrange/internal/domain/refrange"
	"github.com/ehr/refrange/internal/platform/db"
)

func TestMultiTenantIsolation(t *testing.T) {
	tenantA := newTenant(t, "tenantA")
	tenantB := newTenant(t, "tenantB")

	ctxA := tenantContext(t, tenantA)
	hb := seedParameter(t, ctxA, "Hemograma", "Hemoglobina")
	seedRange(t, ctxA, hb, "Masculino", 0, 18, 11, 16)
	seedRange(t, ctxA, hb, "Masculino", 12, 120, 13, 17)
	tsh := seedParameter(t, ctxA, "Perfil Tiroideo", "TSH")
	seedRange(t, ctxA, tsh, "Ambos", 0, 120, 0.5, 4.5)

	ctxB := tenantContext(t, tenantB)
	glu := seedParameter(t, ctxB, "Bioquimica", "Glucosa")
	seedRange(t, ctxB, glu, "Ambos", 0, 120, 70, 100)

	e := echo.New()
	api := e.Group("/api/v1")
	api.Use(db.TenantMiddleware(globalDB.Pool, tenantB))
	refrange.NewHandler(newRangeService(false)).RegisterRoutes(api)

	audit := func(t *testing.T, header string) *refrange.Report {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reference-ranges/audit", nil)
		if header != "" {
			req.Header.Set("X-Tenant-ID", header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var rep refrange.Report
		if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		return &rep
	}

	t.Run("TenantA", func(t *testing.T) {
		rep := audit(t, tenantA)
		if rep.Parameters != 2 || rep.High != 1 {
			t.Errorf("expected tenant A's 2 parameters and 1 overlap, got %+v", rep)
		}
	})

	t.Run("DefaultTenant", func(t *testing.T) {
		rep := audit(t, "")
		if rep.Parameters != 1 || rep.High != 0 {
			t.Errorf("expected only tenant B's clean parameter, got %+v", rep)
		}
	})

	t.Run("InvalidTenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reference-ranges/audit", nil)
		req.Header.Set("X-Tenant-ID", "bad;tenant")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("RepairStaysInTenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reference-ranges/repairs/split-ambos", strings.NewReader(`{"apply":true}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("X-Tenant-ID", tenantA)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if n := count(t, ctxA, `SELECT COUNT(*) FROM reference_range`); n != 5 {
			t.Errorf("expected TSH split into tenant A, got %d ranges", n)
		}
		if n := count(t, ctxB, `SELECT COUNT(*) FROM reference_range`); n != 1 {
			t.Errorf("tenant B must be untouched, got %d ranges", n)
		}
	})
}
