package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appflow "github.com/medagenda/backend/internal/application/flow"
	domainflow "github.com/medagenda/backend/internal/domain/flow"
	"github.com/medagenda/backend/internal/domain/integration"
	"github.com/medagenda/backend/internal/domain/shared"
	"github.com/medagenda/backend/internal/infrastructure/cache"
	"github.com/medagenda/backend/internal/interfaces/http/middleware"
)

type fragmentRepoStub struct {
	fragments []domainflow.ActionFragment
	created   []domainflow.ActionFragment
	deleted   []uuid.UUID
}

func (r *fragmentRepoStub) FindActive(_ context.Context, tenantID uuid.UUID, _, _ []string) ([]domainflow.ActionFragment, error) {
	var out []domainflow.ActionFragment
	for _, f := range r.fragments {
		if f.TenantID == tenantID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fragmentRepoStub) Create(_ context.Context, fragment *domainflow.ActionFragment) error {
	if fragment.ID == uuid.Nil {
		fragment.ID = uuid.New()
	}
	r.created = append(r.created, *fragment)
	return nil
}

func (r *fragmentRepoStub) SoftDelete(_ context.Context, tenantID, id uuid.UUID) error {
	for _, f := range r.fragments {
		if f.TenantID == tenantID && f.ID == id {
			r.deleted = append(r.deleted, id)
			return nil
		}
	}
	return shared.ErrNotFound
}

// asTenant simulates the auth and tenant middleware for handler tests.
func asTenant(tenant integration.Tenant) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.TenantKey, tenant)
	}
}

func newFlowTestServer(repo *fragmentRepoStub, tenant integration.Tenant) *gin.Engine {
	service := appflow.NewService(repo, cache.NewMemoryStore(), 0, zap.NewNop(), nil)
	h := NewFlowHandler(service)

	router := gin.New()
	router.Use(asTenant(tenant))
	router.POST("/flows/match", h.Match)
	router.POST("/flows", h.CreateFragment)
	router.DELETE("/flows/cache", h.ClearMatchCache)
	router.DELETE("/flows/:id", h.DeleteFragment)
	return router
}

func handlerTestTenant() integration.Tenant {
	return integration.Tenant{ID: uuid.New(), Type: integration.TenantTypeClinic, Environment: integration.EnvironmentProduction}
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestFlowHandler_MatchReturnsMergedActions(t *testing.T) {
	tenant := handlerTestTenant()
	maxDays := 14
	payload, _ := json.Marshal(domainflow.BookingRules{MaxDaysAhead: &maxDays})
	repo := &fragmentRepoStub{fragments: []domainflow.ActionFragment{{
		ID:         uuid.New(),
		TenantID:   tenant.ID,
		ActionKind: domainflow.ActionKindBookingRules,
		Payload:    payload,
	}}}
	router := newFlowTestServer(repo, tenant)

	rec := postJSON(router, "/flows/match", map[string]any{"steps": []string{"search"}})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Actions []struct {
				ActionKind string          `json:"actionKind"`
				Payload    json.RawMessage `json:"payload"`
			} `json:"actions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Actions, 1)
	assert.Equal(t, "booking_rules", resp.Data.Actions[0].ActionKind)
	assert.Contains(t, string(resp.Data.Actions[0].Payload), "14")
}

func TestFlowHandler_MatchInvalidBody(t *testing.T) {
	router := newFlowTestServer(&fragmentRepoStub{}, handlerTestTenant())

	req := httptest.NewRequest(http.MethodPost, "/flows/match", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlowHandler_MatchInvalidBirthDate(t *testing.T) {
	router := newFlowTestServer(&fragmentRepoStub{}, handlerTestTenant())

	rec := postJSON(router, "/flows/match", map[string]any{
		"patient": map[string]any{"birthDate": "31-12-1990"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlowHandler_CreateFragment(t *testing.T) {
	tenant := handlerTestTenant()
	repo := &fragmentRepoStub{}
	router := newFlowTestServer(repo, tenant)

	rec := postJSON(router, "/flows", map[string]any{
		"actionKind": "booking_rules",
		"payload":    map[string]any{"maxDaysAhead": 30},
		"priority":   5,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.created, 1)
	assert.Equal(t, tenant.ID, repo.created[0].TenantID)
	assert.Equal(t, 5, repo.created[0].Priority)
}

func TestFlowHandler_CreateFragmentRejectsInvalidAgeRange(t *testing.T) {
	router := newFlowTestServer(&fragmentRepoStub{}, handlerTestTenant())

	rec := postJSON(router, "/flows", map[string]any{
		"actionKind": "instruction",
		"ageMin":     40,
		"ageMax":     18,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlowHandler_CreateFragmentRejectsUnknownKind(t *testing.T) {
	router := newFlowTestServer(&fragmentRepoStub{}, handlerTestTenant())

	rec := postJSON(router, "/flows", map[string]any{"actionKind": "discount_rules"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlowHandler_CreateFragmentRejectsMalformedBookingPayload(t *testing.T) {
	router := newFlowTestServer(&fragmentRepoStub{}, handlerTestTenant())

	rec := postJSON(router, "/flows", map[string]any{
		"actionKind": "booking_rules",
		"payload":    map[string]any{"maxDaysAhead": "soon"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlowHandler_DeleteFragment(t *testing.T) {
	tenant := handlerTestTenant()
	fragment := domainflow.ActionFragment{ID: uuid.New(), TenantID: tenant.ID, ActionKind: domainflow.ActionKindInstruction}
	repo := &fragmentRepoStub{fragments: []domainflow.ActionFragment{fragment}}
	router := newFlowTestServer(repo, tenant)

	req := httptest.NewRequest(http.MethodDelete, "/flows/"+fragment.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{fragment.ID}, repo.deleted)
}

func TestFlowHandler_DeleteFragmentNotFound(t *testing.T) {
	router := newFlowTestServer(&fragmentRepoStub{}, handlerTestTenant())

	req := httptest.NewRequest(http.MethodDelete, "/flows/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlowHandler_DeleteFragmentInvalidID(t *testing.T) {
	router := newFlowTestServer(&fragmentRepoStub{}, handlerTestTenant())

	req := httptest.NewRequest(http.MethodDelete, "/flows/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlowHandler_ClearMatchCache(t *testing.T) {
	router := newFlowTestServer(&fragmentRepoStub{}, handlerTestTenant())

	req := httptest.NewRequest(http.MethodDelete, "/flows/cache", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cleared")
}

func TestFlowHandler_Unauthenticated(t *testing.T) {
	service := appflow.NewService(&fragmentRepoStub{}, cache.NewMemoryStore(), 0, zap.NewNop(), nil)
	h := NewFlowHandler(service)

	router := gin.New()
	router.POST("/flows/match", h.Match)

	rec := postJSON(router, "/flows/match", map[string]any{})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
