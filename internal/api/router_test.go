package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/edgefleet/authcore/internal/audit"
	"github.com/edgefleet/authcore/internal/billing"
	"github.com/edgefleet/authcore/internal/database/testutil"
	"github.com/edgefleet/authcore/internal/events"
	"github.com/edgefleet/authcore/internal/peers"
	"github.com/edgefleet/authcore/internal/permissions"
	"github.com/edgefleet/authcore/internal/sharing"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	notifier := events.Noop{}
	validator := peers.Permissive{}

	store, err := permissions.NewStore(db, notifier)
	require.NoError(t, err)

	auditSvc, err := audit.NewService(db)
	require.NoError(t, err)

	evaluator, err := permissions.NewEvaluator(store, validator, permissions.WithAudit(auditSvc))
	require.NoError(t, err)

	sharingSvc, err := sharing.NewService(db, evaluator, validator, notifier)
	require.NoError(t, err)

	coordinator, err := billing.NewCoordinator(db, notifier)
	require.NoError(t, err)

	router, err := NewRouter(db, Services{
		Store:     store,
		Evaluator: evaluator,
		Sharing:   sharingSvc,
		Billing:   coordinator,
		Audit:     auditSvc,
	})
	require.NoError(t, err)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, principal string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set("X-Principal-ID", principal)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, rec.Body.String())
	return envelope.Data
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresPrincipalHeader(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/permissions", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPermissionPutAndCheckFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/permissions", "admin-1", map[string]any{
		"permission_type":   "user_permission",
		"target_type":       "user",
		"target_id":         "user-1",
		"resource_type":     "api",
		"resource_name":     "reporting-api",
		"access_level":      "read_write",
		"permission_source": "admin_grant",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/permissions/check", "user-1", map[string]any{
		"resource_type":  "api",
		"resource_name":  "reporting-api",
		"required_level": "read_write",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Equal(t, true, data["allowed"])
	require.Equal(t, "user_permission", data["source"])
}

func TestPermissionCheckFallsBackToSeededDefaults(t *testing.T) {
	router := newTestRouter(t)

	// Seeded global default: chat-api read_write for every tier.
	rec := doJSON(t, router, http.MethodPost, "/api/permissions/check", "user-9", map[string]any{
		"resource_type":  "api",
		"resource_name":  "default-chat-api",
		"required_level": "read_write",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Equal(t, true, data["allowed"])
	require.Equal(t, "resource_config", data["source"])
}

func TestSharingLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/sharings", "creator-1", map[string]any{
		"organization_id": "org-1",
		"resource_type":   "notebook",
		"resource_id":     "nb-1",
		"default_level":   "read_only",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	sharingID, _ := decodeData(t, rec)["id"].(string)
	require.NotEmpty(t, sharingID)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/sharings/%s/members", sharingID), "creator-1", map[string]any{
		"member_id": "member-1",
		"level":     "read_write",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/sharings/%s/access", sharingID), "member-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeData(t, rec)["allowed"])

	rec = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/sharings/%s/members/member-1", sharingID), "creator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeData(t, rec)["revoked"])

	rec = doJSON(t, router, http.MethodGet, "/api/organizations/org-1/sharings", "creator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBillingConsumeOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/billing/topup", "admin-1", map[string]any{
		"user_id": "user-1",
		"source":  "wallet",
		"amount":  100,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/billing/consume", "user-1", map[string]any{
		"amount":          40,
		"usage_record_id": "usage-1",
		"service_type":    "chat",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Equal(t, true, data["success"])

	// The response reports remaining balances per source.
	remaining, ok := data["remaining"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 60, remaining["wallet_balance"])
	require.EqualValues(t, 60, remaining["total"])

	// Insufficient balance is still a 200 with a structured refusal.
	rec = doJSON(t, router, http.MethodPost, "/api/billing/consume", "user-1", map[string]any{
		"amount":          500,
		"usage_record_id": "usage-2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	require.Equal(t, false, data["success"])
	require.Equal(t, "insufficient_credits", data["reason"])
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationErrorsReturnBadRequest(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/billing/consume", "user-1", map[string]any{
		"amount": 10,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
