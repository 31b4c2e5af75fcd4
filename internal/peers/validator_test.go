package peers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/edgefleet/authcore/pkg/errors"
)

func newValidator(t *testing.T, accountURL, orgURL string) *HTTPValidator {
	t.Helper()
	v, err := NewHTTPValidator(Config{
		AccountServiceURL:      accountURL,
		OrganizationServiceURL: orgURL,
		Timeout:                time.Second,
	})
	require.NoError(t, err)
	return v
}

func TestUserExistsStatusMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/users/known":
			w.WriteHeader(http.StatusOK)
		case "/internal/users/ghost":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	v := newValidator(t, server.URL, server.URL)
	ctx := context.Background()

	exists, err := v.UserExists(ctx, "known")
	require.NoError(t, err)
	require.True(t, exists)

	// 404 is the one authoritative "no".
	exists, err = v.UserExists(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, exists)

	// Anything else degrades open.
	exists, err = v.UserExists(ctx, "flaky")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestLookupCachesDefinitiveAnswers(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	v := newValidator(t, server.URL, server.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exists, err := v.UserExists(ctx, "user-1")
		require.NoError(t, err)
		require.True(t, exists)
	}
	require.EqualValues(t, 1, hits.Load())

	// Invalidation forces a fresh lookup.
	v.Invalidate("user-1")
	_, err := v.UserExists(ctx, "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
}

func TestOutagesAreNotCached(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	v := newValidator(t, server.URL, server.URL)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		exists, err := v.UserExists(ctx, "user-1")
		require.NoError(t, err)
		require.True(t, exists)
	}
	require.EqualValues(t, 2, hits.Load())
}

func TestStrictViewFailsClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	v := newValidator(t, server.URL, server.URL)
	strict := v.Strict()
	ctx := context.Background()

	_, err := strict.UserExists(ctx, "user-1")
	require.ErrorIs(t, err, apperrors.ErrPeerUnavailable)

	_, err = strict.OrgMember(ctx, "org-1", "user-1")
	require.ErrorIs(t, err, apperrors.ErrPeerUnavailable)
}

func TestStrictViewSharesTheCache(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	v := newValidator(t, server.URL, server.URL)
	ctx := context.Background()

	_, err := v.UserExists(ctx, "user-1")
	require.NoError(t, err)

	exists, err := v.Strict().UserExists(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.EqualValues(t, 1, hits.Load())
}

func TestOrgMemberURLShape(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	v := newValidator(t, server.URL, server.URL)
	member, err := v.OrgMember(context.Background(), "org-1", "user-1")
	require.NoError(t, err)
	require.True(t, member)
	require.Equal(t, "/internal/organizations/org-1/members/user-1", path)
}

func TestValidatorInputValidation(t *testing.T) {
	v := newValidator(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	ctx := context.Background()

	_, err := v.UserExists(ctx, " ")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = v.OrgMember(ctx, "", "user-1")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestNewHTTPValidatorRequiresURLs(t *testing.T) {
	_, err := NewHTTPValidator(Config{})
	require.Error(t, err)
}
