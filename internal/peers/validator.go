package peers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	apperrors "github.com/edgefleet/authcore/pkg/errors"
	"github.com/edgefleet/authcore/pkg/logger"
	"github.com/edgefleet/authcore/pkg/metrics"
)

// Validator checks referential integrity against peer services. There are no
// cross-service foreign keys; existence is validated over HTTP with a cache,
// trading strictness for availability.
type Validator interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	OrgMember(ctx context.Context, orgID, userID string) (bool, error)
}

const defaultCacheSize = 1000
const defaultTimeout = 2 * time.Second

// Config describes the peer service endpoints.
type Config struct {
	AccountServiceURL      string
	OrganizationServiceURL string
	Timeout                time.Duration
	CacheSize              int
}

// HTTPValidator is the production Validator. Policy: a definitive 404 means
// "does not exist"; any transport failure or unexpected status fails open
// (warn and assume valid) so writes never block on a peer outage. Use Strict
// for administrative operations that must fail closed instead.
type HTTPValidator struct {
	cfg    Config
	client *http.Client
	cache  *lru.Cache[string, bool]
	log    *zap.Logger
}

// NewHTTPValidator builds a validator with a bounded lookup cache.
func NewHTTPValidator(cfg Config) (*HTTPValidator, error) {
	cfg.AccountServiceURL = strings.TrimRight(strings.TrimSpace(cfg.AccountServiceURL), "/")
	cfg.OrganizationServiceURL = strings.TrimRight(strings.TrimSpace(cfg.OrganizationServiceURL), "/")
	if cfg.AccountServiceURL == "" || cfg.OrganizationServiceURL == "" {
		return nil, errors.New("peer validator: account and organization service URLs are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, bool](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("peer validator: build cache: %w", err)
	}

	return &HTTPValidator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		log:    logger.WithModule("peers"),
	}, nil
}

// UserExists checks the account service for the user id.
func (v *HTTPValidator) UserExists(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, apperrors.NewValidation("user id is required")
	}
	url := fmt.Sprintf("%s/internal/users/%s", v.cfg.AccountServiceURL, userID)
	return v.lookup(ctx, "user_exists", "user:"+userID, url, false)
}

// OrgMember checks the organization service for membership.
func (v *HTTPValidator) OrgMember(ctx context.Context, orgID, userID string) (bool, error) {
	orgID = strings.TrimSpace(orgID)
	userID = strings.TrimSpace(userID)
	if orgID == "" || userID == "" {
		return false, apperrors.NewValidation("organization id and user id are required")
	}
	url := fmt.Sprintf("%s/internal/organizations/%s/members/%s", v.cfg.OrganizationServiceURL, orgID, userID)
	return v.lookup(ctx, "org_member", "member:"+orgID+":"+userID, url, false)
}

// Strict returns a view of this validator that surfaces ErrPeerUnavailable on
// outages instead of assuming validity. Call sites performing destructive or
// owner-level operations opt in to this.
func (v *HTTPValidator) Strict() Validator {
	return strictValidator{inner: v}
}

// Invalidate evicts a cached user lookup, e.g. after consuming a deletion event.
func (v *HTTPValidator) Invalidate(userID string) {
	v.cache.Remove("user:" + strings.TrimSpace(userID))
}

// Reset clears the whole cache.
func (v *HTTPValidator) Reset() {
	v.cache.Purge()
}

func (v *HTTPValidator) lookup(ctx context.Context, kind, cacheKey, url string, failClosed bool) (bool, error) {
	if cached, ok := v.cache.Get(cacheKey); ok {
		metrics.PeerValidations.WithLabelValues(kind, "hit").Inc()
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return v.degrade(kind, url, err, failClosed)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return v.degrade(kind, url, err, failClosed)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		v.cache.Add(cacheKey, true)
		metrics.PeerValidations.WithLabelValues(kind, "miss").Inc()
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		// Authoritative answer, safe to cache.
		v.cache.Add(cacheKey, false)
		metrics.PeerValidations.WithLabelValues(kind, "miss").Inc()
		return false, nil
	default:
		return v.degrade(kind, url, fmt.Errorf("unexpected status %d", resp.StatusCode), failClosed)
	}
}

func (v *HTTPValidator) degrade(kind, url string, cause error, failClosed bool) (bool, error) {
	if failClosed {
		metrics.PeerValidations.WithLabelValues(kind, "fail_closed").Inc()
		return false, apperrors.ErrPeerUnavailable.WithInternal(cause)
	}

	metrics.PeerValidations.WithLabelValues(kind, "fail_open").Inc()
	v.log.Warn("peer validation degraded; assuming valid",
		zap.String("lookup", kind),
		zap.String("url", url),
		zap.Error(cause),
	)
	return true, nil
}

type strictValidator struct {
	inner *HTTPValidator
}

func (s strictValidator) UserExists(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, apperrors.NewValidation("user id is required")
	}
	url := fmt.Sprintf("%s/internal/users/%s", s.inner.cfg.AccountServiceURL, userID)
	return s.inner.lookup(ctx, "user_exists", "user:"+userID, url, true)
}

func (s strictValidator) OrgMember(ctx context.Context, orgID, userID string) (bool, error) {
	orgID = strings.TrimSpace(orgID)
	userID = strings.TrimSpace(userID)
	if orgID == "" || userID == "" {
		return false, apperrors.NewValidation("organization id and user id are required")
	}
	url := fmt.Sprintf("%s/internal/organizations/%s/members/%s", s.inner.cfg.OrganizationServiceURL, orgID, userID)
	return s.inner.lookup(ctx, "org_member", "member:"+orgID+":"+userID, url, true)
}

// Permissive approves every lookup. Used in tests and single-service deployments.
type Permissive struct{}

// UserExists implements Validator.
func (Permissive) UserExists(context.Context, string) (bool, error) { return true, nil }

// OrgMember implements Validator.
func (Permissive) OrgMember(context.Context, string, string) (bool, error) { return true, nil }

// Static answers from fixed maps; missing keys default to Fallback. Test helper.
type Static struct {
	Users    map[string]bool
	Members  map[string]bool // keyed orgID:userID
	Fallback bool
	Err      error
}

// UserExists implements Validator.
func (s Static) UserExists(_ context.Context, userID string) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	if ok, found := s.Users[userID]; found {
		return ok, nil
	}
	return s.Fallback, nil
}

// OrgMember implements Validator.
func (s Static) OrgMember(_ context.Context, orgID, userID string) (bool, error) {
	if s.Err != nil {
		return false, s.Err
	}
	if ok, found := s.Members[orgID+":"+userID]; found {
		return ok, nil
	}
	return s.Fallback, nil
}
