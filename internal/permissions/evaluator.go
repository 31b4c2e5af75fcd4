package permissions

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/edgefleet/authcore/internal/audit"
	"github.com/edgefleet/authcore/internal/peers"
	apperrors "github.com/edgefleet/authcore/pkg/errors"
	"github.com/edgefleet/authcore/pkg/logger"
	"github.com/edgefleet/authcore/pkg/metrics"
)

// Decision is the outcome of an access check. Denial is a normal result,
// never an error.
type Decision struct {
	Allowed        bool        `json:"allowed"`
	EffectiveLevel AccessLevel `json:"effective_level"`
	Source         string      `json:"source"`
}

// Decision sources, matching the precedence order.
const (
	DecisionSourceUser   = TypeUserPermission
	DecisionSourceOrg    = TypeOrgPermission
	DecisionSourceGlobal = TypeResourceConfig
	DecisionSourceNone   = "none"
)

// CheckInput describes one access question.
type CheckInput struct {
	PrincipalID      string
	OrganizationID   string // optional; org-level grants are only consulted when set
	ResourceType     string
	ResourceName     string
	RequiredLevel    AccessLevel
	SubscriptionTier string
	// FailClosed makes peer outages abort the check instead of skipping the
	// org step. Reserved for administrative decisions.
	FailClosed bool
}

// Evaluator answers access checks with fixed precedence: an explicit user
// grant wins over an org grant, which wins over the global resource default.
// Explicit beats implicit even when the implicit rule would grant more.
type Evaluator struct {
	store  *Store
	peers  peers.Validator
	strict peers.Validator
	audit  *audit.Service
	log    *zap.Logger
}

// EvaluatorOption customises the evaluator.
type EvaluatorOption func(*Evaluator)

// WithAudit enables audit logging of every check.
func WithAudit(svc *audit.Service) EvaluatorOption {
	return func(e *Evaluator) {
		e.audit = svc
	}
}

// WithStrictValidator supplies the fail-closed validator used when a check
// requests FailClosed semantics.
func WithStrictValidator(v peers.Validator) EvaluatorOption {
	return func(e *Evaluator) {
		if v != nil {
			e.strict = v
		}
	}
}

// NewEvaluator constructs an evaluator over the store and peer validator.
func NewEvaluator(store *Store, validator peers.Validator, opts ...EvaluatorOption) (*Evaluator, error) {
	if store == nil {
		return nil, errors.New("evaluator: permission store is required")
	}
	if validator == nil {
		return nil, errors.New("evaluator: peer validator is required")
	}

	e := &Evaluator{
		store: store,
		peers: validator,
		log:   logger.WithModule("permissions"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CheckAccess evaluates whether the principal may use the resource at the
// required level. Pure read; the only side effect is an optional audit entry.
func (e *Evaluator) CheckAccess(ctx context.Context, input CheckInput) (Decision, error) {
	principalID := strings.TrimSpace(input.PrincipalID)
	if principalID == "" {
		return Decision{}, apperrors.NewValidation("principal id is required")
	}
	resourceType := strings.TrimSpace(input.ResourceType)
	resourceName := strings.TrimSpace(input.ResourceName)
	if resourceType == "" || resourceName == "" {
		return Decision{}, apperrors.NewValidation("resource type and name are required")
	}
	if input.RequiredLevel.Ordinal() < 0 {
		return Decision{}, apperrors.NewValidation("unknown required access level")
	}

	decision, err := e.resolve(ctx, principalID, input)
	if err != nil {
		metrics.AccessChecks.WithLabelValues(resourceType, "error").Inc()
		return Decision{}, err
	}

	decision.Allowed = decision.EffectiveLevel.AtLeast(input.RequiredLevel)

	result := "denied"
	if decision.Allowed {
		result = "allowed"
	}
	metrics.AccessChecks.WithLabelValues(resourceType, result).Inc()

	audit.Record(e.audit, ctx, audit.Entry{
		ActorID:  principalID,
		Action:   "access.check",
		Resource: resourceType + ":" + resourceName,
		Result:   result,
		Metadata: map[string]any{
			"required_level":  string(input.RequiredLevel),
			"effective_level": string(decision.EffectiveLevel),
			"source":          decision.Source,
		},
	})

	return decision, nil
}

func (e *Evaluator) resolve(ctx context.Context, principalID string, input CheckInput) (Decision, error) {
	resourceType := strings.TrimSpace(input.ResourceType)
	resourceName := strings.TrimSpace(input.ResourceName)

	// 1. Explicit user grant.
	record, err := e.store.Get(ctx, Key{
		TargetType:   TargetUser,
		TargetID:     principalID,
		ResourceType: resourceType,
		ResourceName: resourceName,
	})
	if err != nil {
		return Decision{}, err
	}
	if record != nil {
		return Decision{EffectiveLevel: AccessLevel(record.AccessLevel), Source: DecisionSourceUser}, nil
	}

	// 2. Organization grant, membership confirmed via the peer validator.
	if orgID := strings.TrimSpace(input.OrganizationID); orgID != "" {
		decision, found, orgErr := e.resolveOrg(ctx, principalID, orgID, resourceType, resourceName, input.FailClosed)
		if orgErr != nil {
			return Decision{}, orgErr
		}
		if found {
			return decision, nil
		}
	}

	// 3. Global resource default, gated on the subscription tier.
	record, err = e.store.Get(ctx, Key{
		TargetType:   TargetGlobal,
		ResourceType: resourceType,
		ResourceName: resourceName,
	})
	if err != nil {
		return Decision{}, err
	}
	if record != nil && MeetsTier(input.SubscriptionTier, record.SubscriptionTierRequired) {
		return Decision{EffectiveLevel: AccessLevel(record.AccessLevel), Source: DecisionSourceGlobal}, nil
	}

	// 4. No applicable rule.
	return Decision{EffectiveLevel: LevelNone, Source: DecisionSourceNone}, nil
}

func (e *Evaluator) resolveOrg(ctx context.Context, principalID, orgID, resourceType, resourceName string, failClosed bool) (Decision, bool, error) {
	validator := e.peers
	if failClosed && e.strict != nil {
		validator = e.strict
	}

	member, err := validator.OrgMember(ctx, orgID, principalID)
	if err != nil {
		if failClosed {
			return Decision{}, false, apperrors.ErrPeerUnavailable.WithInternal(err)
		}
		// Membership unknowable; skip the org step rather than block a read.
		e.log.Warn("skipping org grant lookup",
			zap.String("org_id", orgID),
			zap.String("principal_id", principalID),
			zap.Error(err),
		)
		return Decision{}, false, nil
	}
	if !member {
		return Decision{}, false, nil
	}

	record, err := e.store.Get(ctx, Key{
		TargetType:   TargetOrganization,
		TargetID:     orgID,
		ResourceType: resourceType,
		ResourceName: resourceName,
	})
	if err != nil {
		return Decision{}, false, err
	}
	if record == nil {
		return Decision{}, false, nil
	}

	return Decision{EffectiveLevel: AccessLevel(record.AccessLevel), Source: DecisionSourceOrg}, true, nil
}
