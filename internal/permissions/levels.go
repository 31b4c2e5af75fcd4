package permissions

import (
	"fmt"
	"strings"

	apperrors "github.com/edgefleet/authcore/pkg/errors"
)

// AccessLevel is the ordered access enum: none < read_only < read_write < admin < owner.
type AccessLevel string

const (
	LevelNone      AccessLevel = "none"
	LevelReadOnly  AccessLevel = "read_only"
	LevelReadWrite AccessLevel = "read_write"
	LevelAdmin     AccessLevel = "admin"
	LevelOwner     AccessLevel = "owner"
)

var levelOrdinals = map[AccessLevel]int{
	LevelNone:      0,
	LevelReadOnly:  1,
	LevelReadWrite: 2,
	LevelAdmin:     3,
	LevelOwner:     4,
}

// Ordinal returns the comparable rank of the level, or -1 for unknown values.
func (l AccessLevel) Ordinal() int {
	if ord, ok := levelOrdinals[l]; ok {
		return ord
	}
	return -1
}

// AtLeast reports whether l grants at minimum the required level.
func (l AccessLevel) AtLeast(required AccessLevel) bool {
	return l.Ordinal() >= required.Ordinal() && l.Ordinal() >= 0
}

// ParseAccessLevel validates and normalises an access level string.
func ParseAccessLevel(value string) (AccessLevel, error) {
	level := AccessLevel(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := levelOrdinals[level]; !ok {
		return "", apperrors.NewValidation(fmt.Sprintf("unknown access level %q", value))
	}
	return level, nil
}

// Permission record categories.
const (
	TypeResourceConfig = "resource_config"
	TypeUserPermission = "user_permission"
	TypeOrgPermission  = "org_permission"
	TypeAuditLog       = "audit_log"
)

var permissionTypes = map[string]struct{}{
	TypeResourceConfig: {},
	TypeUserPermission: {},
	TypeOrgPermission:  {},
	TypeAuditLog:       {},
}

// Grant target kinds.
const (
	TargetGlobal       = "global"
	TargetUser         = "user"
	TargetOrganization = "organization"
)

var targetTypes = map[string]struct{}{
	TargetGlobal:       {},
	TargetUser:         {},
	TargetOrganization: {},
}

// Grant provenance.
const (
	SourceSystemDefault = "system_default"
	SourceSubscription  = "subscription"
	SourceAdminGrant    = "admin_grant"
	SourceOrganization  = "organization"
)

var permissionSources = map[string]struct{}{
	SourceSystemDefault: {},
	SourceSubscription:  {},
	SourceAdminGrant:    {},
	SourceOrganization:  {},
}

// ParsePermissionType validates a permission record category.
func ParsePermissionType(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, ok := permissionTypes[normalized]; !ok {
		return "", apperrors.NewValidation(fmt.Sprintf("unknown permission type %q", value))
	}
	return normalized, nil
}

// ParseTargetType validates a grant target kind.
func ParseTargetType(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, ok := targetTypes[normalized]; !ok {
		return "", apperrors.NewValidation(fmt.Sprintf("unknown target type %q", value))
	}
	return normalized, nil
}

// ParsePermissionSource validates grant provenance.
func ParsePermissionSource(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, ok := permissionSources[normalized]; !ok {
		return "", apperrors.NewValidation(fmt.Sprintf("unknown permission source %q", value))
	}
	return normalized, nil
}

// Subscription tiers gate global resource defaults. Ordered: free < basic < pro < enterprise.
var tierOrdinals = map[string]int{
	"":           0,
	"free":       0,
	"basic":      1,
	"pro":        2,
	"enterprise": 3,
}

// MeetsTier reports whether the principal's tier satisfies the required tier.
// Unknown tiers never satisfy a requirement.
func MeetsTier(principalTier, requiredTier string) bool {
	required, ok := tierOrdinals[strings.ToLower(strings.TrimSpace(requiredTier))]
	if !ok {
		return false
	}
	have, ok := tierOrdinals[strings.ToLower(strings.TrimSpace(principalTier))]
	if !ok {
		return false
	}
	return have >= required
}
