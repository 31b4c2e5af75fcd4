package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/edgefleet/authcore/internal/events"
	"github.com/edgefleet/authcore/internal/models"
	apperrors "github.com/edgefleet/authcore/pkg/errors"
)

// Key identifies a grant. TargetID is empty for global records.
type Key struct {
	TargetType   string
	TargetID     string
	ResourceType string
	ResourceName string
}

// PutInput describes a grant to upsert.
type PutInput struct {
	PermissionType           string
	TargetType               string
	TargetID                 string
	ResourceType             string
	ResourceName             string
	ResourceCategory         string
	AccessLevel              string
	PermissionSource         string
	SubscriptionTierRequired string
	ExpiresAt                *time.Time
	Metadata                 map[string]any
	ActorID                  string
}

// ListFilter narrows List results.
type ListFilter struct {
	TargetType      string
	TargetID        string
	ResourceType    string
	IncludeInactive bool
}

// Store is the durable permission mapping. All mutations go through Put and
// Deactivate so the at-most-one-active invariant holds.
type Store struct {
	db       *gorm.DB
	notifier events.Notifier
}

// NewStore constructs a permission store. A nil notifier disables events.
func NewStore(db *gorm.DB, notifier events.Notifier) (*Store, error) {
	if db == nil {
		return nil, errors.New("permission store: db is required")
	}
	if notifier == nil {
		notifier = events.Noop{}
	}
	return &Store{db: db, notifier: notifier}, nil
}

// Put upserts a grant by key: any existing active record with the same key is
// deactivated and a fresh row inserted, preserving history.
func (s *Store) Put(ctx context.Context, input PutInput) (*models.PermissionRecord, error) {
	permType, err := ParsePermissionType(input.PermissionType)
	if err != nil {
		return nil, err
	}
	targetType, err := ParseTargetType(input.TargetType)
	if err != nil {
		return nil, err
	}
	level, err := ParseAccessLevel(input.AccessLevel)
	if err != nil {
		return nil, err
	}
	source, err := ParsePermissionSource(input.PermissionSource)
	if err != nil {
		return nil, err
	}

	targetID := strings.TrimSpace(input.TargetID)
	if targetType == TargetGlobal && targetID != "" {
		return nil, apperrors.NewValidation("global grants must not carry a target id")
	}
	if targetType != TargetGlobal && targetID == "" {
		return nil, apperrors.NewValidation("target id is required for non-global grants")
	}

	resourceType := strings.TrimSpace(input.ResourceType)
	resourceName := strings.TrimSpace(input.ResourceName)
	if resourceType == "" || resourceName == "" {
		return nil, apperrors.NewValidation("resource type and name are required")
	}

	var metadata datatypes.JSON
	if len(input.Metadata) > 0 {
		raw, marshalErr := json.Marshal(input.Metadata)
		if marshalErr != nil {
			return nil, apperrors.NewValidation("metadata must be JSON serialisable")
		}
		metadata = datatypes.JSON(raw)
	}

	record := models.PermissionRecord{
		PermissionType:           permType,
		TargetType:               targetType,
		ResourceType:             resourceType,
		ResourceName:             resourceName,
		ResourceCategory:         strings.TrimSpace(input.ResourceCategory),
		AccessLevel:              string(level),
		PermissionSource:         source,
		SubscriptionTierRequired: strings.ToLower(strings.TrimSpace(input.SubscriptionTierRequired)),
		IsActive:                 true,
		ExpiresAt:                input.ExpiresAt,
		Metadata:                 metadata,
	}
	if targetID != "" {
		record.TargetID = &targetID
	}

	key := Key{TargetType: targetType, TargetID: targetID, ResourceType: resourceType, ResourceName: resourceName}

	var previousLevel string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PermissionRecord
		lookupErr := keyQuery(tx, key).Where("is_active = ?", true).First(&existing).Error
		switch {
		case lookupErr == nil:
			previousLevel = existing.AccessLevel
			if updateErr := tx.Model(&existing).Update("is_active", false).Error; updateErr != nil {
				return updateErr
			}
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			// first grant for this key
		default:
			return lookupErr
		}

		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, apperrors.NewStorage(err, "permission store: put grant")
	}

	s.notifier.Publish(ctx, events.SubjectPermissionGranted, map[string]any{
		"permission_id":  record.ID,
		"target_type":    record.TargetType,
		"target_id":      targetID,
		"resource_type":  record.ResourceType,
		"resource_name":  record.ResourceName,
		"actor_id":       strings.TrimSpace(input.ActorID),
		"previous_state": previousLevel,
		"new_state":      record.AccessLevel,
	})

	return &record, nil
}

// Get returns the single active, non-expired record for the key, or nil.
func (s *Store) Get(ctx context.Context, key Key) (*models.PermissionRecord, error) {
	var record models.PermissionRecord
	err := activeQuery(keyQuery(s.db.WithContext(ctx), key)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStorage(err, "permission store: load grant")
	}
	return &record, nil
}

// Deactivate soft-revokes the active record for the key. Returns false when
// nothing was active; revoking twice is not an error.
func (s *Store) Deactivate(ctx context.Context, key Key) (bool, error) {
	return s.deactivate(ctx, key, "")
}

// DeactivateBy is Deactivate with actor attribution on the published event.
func (s *Store) DeactivateBy(ctx context.Context, key Key, actorID string) (bool, error) {
	return s.deactivate(ctx, key, actorID)
}

func (s *Store) deactivate(ctx context.Context, key Key, actorID string) (bool, error) {
	result := keyQuery(s.db.WithContext(ctx).Model(&models.PermissionRecord{}), key).
		Where("is_active = ?", true).
		Update("is_active", false)
	if result.Error != nil {
		return false, apperrors.NewStorage(result.Error, "permission store: deactivate grant")
	}

	if result.RowsAffected == 0 {
		return false, nil
	}

	s.notifier.Publish(ctx, events.SubjectPermissionRevoked, map[string]any{
		"target_type":   key.TargetType,
		"target_id":     key.TargetID,
		"resource_type": key.ResourceType,
		"resource_name": key.ResourceName,
		"actor_id":      strings.TrimSpace(actorID),
	})
	return true, nil
}

// DeactivateTarget revokes every active grant held by the target. Used by the
// event consumer to cascade user/organization deletions.
func (s *Store) DeactivateTarget(ctx context.Context, targetType, targetID string) (int64, error) {
	targetType, err := ParseTargetType(targetType)
	if err != nil {
		return 0, err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return 0, apperrors.NewValidation("target id is required")
	}

	result := s.db.WithContext(ctx).Model(&models.PermissionRecord{}).
		Where("target_type = ? AND target_id = ? AND is_active = ?", targetType, targetID, true).
		Update("is_active", false)
	if result.Error != nil {
		return 0, apperrors.NewStorage(result.Error, "permission store: deactivate target")
	}
	return result.RowsAffected, nil
}

// List returns records matching the filter, newest first. Inactive and expired
// rows are excluded unless IncludeInactive is set.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.PermissionRecord, error) {
	query := s.db.WithContext(ctx).Model(&models.PermissionRecord{})

	if targetType := strings.TrimSpace(filter.TargetType); targetType != "" {
		normalized, err := ParseTargetType(targetType)
		if err != nil {
			return nil, err
		}
		query = query.Where("target_type = ?", normalized)
	}
	if targetID := strings.TrimSpace(filter.TargetID); targetID != "" {
		query = query.Where("target_id = ?", targetID)
	}
	if resourceType := strings.TrimSpace(filter.ResourceType); resourceType != "" {
		query = query.Where("resource_type = ?", resourceType)
	}
	if !filter.IncludeInactive {
		query = activeQuery(query)
	}

	var records []models.PermissionRecord
	if err := query.Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, apperrors.NewStorage(err, "permission store: list grants")
	}
	return records, nil
}

func keyQuery(db *gorm.DB, key Key) *gorm.DB {
	query := db.Where(
		"target_type = ? AND resource_type = ? AND resource_name = ?",
		strings.TrimSpace(key.TargetType),
		strings.TrimSpace(key.ResourceType),
		strings.TrimSpace(key.ResourceName),
	)
	if targetID := strings.TrimSpace(key.TargetID); targetID != "" {
		return query.Where("target_id = ?", targetID)
	}
	return query.Where("target_id IS NULL")
}

func activeQuery(db *gorm.DB) *gorm.DB {
	return db.Where("is_active = ?", true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC())
}
