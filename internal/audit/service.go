package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/edgefleet/authcore/internal/models"
	"github.com/edgefleet/authcore/pkg/logger"
)

// Entry captures a single audit event to persist.
type Entry struct {
	ActorID  string
	Action   string
	Resource string
	Result   string
	Metadata map[string]any
}

// Filters encapsulates optional filters when querying audit logs.
type Filters struct {
	ActorID  string
	Action   string
	Result   string
	Resource string
	Since    *time.Time
	Until    *time.Time
}

// ListOptions controls pagination and filtering for audit queries.
type ListOptions struct {
	Page     int
	PageSize int
	Filters  Filters
}

// Service persists and retrieves audit log entries.
type Service struct {
	db *gorm.DB
}

// NewService constructs an audit service using the provided database handle.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &Service{db: db}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
func (s *Service) Log(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	payload := ""
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		payload = string(encoded)
	}

	record := models.AuditLog{
		Action:   strings.TrimSpace(entry.Action),
		Resource: strings.TrimSpace(entry.Resource),
		Result:   strings.TrimSpace(entry.Result),
		Metadata: payload,
	}

	if actor := strings.TrimSpace(entry.ActorID); actor != "" {
		record.ActorID = &actor
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

// List returns paginated audit logs ordered by creation time descending.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]models.AuditLog, int64, error) {
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.AuditLog
		total   int64
	)

	query := applyFilters(s.db.WithContext(ctx).Model(&models.AuditLog{}), opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error
	if err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

func applyFilters(query *gorm.DB, filters Filters) *gorm.DB {
	if actor := strings.TrimSpace(filters.ActorID); actor != "" {
		query = query.Where("actor_id = ?", actor)
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		query = query.Where("action = ?", action)
	}
	if result := strings.TrimSpace(filters.Result); result != "" {
		query = query.Where("result = ?", result)
	}
	if resource := strings.TrimSpace(filters.Resource); resource != "" {
		query = query.Where("resource = ?", resource)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", filters.Until)
	}
	return query
}

// Record logs best-effort: audit persistence must not fail the business
// operation, but a dropped entry still leaves a warning behind.
func Record(svc *Service, ctx context.Context, entry Entry) {
	if svc == nil {
		return
	}
	if err := svc.Log(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("audit entry dropped",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
