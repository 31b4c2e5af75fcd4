package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/edgefleet/authcore/pkg/logger"
)

// Subjects consumed from peer services for eventual consistency.
const (
	SubjectUserDeleted      = "account.user.deleted"
	SubjectOrgMemberRemoved = "organization.member.removed"
)

// PermissionCleaner deactivates permission records owned by a deleted target.
// Implemented by the permission store.
type PermissionCleaner interface {
	DeactivateTarget(ctx context.Context, targetType, targetID string) (int64, error)
}

// MemberPurger removes sharing member permissions for departed users.
// Implemented by the sharing service.
type MemberPurger interface {
	PurgeMember(ctx context.Context, userID string) (int64, error)
	PurgeOrgMember(ctx context.Context, orgID, userID string) (int64, error)
}

// Consumer applies local consequences of peer-service events. Each service
// owns its own cleanup; there are no synchronous cross-service delete calls.
type Consumer struct {
	conn    *nats.Conn
	cleaner PermissionCleaner
	purger  MemberPurger
	log     *zap.Logger

	subs []*nats.Subscription
}

// NewConsumer wires the event consumer.
func NewConsumer(conn *nats.Conn, cleaner PermissionCleaner, purger MemberPurger) (*Consumer, error) {
	if cleaner == nil {
		return nil, errors.New("event consumer: permission cleaner is required")
	}
	if purger == nil {
		return nil, errors.New("event consumer: member purger is required")
	}
	return &Consumer{
		conn:    conn,
		cleaner: cleaner,
		purger:  purger,
		log:     logger.WithModule("events.consumer"),
	}, nil
}

// Start subscribes to peer-service subjects. A nil connection is a no-op so
// deployments without a broker still boot.
func (c *Consumer) Start() error {
	if c.conn == nil {
		c.log.Info("no broker connection; event consumption disabled")
		return nil
	}

	sub, err := c.conn.Subscribe(SubjectUserDeleted, func(msg *nats.Msg) {
		c.handleUserDeleted(context.Background(), msg.Data)
	})
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)

	sub, err = c.conn.Subscribe(SubjectOrgMemberRemoved, func(msg *nats.Msg) {
		c.handleOrgMemberRemoved(context.Background(), msg.Data)
	})
	if err != nil {
		return err
	}
	c.subs = append(c.subs, sub)

	return nil
}

// Stop drains the subscriptions.
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
}

// HandleUserDeleted is exported for direct invocation in tests.
func (c *Consumer) HandleUserDeleted(ctx context.Context, userID string) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return
	}

	deactivated, err := c.cleaner.DeactivateTarget(ctx, "user", userID)
	if err != nil {
		c.log.Error("cascade permission cleanup failed", zap.String("user_id", userID), zap.Error(err))
	}

	purged, err := c.purger.PurgeMember(ctx, userID)
	if err != nil {
		c.log.Error("cascade member cleanup failed", zap.String("user_id", userID), zap.Error(err))
	}

	c.log.Info("applied user deletion",
		zap.String("user_id", userID),
		zap.Int64("permissions_deactivated", deactivated),
		zap.Int64("member_permissions_purged", purged),
	)
}

func (c *Consumer) handleUserDeleted(ctx context.Context, data []byte) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warn("discard malformed user.deleted event", zap.Error(err))
		return
	}
	c.HandleUserDeleted(ctx, payload.UserID)
}

// HandleOrgMemberRemoved is exported for direct invocation in tests.
func (c *Consumer) HandleOrgMemberRemoved(ctx context.Context, orgID, userID string) {
	orgID = strings.TrimSpace(orgID)
	userID = strings.TrimSpace(userID)
	if orgID == "" || userID == "" {
		return
	}

	purged, err := c.purger.PurgeOrgMember(ctx, orgID, userID)
	if err != nil {
		c.log.Error("org member cleanup failed",
			zap.String("org_id", orgID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	c.log.Info("applied org member removal",
		zap.String("org_id", orgID),
		zap.String("user_id", userID),
		zap.Int64("member_permissions_purged", purged),
	)
}

func (c *Consumer) handleOrgMemberRemoved(ctx context.Context, data []byte) {
	var payload struct {
		OrgID  string `json:"org_id"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warn("discard malformed member.removed event", zap.Error(err))
		return
	}
	c.HandleOrgMemberRemoved(ctx, payload.OrgID, payload.UserID)
}
