package auditlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

// Entry is one accepted order transition.
type Entry struct {
	OrderID   uuid.UUID
	Status    enums.OrderStatus
	ActorID   *uuid.UUID
	ActorRole enums.ActorRole
	Reason    string
	At        time.Time
}

// Service records order history. Append never fails the caller.
type Service interface {
	Append(ctx context.Context, entry Entry)
	List(ctx context.Context, orderID uuid.UUID) ([]models.StatusLogEntry, error)
	LatestStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, bool, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService wires the audit log.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit log repository required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) Append(ctx context.Context, entry Entry) {
	row := &models.StatusLogEntry{
		ID:        uuid.New(),
		OrderID:   entry.OrderID,
		Status:    entry.Status,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		CreatedAt: entry.At,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if reason := strings.TrimSpace(entry.Reason); reason != "" {
		row.Reason = &reason
	}
	if err := s.repo.Create(ctx, row); err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": entry.OrderID.String(),
			"status":   entry.Status,
		})
		s.logg.Error(logCtx, "audit log append failed", err)
	}
}

func (s *service) List(ctx context.Context, orderID uuid.UUID) ([]models.StatusLogEntry, error) {
	entries, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order history")
	}
	return entries, nil
}

func (s *service) LatestStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, bool, error) {
	entry, err := s.repo.Latest(ctx, orderID)
	if err != nil {
		return "", false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read latest order status")
	}
	if entry == nil {
		return "", false, nil
	}
	return entry.Status, true, nil
}
