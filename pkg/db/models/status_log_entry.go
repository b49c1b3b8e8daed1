package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

// StatusLogEntry is one append-only row of an order's transition history.
type StatusLogEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	Status    enums.OrderStatus `gorm:"column:status;type:order_status;not null"`
	ActorID   *uuid.UUID        `gorm:"column:actor_id;type:uuid"`
	ActorRole enums.ActorRole   `gorm:"column:actor_role;type:actor_role;not null"`
	Reason    *string           `gorm:"column:reason"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the table name.
func (StatusLogEntry) TableName() string { return "order_status_log" }
