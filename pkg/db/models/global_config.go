package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

// GlobalConfigID is the primary key of the singleton tunables row.
const GlobalConfigID = 1

// GlobalConfig holds platform-wide pricing and geofence tunables.
type GlobalConfig struct {
	ID                    int                  `gorm:"column:id;primaryKey"`
	CommissionRate        float64              `gorm:"column:commission_rate;not null"`
	CommissionBase        enums.CommissionBase `gorm:"column:commission_base;type:commission_base;not null"`
	DeliveryBaseFee       int64                `gorm:"column:delivery_base_fee;not null"`
	DeliveryPerKm         int64                `gorm:"column:delivery_per_km;not null"`
	GeofenceRadiusM       float64              `gorm:"column:geofence_radius_m;not null"`
	GeofenceMaxAccuracyM  float64              `gorm:"column:geofence_max_accuracy_m;not null"`
	CourierCommissionRate float64              `gorm:"column:courier_commission_rate;not null"`
	UpdatedAt             time.Time            `gorm:"column:updated_at;autoUpdateTime"`
	UpdatedBy             *uuid.UUID           `gorm:"column:updated_by;type:uuid"`
}

// TableName pins the table name.
func (GlobalConfig) TableName() string { return "global_config" }
