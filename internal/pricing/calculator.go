package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
)

// LineItem is the priced input of a subtotal.
type LineItem struct {
	UnitPrice int64
	Quantity  int
}

// Commission is the platform cut taken on an order.
type Commission struct {
	Rate   float64              `json:"rate"`
	Base   enums.CommissionBase `json:"base"`
	Amount int64                `json:"amount"`
}

// CourierSplit divides a delivery fee between platform and courier.
type CourierSplit struct {
	Rate       float64 `json:"rate"`
	Commission int64   `json:"commission"`
	Payout     int64   `json:"payout"`
}

var vehicleMultipliers = map[enums.Vehicle]decimal.Decimal{
	enums.VehicleBike:       decimal.NewFromInt(1),
	enums.VehicleMotorcycle: decimal.RequireFromString("1.2"),
	enums.VehicleCar:        decimal.RequireFromString("1.5"),
}

// Subtotal sums unit price times quantity across items.
func Subtotal(items []LineItem) int64 {
	var total int64
	for _, item := range items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// ComputeCommission applies rate to the subtotal or the total depending on base.
func ComputeCommission(subtotal, total int64, rate float64, base enums.CommissionBase) Commission {
	if !base.IsValid() {
		base = enums.CommissionBaseSubtotal
	}
	source := subtotal
	if base == enums.CommissionBaseTotal {
		source = total
	}
	return Commission{
		Rate:   rate,
		Base:   base,
		Amount: roundMul(source, rate),
	}
}

// DeliveryFee prices a distance. The distance is first rounded to one decimal
// kilometer so quotes shown to the customer match what is charged.
func DeliveryFee(distanceKm float64, baseFee, perKm int64) (fee int64, roundedKm float64) {
	if distanceKm < 0 {
		distanceKm = 0
	}
	roundedKm = geo.RoundKm(distanceKm)
	km := decimal.NewFromFloat(roundedKm)
	amount := decimal.NewFromInt(baseFee).Add(km.Mul(decimal.NewFromInt(perKm)))
	return amount.Round(0).IntPart(), roundedKm
}

// VehicleMultiplier returns the price factor of a standalone shipment vehicle.
func VehicleMultiplier(v enums.Vehicle) decimal.Decimal {
	if m, ok := vehicleMultipliers[v]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

// ApplyVehicle scales a fee by the vehicle multiplier.
func ApplyVehicle(fee int64, v enums.Vehicle) int64 {
	return decimal.NewFromInt(fee).Mul(VehicleMultiplier(v)).Round(0).IntPart()
}

// SplitCourierFee computes the platform commission on a delivery fee and the
// remaining courier payout, which never goes negative.
func SplitCourierFee(fee int64, rate float64) CourierSplit {
	commission := roundMul(fee, rate)
	payout := fee - commission
	if payout < 0 {
		payout = 0
	}
	return CourierSplit{Rate: rate, Commission: commission, Payout: payout}
}

// Rates is the subset of the platform tunables pricing reads.
type Rates struct {
	CommissionRate        float64
	CommissionBase        enums.CommissionBase
	DeliveryBaseFee       int64
	DeliveryPerKm         int64
	CourierCommissionRate float64
}

// RatesFrom projects the global config row onto pricing rates.
func RatesFrom(cfg models.GlobalConfig) Rates {
	return Rates{
		CommissionRate:        cfg.CommissionRate,
		CommissionBase:        cfg.CommissionBase,
		DeliveryBaseFee:       cfg.DeliveryBaseFee,
		DeliveryPerKm:         cfg.DeliveryPerKm,
		CourierCommissionRate: cfg.CourierCommissionRate,
	}
}

func roundMul(amount int64, rate float64) int64 {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(rate)).Round(0).IntPart()
}
