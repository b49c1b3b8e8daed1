package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
)

type orderItemResponse struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	UnitPrice int64     `json:"unit_price"`
	Quantity  int       `json:"quantity"`
}

type orderResponse struct {
	ID               uuid.UUID           `json:"id"`
	CustomerID       uuid.UUID           `json:"customer_id"`
	MerchantID       uuid.UUID           `json:"merchant_id"`
	Status           enums.OrderStatus   `json:"status"`
	SubtotalProducts int64               `json:"subtotal_products"`
	DeliveryFee      int64               `json:"delivery_fee"`
	Total            int64               `json:"total"`
	CommissionAmount int64               `json:"commission_amount"`
	Currency         string              `json:"currency"`
	PaymentMethod    enums.PaymentMethod `json:"payment_method"`
	PaymentStatus    enums.PaymentStatus `json:"payment_status"`
	CheckoutURL      *string             `json:"checkout_url,omitempty"`
	DeliveryLegID    *uuid.UUID          `json:"delivery_leg_id,omitempty"`
	DeliveryAddress  string              `json:"delivery_address"`
	CourierID        *uuid.UUID          `json:"courier_id,omitempty"`
	TrackingToken    string              `json:"tracking_token"`
	DistanceKm       float64             `json:"distance_km"`
	Items            []orderItemResponse `json:"items,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func newOrderResponse(o *models.CommerceOrder) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		CustomerID:       o.CustomerID,
		MerchantID:       o.MerchantID,
		Status:           o.Status,
		SubtotalProducts: o.SubtotalProducts,
		DeliveryFee:      o.DeliveryFee,
		Total:            o.Total,
		CommissionAmount: o.CommissionAmount,
		Currency:         o.Currency,
		PaymentMethod:    o.PaymentMethod,
		PaymentStatus:    o.PaymentStatus,
		CheckoutURL:      o.CheckoutURL,
		DeliveryLegID:    o.DeliveryLegID,
		DeliveryAddress:  o.DeliveryAddress,
		CourierID:        o.CourierID,
		TrackingToken:    o.TrackingToken,
		DistanceKm:       o.DistanceKm,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return resp
}

type historyEntryResponse struct {
	Status    enums.OrderStatus `json:"status"`
	ActorID   *uuid.UUID        `json:"actor_id,omitempty"`
	ActorRole enums.ActorRole   `json:"actor_role"`
	Reason    *string           `json:"reason,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func newHistoryResponse(entries []models.StatusLogEntry) []historyEntryResponse {
	out := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryResponse{
			Status:    e.Status,
			ActorID:   e.ActorID,
			ActorRole: e.ActorRole,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

type legResponse struct {
	ID              uuid.UUID              `json:"id"`
	CommerceOrderID *uuid.UUID             `json:"commerce_order_id,omitempty"`
	MerchantID      uuid.UUID              `json:"merchant_id"`
	State           enums.LegState         `json:"state"`
	OriginText      string                 `json:"origin_text"`
	DestinationText string                 `json:"destination_text"`
	DistanceKm      float64                `json:"distance_km"`
	Vehicle         *enums.Vehicle         `json:"vehicle,omitempty"`
	DeliveryPrice   int64                  `json:"delivery_price"`
	CourierPayout   int64                  `json:"courier_payout"`
	PaymentMethod   enums.LegPaymentMethod `json:"payment_method"`
	PaymentStatus   *enums.PaymentStatus   `json:"payment_status,omitempty"`
	CheckoutURL     *string                `json:"checkout_url,omitempty"`
	CourierID       *uuid.UUID             `json:"courier_id,omitempty"`
	TrackingToken   string                 `json:"tracking_token"`
	ProofDistanceM  *float64               `json:"proof_distance_m,omitempty"`
	ClaimedAt       *time.Time             `json:"claimed_at,omitempty"`
	DeliveredAt     *time.Time             `json:"delivered_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func newLegResponse(l *models.DeliveryLeg) legResponse {
	return legResponse{
		ID:              l.ID,
		CommerceOrderID: l.CommerceOrderID,
		MerchantID:      l.MerchantID,
		State:           l.State,
		OriginText:      l.OriginText,
		DestinationText: l.DestinationText,
		DistanceKm:      l.DistanceKm,
		Vehicle:         l.Vehicle,
		DeliveryPrice:   l.DeliveryPrice,
		CourierPayout:   l.CourierPayout,
		PaymentMethod:   l.PaymentMethod,
		PaymentStatus:   l.PaymentStatus,
		CheckoutURL:     l.CheckoutURL,
		CourierID:       l.CourierID,
		TrackingToken:   l.TrackingToken,
		ProofDistanceM:  l.ProofDistanceM,
		ClaimedAt:       l.ClaimedAt,
		DeliveredAt:     l.DeliveredAt,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

type walletResponse struct {
	CourierID        uuid.UUID `json:"courier_id"`
	Balance          int64     `json:"balance"`
	Pending          int64     `json:"pending"`
	TotalEarned      int64     `json:"total_earned"`
	TotalCommissions int64     `json:"total_commissions"`
	TotalWithdrawn   int64     `json:"total_withdrawn"`
	Currency         string    `json:"currency"`
}

func newWalletResponse(w *models.Wallet) walletResponse {
	return walletResponse{
		CourierID:        w.CourierID,
		Balance:          w.Balance,
		Pending:          w.Pending,
		TotalEarned:      w.TotalEarned,
		TotalCommissions: w.TotalCommissions,
		TotalWithdrawn:   w.TotalWithdrawn,
		Currency:         w.Currency,
	}
}

type transactionResponse struct {
	ID            uuid.UUID            `json:"id"`
	Type          enums.WalletTxType   `json:"type"`
	Amount        int64                `json:"amount"`
	Status        enums.WalletTxStatus `json:"status"`
	OrderID       *uuid.UUID           `json:"order_id,omitempty"`
	DeliveryLegID *uuid.UUID           `json:"delivery_leg_id,omitempty"`
	Reason        *string              `json:"reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

func newTransactionResponse(t *models.WalletTransaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		Type:          t.Type,
		Amount:        t.Amount,
		Status:        t.Status,
		OrderID:       t.OrderID,
		DeliveryLegID: t.DeliveryLegID,
		Reason:        t.Reason,
		CreatedAt:     t.CreatedAt,
	}
}

type configResponse struct {
	CommissionRate        float64              `json:"commission_rate"`
	CommissionBase        enums.CommissionBase `json:"commission_base"`
	DeliveryBaseFee       int64                `json:"delivery_base_fee"`
	DeliveryPerKm         int64                `json:"delivery_per_km"`
	GeofenceRadiusM       float64              `json:"geofence_radius_m"`
	GeofenceMaxAccuracyM  float64              `json:"geofence_max_accuracy_m"`
	CourierCommissionRate float64              `json:"courier_commission_rate"`
	UpdatedAt             time.Time            `json:"updated_at"`
	UpdatedBy             *uuid.UUID           `json:"updated_by,omitempty"`
}

func newConfigResponse(c models.GlobalConfig) configResponse {
	return configResponse{
		CommissionRate:        c.CommissionRate,
		CommissionBase:        c.CommissionBase,
		DeliveryBaseFee:       c.DeliveryBaseFee,
		DeliveryPerKm:         c.DeliveryPerKm,
		GeofenceRadiusM:       c.GeofenceRadiusM,
		GeofenceMaxAccuracyM:  c.GeofenceMaxAccuracyM,
		CourierCommissionRate: c.CourierCommissionRate,
		UpdatedAt:             c.UpdatedAt,
		UpdatedBy:             c.UpdatedBy,
	}
}
