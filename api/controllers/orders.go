package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/repartos-backend/api/responses"
	"github.com/angelmondragon/repartos-backend/api/validators"
	"github.com/angelmondragon/repartos-backend/internal/orders"
	"github.com/angelmondragon/repartos-backend/internal/payments"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/geo"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
)

type pointRequest struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

func (p *pointRequest) point() *geo.Point {
	if p == nil {
		return nil
	}
	return &geo.Point{Lat: p.Lat, Lng: p.Lng}
}

type orderItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

type createOrderRequest struct {
	MerchantID      uuid.UUID          `json:"merchant_id" validate:"required"`
	Items           []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   string             `json:"payment_method" validate:"required,oneof=cash_on_delivery transfer_on_delivery mp_card"`
	DeliveryAddress string             `json:"delivery_address" validate:"required,max=500"`
	DeliveryPoint   *pointRequest      `json:"delivery_point"`
	PickupAddress   string             `json:"pickup_address" validate:"required,max=500"`
	PickupPoint     *pointRequest      `json:"pickup_point"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

// OrderCreate places a customer order and its delivery leg.
func OrderCreate(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orders.ItemInput, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, orders.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		order, err := svc.Create(r.Context(), orders.CreateInput{
			Actor:           actor,
			CustomerID:      actor.ID,
			MerchantID:      req.MerchantID,
			Items:           items,
			PaymentMethod:   enums.PaymentMethod(req.PaymentMethod),
			DeliveryAddress: validators.SanitizeString(req.DeliveryAddress, 500),
			DeliveryPoint:   req.DeliveryPoint.point(),
			PickupAddress:   validators.SanitizeString(req.PickupAddress, 500),
			PickupPoint:     req.PickupPoint.point(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

// OrderDetail returns an order to one of its participants or an admin.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, logg, "orderId")
		if !ok {
			return
		}
		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderHistory lists the audit trail of an order, oldest first.
func OrderHistory(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, logg, "orderId")
		if !ok {
			return
		}
		entries, err := svc.History(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newHistoryResponse(entries))
	}
}

// OrderTransition moves an order along its lifecycle on behalf of the caller.
func OrderTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, logg, "orderId")
		if !ok {
			return
		}
		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Transition(r.Context(), orders.TransitionInput{
			OrderID: orderID,
			Actor:   actor,
			Target:  enums.OrderStatus(req.Status),
			Reason:  validators.SanitizeString(req.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// OrderPayment returns a MercadoPago checkout URL for a card order.
func OrderPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, logg)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, logg, "orderId")
		if !ok {
			return
		}
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "online payments are not configured"))
			return
		}
		checkout, err := svc.CreateCheckout(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, checkout)
	}
}
