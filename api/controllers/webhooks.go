package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/repartos-backend/api/responses"
	"github.com/angelmondragon/repartos-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/repartos-backend/pkg/errors"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/mercadopago"
)

const maxWebhookBody = 64 << 10

// mpWebhookBody accepts data.id as either a JSON string or number.
type mpWebhookBody struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// MercadoPagoWebhook resolves payment notifications. When secret is set the
// x-signature header must match; query parameters fill in for a missing body.
func MercadoPagoWebhook(svc payments.Service, secret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var body mpWebhookBody
		if len(bytes.TrimSpace(payload)) > 0 {
			if err := json.Unmarshal(payload, &body); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification body"))
				return
			}
		}

		var n payments.Notification
		n.Type = firstNonEmpty(body.Type, r.URL.Query().Get("type"), r.URL.Query().Get("topic"))
		n.Action = body.Action
		n.Data.ID = firstNonEmpty(rawID(body.Data.ID), r.URL.Query().Get("data.id"), r.URL.Query().Get("id"))

		if secret != "" {
			if err := mercadopago.VerifySignature(secret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), n.Data.ID); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook signature"))
				return
			}
		}

		outcome, err := svc.HandleNotification(ctx, n)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"payment_id": n.Data.ID,
				"outcome":    string(outcome),
			}), "mercadopago notification processed")
		}
		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}

func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
