package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bundl-app/server/internal/engine"
	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/pkg/responders"
)

type createOrderRequest struct {
	AmountNeeded  float64 `json:"amountNeeded"`
	Platform      string  `json:"platform"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	InitialPledge float64 `json:"initialPledge"`
	ExpirySeconds int     `json:"expirySeconds"`
}

type pledgeRequest struct {
	OrderID      string  `json:"orderId"`
	PledgeAmount float64 `json:"pledgeAmount"`
}

// createOrder opens a new group order anchored at the creator's location.
func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := s.engine.CreateOrder(r.Context(), userIDFrom(r), engine.CreateOrderRequest{
		AmountNeeded:  req.AmountNeeded,
		Platform:      req.Platform,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		InitialPledge: req.InitialPledge,
		Expiry:        time.Duration(req.ExpirySeconds) * time.Second,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{"order": order})
}

// pledgeToOrder applies a pledge. When the pledge completes the order the
// response carries the participant phone numbers for coordination.
func (s *Server) pledgeToOrder(w http.ResponseWriter, r *http.Request) {
	var req pledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	outcome, err := s.engine.PledgeToOrder(r.Context(), userIDFrom(r), req.OrderID, req.PledgeAmount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := map[string]any{
		"order":     outcome.Order,
		"completed": outcome.Completed,
	}
	if outcome.Completed {
		response["phoneNumberMap"] = outcome.PhoneNumberMap
	}
	responders.JSON(w, http.StatusOK, response)
}

// activeOrders lists live orders near a point. latitude and longitude are
// required query parameters; radiusKm falls back to the configured default.
func (s *Server) activeOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("latitude"), 64)
	if err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidField, "latitude must be a number")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("longitude"), 64)
	if err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidField, "longitude must be a number")
		return
	}

	var radiusKm float64
	if raw := q.Get("radiusKm"); raw != "" {
		radiusKm, err = strconv.ParseFloat(raw, 64)
		if err != nil || radiusKm <= 0 {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidField, "radiusKm must be a positive number")
			return
		}
	}

	found, err := s.engine.GetActiveOrdersNear(r.Context(), lat, lon, radiusKm)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"orders": found})
}

// orderStatus returns the caller's view of a single order.
func (s *Server) orderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, "orderId is required")
		return
	}

	status, err := s.engine.GetOrderStatus(r.Context(), userIDFrom(r), orderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := map[string]any{"order": status.Order}
	if status.PhoneNumberMap != nil {
		response["phoneNumberMap"] = status.PhoneNumberMap
	}
	if status.Note != "" {
		response["note"] = status.Note
	}
	responders.JSON(w, http.StatusOK, response)
}
