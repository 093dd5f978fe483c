package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ride-hail-driver/internal/common/contextx"
	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/coordinator"
	"ride-hail-driver/internal/domain/driver"
	"ride-hail-driver/internal/restapi"
	"ride-hail-driver/internal/status"
)

// StatsSource is the REST slice the control surface proxies for the UI.
type StatsSource interface {
	TodayStats(ctx context.Context) (restapi.Stats, error)
	WeeklyStats(ctx context.Context) (restapi.Stats, error)
}

// Handler exposes the agent's loopback control API: the surface the
// on-device UI drives instead of linking the agent in-process.
type Handler struct {
	session *driver.Session
	sync    *status.Synchronizer
	coord   *coordinator.Coordinator
	stats   StatsSource
	logger  *slog.Logger
}

func NewHandler(
	session *driver.Session,
	sync *status.Synchronizer,
	coord *coordinator.Coordinator,
	stats StatsSource,
	logger *slog.Logger,
) *Handler {
	return &Handler{session: session, sync: sync, coord: coord, stats: stats, logger: logger}
}

// RegisterRoutes mounts the control endpoints on the provided mux.
func (handler *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /session", handler.handleSession)
	mux.HandleFunc("POST /app/state", handler.handleAppState)
	mux.HandleFunc("POST /availability", handler.handleAvailability)
	mux.HandleFunc("POST /rides/{ride_id}/accept", handler.handleAccept)
	mux.HandleFunc("POST /rides/{ride_id}/decline", handler.handleDecline)
	mux.HandleFunc("GET /stats/today", handler.handleTodayStats)
	mux.HandleFunc("GET /stats/weekly", handler.handleWeeklyStats)
	mux.HandleFunc("GET /health", handler.handleHealth)
}

type sessionResponse struct {
	DriverID     string     `json:"driver_id"`
	Availability string     `json:"availability"`
	Connection   string     `json:"connection"`
	Position     *geoPoint  `json:"position,omitempty"`
	Offer        *offerView `json:"offer,omitempty"`
	OfferState   string     `json:"offer_state"`
}

type geoPoint struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

type offerView struct {
	RideID            string  `json:"ride_id"`
	PickupLat         float64 `json:"pickup_lat"`
	PickupLng         float64 `json:"pickup_lng"`
	DropoffLat        float64 `json:"dropoff_lat"`
	DropoffLng        float64 `json:"dropoff_lng"`
	EstimatedFare     float64 `json:"estimated_fare,omitempty"`
	EstimatedDistance float64 `json:"estimated_distance_km,omitempty"`
}

func (handler *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r)

	snap := handler.session.Snapshot()
	view := handler.coord.Snapshot()

	resp := sessionResponse{
		DriverID:     snap.DriverID,
		Availability: string(snap.Availability),
		Connection:   string(snap.Connection),
		OfferState:   string(view.State),
	}
	if snap.Position != nil {
		resp.Position = &geoPoint{
			Lat:       snap.Position.Latitude,
			Lng:       snap.Position.Longitude,
			Timestamp: snap.Position.Timestamp,
		}
	}
	if view.Offer != nil {
		resp.Offer = &offerView{
			RideID:            view.Offer.ID,
			PickupLat:         view.Offer.Pickup.Latitude,
			PickupLng:         view.Offer.Pickup.Longitude,
			DropoffLat:        view.Offer.Dropoff.Latitude,
			DropoffLng:        view.Offer.Dropoff.Longitude,
			EstimatedFare:     view.Offer.EstimatedFare,
			EstimatedDistance: view.Offer.EstimatedDistance,
		}
	}

	handler.jsonResponse(ctx, w, http.StatusOK, resp)
}

type appStateRequest struct {
	State string `json:"state"`
}

func (handler *Handler) handleAppState(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r)

	var req appStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	state := driver.AppState(strings.ToUpper(strings.TrimSpace(req.State)))
	if !state.Valid() {
		handler.httpError(ctx, w, http.StatusBadRequest, "Unknown app state", nil)
		return
	}

	if err := handler.sync.HandleAppState(ctx, state); err != nil {
		handler.syncError(ctx, w, err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, nil)
}

type availabilityRequest struct {
	Availability string `json:"availability"`
}

func (handler *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r)

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	availability, err := driver.ParseAvailability(req.Availability)
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Unknown availability", err)
		return
	}

	if err := handler.sync.SetAvailability(ctx, availability); err != nil {
		handler.syncError(ctx, w, err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, nil)
}

type declineRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (handler *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r)
	rideID := r.PathValue("ride_id")

	if err := handler.coord.Accept(ctx, rideID); err != nil {
		handler.coordError(ctx, w, err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusAccepted, nil)
}

func (handler *Handler) handleDecline(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r)
	rideID := r.PathValue("ride_id")

	var req declineRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	if err := handler.coord.Decline(ctx, rideID, req.Reason); err != nil {
		handler.coordError(ctx, w, err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, nil)
}

func (handler *Handler) handleTodayStats(w http.ResponseWriter, r *http.Request) {
	handler.proxyStats(w, r, "today", handler.stats.TodayStats)
}

func (handler *Handler) handleWeeklyStats(w http.ResponseWriter, r *http.Request) {
	handler.proxyStats(w, r, "weekly", handler.stats.WeeklyStats)
}

func (handler *Handler) proxyStats(w http.ResponseWriter, r *http.Request, window string, fetch func(context.Context) (restapi.Stats, error)) {
	ctx := handler.withReqID(r)

	stats, err := fetch(ctx)
	if err != nil {
		var apiErr *restapi.APIError
		if errors.As(err, &apiErr) {
			handler.httpError(ctx, w, http.StatusBadGateway, "Backend rejected stats request", err)
			return
		}
		handler.httpError(ctx, w, http.StatusBadGateway, "Backend unreachable", err)
		return
	}

	log.Debug(ctx, handler.logger, "stats_fetched", "Stats proxied", "window", window)
	handler.jsonResponse(ctx, w, http.StatusOK, stats)
}

func (handler *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r)
	handler.jsonResponse(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncError maps synchronizer failures onto HTTP statuses.
func (handler *Handler) syncError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, status.ErrPermissionBlocked) {
		handler.httpError(ctx, w, http.StatusConflict, "Location permission blocks going online", err)
		return
	}
	handler.httpError(ctx, w, http.StatusBadGateway, "Status propagation failed", err)
}

// coordError maps coordinator failures onto HTTP statuses.
func (handler *Handler) coordError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrNoActiveOffer), errors.Is(err, coordinator.ErrOfferMismatch):
		handler.httpError(ctx, w, http.StatusNotFound, "No matching offer", err)
	case errors.Is(err, coordinator.ErrAcceptInFlight):
		handler.httpError(ctx, w, http.StatusConflict, "Acceptance already in flight", err)
	default:
		handler.httpError(ctx, w, http.StatusInternalServerError, "Ride action failed", err)
	}
}

// jsonResponse encodes to a buffer first so the status can be controlled
// on encoding failure.
func (handler *Handler) jsonResponse(ctx context.Context, w http.ResponseWriter, statusCode int, data any) {
	var buf []byte
	var err error

	if data != nil {
		buf, err = json.Marshal(data)
		if err != nil {
			log.Error(ctx, handler.logger, "response_encode_failed", "Failed to encode response", err)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	} else {
		buf = []byte("{}")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf)
}

func (handler *Handler) httpError(ctx context.Context, w http.ResponseWriter, statusCode int, msg string, err error) {
	action := "request_failed"
	if statusCode >= 500 {
		action = "http_internal_error"
	} else if statusCode == http.StatusBadRequest {
		action = "validation_failed"
	}
	log.Error(ctx, handler.logger, action, msg, err)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, statusCode, errBody{Error: msg})
}

func (handler *Handler) withReqID(r *http.Request) context.Context {
	reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if reqID == "" {
		return contextx.WithNewRequestID(r.Context())
	}
	return contextx.WithRequestID(r.Context(), reqID)
}
