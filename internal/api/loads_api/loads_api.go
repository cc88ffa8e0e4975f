// Package loads_api exposes the load service as a JSON API over chi.
package loads_api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/StubbleTrack/internal/models"
	"github.com/BearBump/StubbleTrack/internal/services/loads"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Заголовки проставляет auth-прокси перед сервисом.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type LoadsAPI struct {
	svc *loads.Service
}

func New(svc *loads.Service) *LoadsAPI {
	return &LoadsAPI{svc: svc}
}

// Routes mounts the /v1 API on r.
func (a *LoadsAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/loads", a.createLoad)
		r.Get("/loads/nearby", a.findNearby)
		r.Get("/loads/{id}", a.getLoad)
		r.Get("/loads/{id}/events", a.listLoadEvents)
		r.Get("/loads/{id}/credit", a.getCredit)
		r.Post("/loads/{id}/{trigger}", a.transition)

		r.Get("/users/{id}/loads", a.listUserLoads)
		r.Get("/users/{id}/credits", a.listCredits)
		r.Get("/users/{id}/rewards", a.userRewards)
	})
}

func (a *LoadsAPI) createLoad(w http.ResponseWriter, r *http.Request) {
	var req createLoadRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	l, err := a.svc.CreateLoad(r.Context(), actorFrom(r), req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoadDTO(l))
}

func (a *LoadsAPI) getLoad(w http.ResponseWriter, r *http.Request) {
	id, ok := loadID(w, r)
	if !ok {
		return
	}
	l, err := a.svc.GetLoad(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := toLoadDTO(l)
	out.AvailableActions = a.svc.AvailableActions(l, actorFrom(r))
	writeJSON(w, http.StatusOK, out)
}

func (a *LoadsAPI) listLoadEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := loadID(w, r)
	if !ok {
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	evs, err := a.svc.ListLoadEvents(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]eventDTO, 0, len(evs))
	for _, e := range evs {
		out = append(out, toEventDTO(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *LoadsAPI) getCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := loadID(w, r)
	if !ok {
		return
	}
	c, err := a.svc.GetCredit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditDTO(c))
}

func (a *LoadsAPI) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := loadID(w, r)
	if !ok {
		return
	}
	trigger := models.Trigger(strings.ToLower(chi.URLParam(r, "trigger")))
	switch trigger {
	case models.TriggerClaim, models.TriggerStart, models.TriggerDeliver, models.TriggerRecycle, models.TriggerCancel:
	default:
		writeError(w, &models.NotFoundError{Entity: "action", ID: string(trigger)})
		return
	}

	res, err := a.svc.Transition(r.Context(), id, trigger, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{
		Load:   toLoadDTO(res.Load),
		Event:  toEventDTO(res.Event),
		Credit: toCreditDTO(res.Credit),
	})
}

func (a *LoadsAPI) findNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := floatParam(q.Get("lat"), "lat")
	if err != nil {
		writeError(w, err)
		return
	}
	lon, err := floatParam(q.Get("lon"), "lon")
	if err != nil {
		writeError(w, err)
		return
	}
	radius := a.svc.DefaultNearbyRadiusKm()
	if raw := q.Get("radius_km"); raw != "" {
		if radius, err = floatParam(raw, "radius_km"); err != nil {
			writeError(w, err)
			return
		}
	}
	limit, _, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	found, err := a.svc.FindNearby(r.Context(), actorFrom(r), models.Coordinate{Lat: lat, Lon: lon}, radius, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]nearbyDTO, 0, len(found))
	for _, f := range found {
		out = append(out, nearbyDTO{Load: toLoadDTO(f.Load), DistanceKm: f.DistanceKm})
	}
	writeJSON(w, http.StatusOK, map[string]any{"loads": out})
}

func (a *LoadsAPI) listUserLoads(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var ls []*models.Load
	switch r.URL.Query().Get("as") {
	case "", "owner":
		ls, err = a.svc.ListLoadsByOwner(r.Context(), userID, limit, offset)
	case "agent":
		ls, err = a.svc.ListLoadsByAgent(r.Context(), userID, limit, offset)
	default:
		err = &models.ValidationError{Field: "as", Reason: "must be owner or agent"}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loads": toLoadDTOs(ls)})
}

func (a *LoadsAPI) listCredits(w http.ResponseWriter, r *http.Request) {
	cs, err := a.svc.ListCredits(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*creditDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCreditDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": out})
}

func (a *LoadsAPI) userRewards(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.UserRewards(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardsDTO{
		UserID:        sum.UserID,
		Credits:       sum.Credits,
		TotalOffsetKg: sum.TotalOffsetKg,
		TotalPoints:   sum.TotalPoints,
	})
}

func actorFrom(r *http.Request) models.Actor {
	return models.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Role: models.Role(strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
	}
}

func loadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, &models.ValidationError{Field: "id", Reason: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func floatParam(raw, name string) (float64, error) {
	if raw == "" {
		return 0, &models.ValidationError{Field: name, Reason: "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Reason: "must be a number"}
	}
	return v, nil
}

func pageParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	var limit, offset int
	var err error
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return 0, 0, &models.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, &models.ValidationError{Field: "offset", Reason: "must be a non-negative integer"}
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses. Anything unrecognised is a
// 500 and is logged; its text is not sent to the client.
func writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	msg := err.Error()
	switch {
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, models.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, models.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, models.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, models.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	default:
		slog.Error("request failed", "error", err.Error())
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDTO{Code: code, Message: msg}})
}
