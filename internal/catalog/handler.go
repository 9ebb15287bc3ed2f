// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/JaviNavarroB/Cierzo/internal/httpx"
	"github.com/JaviNavarroB/Cierzo/internal/membership"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the read-only catalog endpoints. Every response keeps its
// named key populated, with an empty value on failure.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/deportes", h.handleListSports)
	r.Get("/deportes/{id}", h.handleGetSport)
	r.Get("/equipos", h.handleListTeams)
	r.Get("/equipos/{id}", h.handleGetTeam)
	r.Get("/equipos/{id}/inscripciones", h.handleListTeamEnrollments)
	r.Get("/events/events", h.handleListEvents)
	r.Get("/events/event/{id}", h.handleGetEvent)
	return r
}

func (h *Handler) handleListSports(w http.ResponseWriter, r *http.Request) {
	sports, err := h.service.ListSports(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list sports")
		httpx.JSON(w, http.StatusInternalServerError, httpx.M{"message": "Error al obtener deportes", "deportes": []Sport{}})
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.M{"deportes": sports})
}

func (h *Handler) handleGetSport(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.JSON(w, http.StatusBadRequest, httpx.M{"message": "ID inválido", "deporte": nil})
		return
	}

	sport, err := h.service.GetSport(r.Context(), id)
	switch {
	case errors.Is(err, ErrSportNotFound):
		httpx.JSON(w, http.StatusNotFound, httpx.M{"message": "Deporte no encontrado", "deporte": nil})
	case err != nil:
		log.Error().Err(err).Int64("sport_id", id).Msg("get sport")
		httpx.JSON(w, http.StatusInternalServerError, httpx.M{"message": "Error al obtener deporte", "deporte": nil})
	default:
		httpx.JSON(w, http.StatusOK, httpx.M{"deporte": sport})
	}
}

func (h *Handler) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.service.ListTeams(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list teams")
		httpx.JSON(w, http.StatusInternalServerError, httpx.M{"message": "Error al obtener equipos", "equipos": []TeamSummary{}})
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.M{"equipos": teams})
}

func (h *Handler) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.JSON(w, http.StatusBadRequest, httpx.M{"message": "ID inválido", "equipo": nil})
		return
	}

	team, err := h.service.GetTeam(r.Context(), id)
	switch {
	case errors.Is(err, ErrTeamNotFound):
		httpx.JSON(w, http.StatusNotFound, httpx.M{"message": "Equipo no encontrado", "equipo": nil})
	case err != nil:
		log.Error().Err(err).Int64("team_id", id).Msg("get team")
		httpx.JSON(w, http.StatusInternalServerError, httpx.M{"message": "Error al obtener equipo", "equipo": nil})
	default:
		httpx.JSON(w, http.StatusOK, httpx.M{"equipo": team})
	}
}

func (h *Handler) handleListTeamEnrollments(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.JSON(w, http.StatusBadRequest, httpx.M{"inscripciones": []TeamEnrollment{}})
		return
	}

	enrollments, err := h.service.ListTeamEnrollments(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("team_id", id).Msg("list team enrollments")
		httpx.JSON(w, http.StatusInternalServerError, httpx.M{"inscripciones": []TeamEnrollment{}})
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.M{"inscripciones": enrollments})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("rol")
	if role != "" {
		parsed, err := membership.RoleFromName(role)
		if err != nil {
			httpx.JSON(w, http.StatusBadRequest, httpx.M{"message": "Rol no válido", "events": []Event{}})
			return
		}
		role = parsed.Name()
	}

	events, err := h.service.ListAvailableEvents(r.Context(), role)
	if err != nil {
		log.Error().Err(err).Msg("list events")
		httpx.JSON(w, http.StatusInternalServerError, httpx.M{"message": "Error al obtener eventos", "events": []Event{}})
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.M{"events": events})
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.IDParam(r, "id")
	if !ok {
		httpx.JSON(w, http.StatusBadRequest, httpx.M{"message": "ID inválido", "event": nil})
		return
	}

	event, err := h.service.GetEvent(r.Context(), id)
	switch {
	case errors.Is(err, ErrEventNotFound):
		httpx.JSON(w, http.StatusNotFound, httpx.M{"message": "Evento no encontrado", "event": nil})
	case err != nil:
		log.Error().Err(err).Int64("event_id", id).Msg("get event")
		httpx.JSON(w, http.StatusInternalServerError, httpx.M{"message": "Error al obtener evento", "event": nil})
	default:
		httpx.JSON(w, http.StatusOK, httpx.M{"event": event})
	}
}
