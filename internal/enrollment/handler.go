// internal/enrollment/handler.go
package enrollment

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/JaviNavarroB/Cierzo/internal/auth"
	"github.com/JaviNavarroB/Cierzo/internal/httpx"
)

type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Routes mounts both enrollment endpoints behind bearer authentication.
func (h *Handler) Routes(parser auth.TokenParser) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware(parser))
	r.Post("/inscripcionEvento", h.handleEnrollEvent)
	r.Post("/inscripcionEquipo", h.handleEnrollTeam)
	return r
}

type enrollEventRequest struct {
	EventID  int64  `json:"eventId" validate:"required,gt=0"`
	Password string `json:"password" validate:"required"`
}

type enrollTeamRequest struct {
	TeamID   int64  `json:"teamId" validate:"required,gt=0"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleEnrollEvent(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == 0 {
		httpx.Error(w, http.StatusUnauthorized, "Usuario no autenticado")
		return
	}

	var req enrollEventRequest
	if err := httpx.Decode(r, &req); err != nil || h.validate.Struct(req) != nil {
		httpx.Error(w, http.StatusBadRequest, "Faltan datos")
		return
	}

	rec, err := h.service.EnrollEvent(r.Context(), userID, req.EventID, req.Password)
	if err != nil {
		status, msg := errorResponse(err, "evento")
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Int64("user_id", userID).Int64("event_id", req.EventID).Msg("enroll in event")
		}
		httpx.Error(w, status, msg)
		return
	}

	httpx.JSON(w, http.StatusOK, httpx.M{"success": true, "inscripcion": rec})
}

func (h *Handler) handleEnrollTeam(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == 0 {
		httpx.Error(w, http.StatusUnauthorized, "Usuario no autenticado")
		return
	}

	var req enrollTeamRequest
	if err := httpx.Decode(r, &req); err != nil || h.validate.Struct(req) != nil {
		httpx.Error(w, http.StatusBadRequest, "Faltan datos")
		return
	}

	res, err := h.service.EnrollTeam(r.Context(), userID, req.TeamID, req.Password)
	if err != nil {
		status, msg := errorResponse(err, "equipo")
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Int64("user_id", userID).Int64("team_id", req.TeamID).Msg("enroll in team")
		}
		httpx.Error(w, status, msg)
		return
	}

	httpx.JSON(w, http.StatusOK, httpx.M{"success": true, "inscripcion": res.Record, "user": res.User})
}

// errorResponse maps an enrollment failure to its status and message.
// target is "evento" or "equipo".
func errorResponse(err error, target string) (int, string) {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized, "Usuario no autenticado"
	case errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized, "Contraseña incorrecta"
	case errors.Is(err, ErrEventNotFound):
		return http.StatusNotFound, "Evento no encontrado"
	case errors.Is(err, ErrTeamNotFound):
		return http.StatusNotFound, "Equipo no encontrado"
	case errors.Is(err, ErrEventExpired):
		return http.StatusBadRequest, "No puedes inscribirte a un evento pasado"
	case errors.Is(err, ErrRegistrationClosed):
		return http.StatusBadRequest, "El plazo de inscripción ha finalizado"
	case errors.Is(err, ErrCapacityExceeded):
		return http.StatusBadRequest, "El evento ya ha alcanzado el cupo máximo"
	case errors.Is(err, ErrAlreadyEnrolled):
		return http.StatusConflict, "Ya estás inscrito en este " + target
	default:
		return http.StatusInternalServerError, "Error al inscribir en el " + target
	}
}
