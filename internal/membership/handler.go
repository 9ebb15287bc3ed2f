// internal/membership/handler.go
package membership

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/JaviNavarroB/Cierzo/internal/auth"
	"github.com/JaviNavarroB/Cierzo/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the user endpoints. /profile requires a bearer token.
func (h *Handler) Routes(parser auth.TokenParser) chi.Router {
	r := chi.NewRouter()
	r.Post("/users/register", h.handleRegister)
	r.Post("/users/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(parser))
		r.Get("/profile", h.handleGetProfile)
		r.Put("/profile", h.handleUpdateProfile)
	})
	return r
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nombre      string `json:"Nombre"`
		Correo      string `json:"Correo"`
		Contrasenya string `json:"Contrasenya"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Faltan datos")
		return
	}

	id, err := h.service.Register(r.Context(), RegisterRequest{
		Name:     req.Nombre,
		Email:    req.Correo,
		Password: req.Contrasenya,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNameRequired):
			httpx.Error(w, http.StatusBadRequest, "El nombre es requerido")
		case errors.Is(err, ErrCredentialsRequired):
			httpx.Error(w, http.StatusBadRequest, "Correo y contraseña son requeridos")
		case errors.Is(err, ErrInvalidEmail):
			httpx.Error(w, http.StatusBadRequest, "Correo no válido")
		case errors.Is(err, ErrEmailInUse):
			httpx.Error(w, http.StatusConflict, "Ese correo ya está en uso.")
		case errors.Is(err, ErrRateLimited):
			httpx.Error(w, http.StatusTooManyRequests, "Demasiadas peticiones, inténtalo más tarde")
		default:
			log.Error().Err(err).Msg("register user")
			httpx.Error(w, http.StatusInternalServerError, "Error al registrar el usuario")
		}
		return
	}

	httpx.JSON(w, http.StatusCreated, httpx.M{"userId": id})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Correo      string `json:"Correo"`
		Contrasenya string `json:"Contrasenya"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Faltan datos")
		return
	}

	session, err := h.service.Login(r.Context(), req.Correo, req.Contrasenya)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			httpx.Error(w, http.StatusUnauthorized, "Credenciales inválidas")
		case errors.Is(err, ErrRateLimited):
			httpx.Error(w, http.StatusTooManyRequests, "Demasiadas peticiones, inténtalo más tarde")
		default:
			log.Error().Err(err).Msg("login")
			httpx.Error(w, http.StatusInternalServerError, "Error al iniciar sesión")
		}
		return
	}

	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == 0 {
		httpx.Error(w, http.StatusUnauthorized, "Usuario no autenticado")
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		log.Error().Err(err).Int64("user_id", userID).Msg("get profile")
		httpx.Error(w, http.StatusInternalServerError, "Error obteniendo perfil")
		return
	}

	httpx.JSON(w, http.StatusOK, httpx.M{"user": user})
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == 0 {
		httpx.Error(w, http.StatusUnauthorized, "Usuario no autenticado")
		return
	}

	var req struct {
		Nombre      *string `json:"nombre"`
		Apellidos   *string `json:"apellidos"`
		Correo      *string `json:"correo"`
		Foto        *string `json:"foto"`
		Genero      *string `json:"genero"`
		Telefono    *string `json:"telefono"`
		IDRol       *int64  `json:"id_rol"`
		OldPassword string  `json:"oldPassword"`
		NewPassword string  `json:"newPassword"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "Faltan datos")
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), userID, ProfileUpdate{
		Name:        req.Nombre,
		Surnames:    req.Apellidos,
		Email:       req.Correo,
		Photo:       req.Foto,
		Gender:      req.Genero,
		Phone:       req.Telefono,
		RoleID:      req.IDRol,
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		status, msg := profileError(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Int64("user_id", userID).Msg("update profile")
		}
		httpx.Error(w, status, msg)
		return
	}

	httpx.JSON(w, http.StatusOK, httpx.M{"message": "Perfil actualizado", "user": user})
}

func profileError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidEmail):
		return http.StatusBadRequest, "Correo no válido"
	case errors.Is(err, ErrEmailInUse):
		return http.StatusBadRequest, "Ese correo ya está en uso."
	case errors.Is(err, ErrInvalidGender):
		return http.StatusBadRequest, "Género no válido"
	case errors.Is(err, ErrOldPasswordRequired):
		return http.StatusBadRequest, "Debes indicar tu contraseña actual para cambiarla."
	case errors.Is(err, ErrWrongPassword):
		return http.StatusUnauthorized, "La contraseña actual es incorrecta"
	case errors.Is(err, ErrWeakPassword):
		return http.StatusBadRequest, "La nueva contraseña debe tener al menos 6 caracteres"
	case errors.Is(err, ErrNothingToUpdate):
		return http.StatusBadRequest, "No se enviaron datos para actualizar"
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound, "Usuario no encontrado"
	default:
		return http.StatusInternalServerError, "Error actualizando perfil"
	}
}
