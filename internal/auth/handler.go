package auth

import (
	"log/slog"
	"net/http"

	"github.com/haulhub/backend/internal/httputil"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
	"github.com/haulhub/backend/internal/validator"
)

type RegisterRequest struct {
	Email       string      `json:"email"`
	Password    string      `json:"password"`
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type Handler struct {
	svc       Service
	validator *validator.Validator
	log       *slog.Logger
}

func NewHandler(svc Service, v *validator.Validator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: v, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.validator.Decode(r, validator.Register, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	u, err := h.svc.Register(r.Context(), req.Email, req.Password, req.DisplayName, req.Role)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.validator.Decode(r, validator.Login, &req); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if err == errInvalidCredentials {
			httputil.Unauthorized(w, "invalid credentials")
			return
		}
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{Token: token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	u, err := h.svc.Get(r.Context(), actor.ID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}
